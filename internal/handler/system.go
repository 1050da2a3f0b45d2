package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/rewards-engine/internal/apperror"
	"github.com/sakif/rewards-engine/internal/lifecycle"
	"github.com/sakif/rewards-engine/internal/service"
)

// SystemHandler serves the settle-state and livestream passthrough
// endpoints the community pages poll.
type SystemHandler struct {
	svc     *service.RewardsService
	machine *lifecycle.Machine
	logger  *slog.Logger
}

func NewSystemHandler(svc *service.RewardsService, machine *lifecycle.Machine, logger *slog.Logger) *SystemHandler {
	return &SystemHandler{svc: svc, machine: machine, logger: logger}
}

// HandleHealth reports the settle state. Pages hold their first render
// until this says ready; load balancers get a 503 before that.
// GET /api/health
func (h *SystemHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	state := h.machine.State()
	status := http.StatusOK
	if state != lifecycle.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"state": state.String(),
		"ready": state == lifecycle.Ready,
	})
}

type navigateRequest struct {
	Route string `json:"route"`
}

// HandleNavigate runs a route change through the settle machine and tells
// the page whether to transition softly or force a full reload.
// POST /api/navigate
func (h *SystemHandler) HandleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Route == "" {
		writeError(w, apperror.ValidationFailed("route", "route is required"))
		return
	}

	kind, err := h.machine.Navigate(r.Context(), req.Route)
	if err != nil {
		// Cancelled mid-transition; the page gave up, nothing to report.
		return
	}

	resp := map[string]string{"kind": "soft"}
	if kind == lifecycle.HardReload {
		resp["kind"] = "hard"
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleLivestreamGet returns the opaque livestream value.
// GET /api/livestream
func (h *SystemHandler) HandleLivestreamGet(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.svc.LivestreamStatus(r.Context())
	if !ok {
		writeError(w, apperror.NotFound("livestream status", "current"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

// HandleLivestreamPut stores the opaque livestream value for the widget.
// PUT /api/livestream
func (h *SystemHandler) HandleLivestreamPut(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 64<<10))
	if err != nil {
		writeError(w, apperror.ValidationFailed("body", "unreadable body"))
		return
	}
	if err := h.svc.SetLivestreamStatus(r.Context(), raw); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
