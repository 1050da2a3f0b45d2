// Package handler exposes the engine over a JSON API.
//
// Handlers parse requests and write responses; every rule lives in the
// service layer. There are no HTML pages here — the community site's pages
// are a separate collaborator that talks to these endpoints.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/rewards-engine/internal/apperror"
	"github.com/sakif/rewards-engine/internal/auth"
	"github.com/sakif/rewards-engine/internal/model"
	"github.com/sakif/rewards-engine/internal/service"
)

// RewardsHandler adapts HTTP requests onto the RewardsService.
type RewardsHandler struct {
	svc    *service.RewardsService
	logger *slog.Logger
}

func NewRewardsHandler(svc *service.RewardsService, logger *slog.Logger) *RewardsHandler {
	return &RewardsHandler{svc: svc, logger: logger}
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type pointsRequest struct {
	Amount      int64                 `json:"amount"`
	Description string                `json:"description"`
	Type        model.TransactionType `json:"type"`
}

type profileRequest struct {
	Name           string            `json:"name"`
	Avatar         string            `json:"avatar"`
	PhoneNumber    string            `json:"phoneNumber"`
	SocialAccounts map[string]string `json:"socialAccounts"`
}

// userResponse strips credentials before a record leaves the API.
type userResponse struct {
	model.UserRecord
	PasswordHash  string `json:"passwordHash,omitempty"`
	CredentialRef string `json:"credentialRef,omitempty"`
}

func sanitize(rec model.UserRecord) userResponse {
	return userResponse{UserRecord: rec, PasswordHash: "", CredentialRef: ""}
}

// HandleRegister creates an account and signs the caller in.
// POST /api/register
func (h *RewardsHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}

	result, err := h.svc.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setAuthCookie(w, result.Token)
	writeJSON(w, http.StatusCreated, sanitize(result.User))
}

// HandleLogin verifies credentials and activates the session.
// POST /api/login
func (h *RewardsHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}

	result, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setAuthCookie(w, result.Token)
	writeJSON(w, http.StatusOK, sanitize(result.User))
}

// HandleLogout clears the active session. Always succeeds.
// POST /api/logout
func (h *RewardsHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.svc.Logout(r.Context())

	// Expire the browser-side auth cookie too.
	http.SetCookie(w, &http.Cookie{
		Name:     model.AuthCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// HandleMe returns the active session's record.
// GET /api/me (auth required)
func (h *RewardsHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.svc.CurrentUser(r.Context())
	if !ok {
		writeError(w, apperror.NotFound("session", "active"))
		return
	}
	writeJSON(w, http.StatusOK, sanitize(rec))
}

// HandlePoints applies a balance change to the active session.
// POST /api/points (auth required)
func (h *RewardsHandler) HandlePoints(w http.ResponseWriter, r *http.Request) {
	var req pointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}
	if req.Amount == 0 {
		writeError(w, apperror.ValidationFailed("amount", "amount must be non-zero"))
		return
	}

	rec, err := h.svc.UpdateJackPoints(r.Context(), req.Amount, req.Description, req.Type)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sanitize(rec))
}

// HandleProfile edits profile fields on the active session.
// PUT /api/profile (auth required)
func (h *RewardsHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}

	rec, err := h.svc.UpdateProfile(r.Context(), service.ProfileUpdate{
		Name:           req.Name,
		Avatar:         req.Avatar,
		PhoneNumber:    req.PhoneNumber,
		SocialAccounts: req.SocialAccounts,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sanitize(rec))
}

type leaderboardResponse struct {
	Entries []model.LeaderboardEntry `json:"entries"`
	// You is the signed-in caller's leaderboard position (1-based), 0 when
	// anonymous or unranked.
	You int `json:"you,omitempty"`
}

// HandleLeaderboard returns the sorted leaderboard. Public; a signed-in
// caller additionally gets their own position.
// GET /api/leaderboard
func (h *RewardsHandler) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries := h.svc.Leaderboard(r.Context())

	resp := leaderboardResponse{Entries: entries}
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		key := model.NormalizeEmail(id.Email)
		for i, e := range entries {
			if e.Email == key {
				resp.You = i + 1
				break
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *RewardsHandler) setAuthCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     model.AuthCookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(auth.TokenTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
