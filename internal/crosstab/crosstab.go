// Package crosstab reconciles one engine instance's in-memory state with
// writes made by other instances.
//
// Each instance subscribes to the storage-change bus, which by construction
// only delivers writes made by OTHER instances. Reconciliation is
// last-writer-wins with a deep-equality guard: an incoming value replaces
// the in-memory copy only when it actually differs, and there is no merging
// of concurrent changes. The one deliberate asymmetry: a registry change
// triggers a leaderboard refresh but never overwrites the live session —
// adopting a freshly-merged registry record for the signed-in user could
// clobber a commit the user just made in this instance.
package crosstab

import (
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
	"time"

	"github.com/sakif/rewards-engine/internal/model"
	"github.com/sakif/rewards-engine/internal/notify"
)

// Cooldown is the shared minimum gap between processed notifications.
//
// The cooldown is global across all keys, not per-key, so a burst of
// distinct legitimate updates landing within one window loses all but the
// first. That lossiness is inherited behavior: the throttle exists to break
// write→notify→write feedback loops, and the cost of widening it to per-key
// was never paid.
const Cooldown = 100 * time.Millisecond

// Reconciler is the in-memory state a Sync keeps consistent. The service
// layer implements it over its session and leaderboard caches.
type Reconciler interface {
	SessionSnapshot() (model.UserRecord, bool)
	AdoptSession(model.UserRecord)
	DropSessionMemory()
	LeaderboardSnapshot() []model.LeaderboardEntry
	AdoptLeaderboard([]model.LeaderboardEntry)
	// RefreshLeaderboard re-derives the leaderboard from persisted state,
	// the reaction to registry-level changes.
	RefreshLeaderboard(ctx context.Context)
}

// Sync consumes bus events and reconciles the Reconciler's state.
type Sync struct {
	bus    notify.Bus
	origin string
	state  Reconciler
	logger *slog.Logger

	now           func() time.Time
	lastProcessed time.Time
}

func New(bus notify.Bus, origin string, state Reconciler, logger *slog.Logger) *Sync {
	return &Sync{
		bus:    bus,
		origin: origin,
		state:  state,
		logger: logger,
		now:    time.Now,
	}
}

// Run subscribes and processes events until ctx is cancelled. Call it in its
// own goroutine.
func (s *Sync) Run(ctx context.Context) {
	events, cancel := s.bus.Subscribe(ctx, s.origin)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			s.Handle(ctx, e)
		}
	}
}

// Handle processes one notification. Exported so tests can drive the
// dispatch without a live bus.
func (s *Sync) Handle(ctx context.Context, e notify.Event) {
	switch e.Key {
	case model.KeySession, model.KeyRegistry, model.KeyLeaderboard:
	default:
		return // not ours; does not consume the cooldown
	}

	now := s.now()
	if !s.lastProcessed.IsZero() && now.Sub(s.lastProcessed) < Cooldown {
		return
	}
	s.lastProcessed = now

	switch e.Key {
	case model.KeySession:
		s.reconcileSession(e)
	case model.KeyRegistry:
		// Leaderboard refresh only. The live session is deliberately left
		// alone: registry data may be a stale merge from another instance.
		s.state.RefreshLeaderboard(ctx)
	case model.KeyLeaderboard:
		s.reconcileLeaderboard(e)
	}
}

func (s *Sync) reconcileSession(e notify.Event) {
	if e.NewValue == "" {
		// Another instance logged out.
		if _, ok := s.state.SessionSnapshot(); ok {
			s.state.DropSessionMemory()
		}
		return
	}

	var incoming model.UserRecord
	if err := json.Unmarshal([]byte(e.NewValue), &incoming); err != nil {
		s.logger.Warn("ignoring undecodable session notification",
			slog.String("error", err.Error()),
		)
		return
	}

	current, ok := s.state.SessionSnapshot()
	if ok && reflect.DeepEqual(current, incoming) {
		return
	}
	s.state.AdoptSession(incoming)
}

func (s *Sync) reconcileLeaderboard(e notify.Event) {
	var incoming []model.LeaderboardEntry
	if err := json.Unmarshal([]byte(e.NewValue), &incoming); err != nil {
		s.logger.Warn("ignoring undecodable leaderboard notification",
			slog.String("error", err.Error()),
		)
		return
	}

	if reflect.DeepEqual(s.state.LeaderboardSnapshot(), incoming) {
		return
	}
	s.state.AdoptLeaderboard(incoming)
}
