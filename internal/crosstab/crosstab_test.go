package crosstab

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sakif/rewards-engine/internal/model"
	"github.com/sakif/rewards-engine/internal/notify"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeReconciler records every reconciliation call so tests can assert
// exactly which reactions an event triggered. The mutex matters only for
// the Run loop test, where the Sync goroutine writes while the test reads.
type fakeReconciler struct {
	mu         sync.Mutex
	session    model.UserRecord
	hasSession bool
	board      []model.LeaderboardEntry

	adoptedSessions    int
	droppedSessions    int
	adoptedBoards      int
	refreshedFromStore int
}

func (f *fakeReconciler) SessionSnapshot() (model.UserRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.hasSession
}

func (f *fakeReconciler) AdoptSession(rec model.UserRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = rec
	f.hasSession = true
	f.adoptedSessions++
}

func (f *fakeReconciler) DropSessionMemory() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = model.UserRecord{}
	f.hasSession = false
	f.droppedSessions++
}

func (f *fakeReconciler) LeaderboardSnapshot() []model.LeaderboardEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.board
}

func (f *fakeReconciler) AdoptLeaderboard(entries []model.LeaderboardEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.board = entries
	f.adoptedBoards++
}

func (f *fakeReconciler) RefreshLeaderboard(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshedFromStore++
}

func (f *fakeReconciler) sessionAdoptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adoptedSessions
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSync returns a Sync with a controllable clock, starting outside
// any cooldown window.
func newTestSync(t *testing.T, state *fakeReconciler) (*Sync, *time.Time) {
	t.Helper()
	s := New(notify.NewMemoryBus(), "local", state, testLogger())
	clock := time.UnixMilli(1_700_000_000_000)
	s.now = func() time.Time { return clock }
	return s, &clock
}

func sessionJSON(t *testing.T, rec model.UserRecord) string {
	t.Helper()
	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshaling session: %v", err)
	}
	return string(raw)
}

// =========================================================================
// KEY DISPATCH TESTS
// =========================================================================

func TestHandle_IgnoresForeignKeys(t *testing.T) {
	state := &fakeReconciler{}
	s, clock := newTestSync(t, state)
	ctx := context.Background()

	s.Handle(ctx, notify.Event{Key: "someone_elses_key", NewValue: "x", Origin: "other"})

	if state.adoptedSessions+state.adoptedBoards+state.refreshedFromStore+state.droppedSessions != 0 {
		t.Error("a foreign key triggered a reconciliation")
	}

	// A foreign key must not consume the cooldown either: an engine event
	// immediately after still processes.
	s.Handle(ctx, notify.Event{
		Key:      model.KeySession,
		NewValue: sessionJSON(t, model.UserRecord{Email: "a@example.com"}),
		Origin:   "other",
	})
	_ = clock
	if state.adoptedSessions != 1 {
		t.Error("engine event right after a foreign key was throttled; foreign keys must not consume the cooldown")
	}
}

func TestHandle_RegistryChangeRefreshesLeaderboardOnly(t *testing.T) {
	state := &fakeReconciler{
		session:    model.UserRecord{Email: "me@example.com", JackPoints: 1000},
		hasSession: true,
	}
	s, _ := newTestSync(t, state)

	raw, _ := json.Marshal(model.Registry{"me@example.com": {Email: "me@example.com", JackPoints: 1}})
	s.Handle(context.Background(), notify.Event{
		Key:      model.KeyRegistry,
		NewValue: string(raw),
		Origin:   "other",
	})

	if state.refreshedFromStore != 1 {
		t.Error("a registry change must refresh the leaderboard")
	}
	if state.adoptedSessions != 0 || state.session.JackPoints != 1000 {
		t.Error("a registry change must never overwrite the live session")
	}
}

// =========================================================================
// SESSION RECONCILIATION TESTS
// =========================================================================

func TestHandle_AdoptsChangedSession(t *testing.T) {
	state := &fakeReconciler{
		session:    model.UserRecord{Email: "a@example.com", JackPoints: 100},
		hasSession: true,
	}
	s, _ := newTestSync(t, state)

	incoming := model.UserRecord{Email: "a@example.com", JackPoints: 700}
	s.Handle(context.Background(), notify.Event{
		Key:      model.KeySession,
		NewValue: sessionJSON(t, incoming),
		Origin:   "other",
	})

	if state.adoptedSessions != 1 || state.session.JackPoints != 700 {
		t.Errorf("session not adopted: %+v", state.session)
	}
}

func TestHandle_EqualSessionIsNotReadopted(t *testing.T) {
	current := model.UserRecord{
		Email:        "a@example.com",
		JackPoints:   100,
		Transactions: []model.Transaction{{ID: "t1", Amount: 100}},
	}
	state := &fakeReconciler{session: current, hasSession: true}
	s, _ := newTestSync(t, state)

	s.Handle(context.Background(), notify.Event{
		Key:      model.KeySession,
		NewValue: sessionJSON(t, current.Clone()),
		Origin:   "other",
	})

	if state.adoptedSessions != 0 {
		t.Error("a deep-equal session must not be re-adopted (that is the echo guard)")
	}
}

func TestHandle_EmptySessionValueDropsMemory(t *testing.T) {
	state := &fakeReconciler{
		session:    model.UserRecord{Email: "a@example.com"},
		hasSession: true,
	}
	s, _ := newTestSync(t, state)

	// Another instance logged out: the event carries an empty new value.
	s.Handle(context.Background(), notify.Event{
		Key:    model.KeySession,
		Origin: "other",
	})

	if state.droppedSessions != 1 || state.hasSession {
		t.Error("an empty session value must drop the in-memory session")
	}
}

func TestHandle_UndecodableSessionIgnored(t *testing.T) {
	state := &fakeReconciler{}
	s, _ := newTestSync(t, state)

	s.Handle(context.Background(), notify.Event{
		Key:      model.KeySession,
		NewValue: "{garbage",
		Origin:   "other",
	})

	if state.adoptedSessions != 0 || state.droppedSessions != 0 {
		t.Error("garbage payloads must be ignored")
	}
}

// =========================================================================
// LEADERBOARD RECONCILIATION TESTS
// =========================================================================

func TestHandle_AdoptsChangedLeaderboard(t *testing.T) {
	state := &fakeReconciler{
		board: []model.LeaderboardEntry{{Email: "a@example.com", JackPoints: 100}},
	}
	s, _ := newTestSync(t, state)

	incoming := []model.LeaderboardEntry{{Email: "a@example.com", JackPoints: 900}}
	raw, _ := json.Marshal(incoming)
	s.Handle(context.Background(), notify.Event{
		Key:      model.KeyLeaderboard,
		NewValue: string(raw),
		Origin:   "other",
	})

	if state.adoptedBoards != 1 || state.board[0].JackPoints != 900 {
		t.Errorf("leaderboard not adopted: %+v", state.board)
	}
}

func TestHandle_EqualLeaderboardIsNotReadopted(t *testing.T) {
	board := []model.LeaderboardEntry{{Email: "a@example.com", JackPoints: 100}}
	state := &fakeReconciler{board: board}
	s, _ := newTestSync(t, state)

	raw, _ := json.Marshal(board)
	s.Handle(context.Background(), notify.Event{
		Key:      model.KeyLeaderboard,
		NewValue: string(raw),
		Origin:   "other",
	})

	if state.adoptedBoards != 0 {
		t.Error("a deep-equal leaderboard must not be re-adopted")
	}
}

// =========================================================================
// THROTTLE TESTS
// =========================================================================

func TestHandle_ThrottleDropsWithinCooldown(t *testing.T) {
	state := &fakeReconciler{}
	s, clock := newTestSync(t, state)
	ctx := context.Background()

	first := sessionJSON(t, model.UserRecord{Email: "a@example.com", JackPoints: 1})
	second := sessionJSON(t, model.UserRecord{Email: "a@example.com", JackPoints: 2})

	s.Handle(ctx, notify.Event{Key: model.KeySession, NewValue: first, Origin: "other"})
	*clock = clock.Add(Cooldown / 2)
	s.Handle(ctx, notify.Event{Key: model.KeySession, NewValue: second, Origin: "other"})

	if state.adoptedSessions != 1 {
		t.Errorf("adoptions = %d, want 1 — the second event lands inside the cooldown and is dropped, not queued", state.adoptedSessions)
	}
	if state.session.JackPoints != 1 {
		t.Error("the dropped event must leave the first adoption in place")
	}
}

// The throttle window is shared across keys: a session event can starve a
// following leaderboard event. Inherited lossiness, asserted on purpose.
func TestHandle_ThrottleIsGlobalAcrossKeys(t *testing.T) {
	state := &fakeReconciler{}
	s, clock := newTestSync(t, state)
	ctx := context.Background()

	s.Handle(ctx, notify.Event{
		Key:      model.KeySession,
		NewValue: sessionJSON(t, model.UserRecord{Email: "a@example.com"}),
		Origin:   "other",
	})

	raw, _ := json.Marshal([]model.LeaderboardEntry{{Email: "b@example.com", JackPoints: 5}})
	*clock = clock.Add(Cooldown / 2)
	s.Handle(ctx, notify.Event{Key: model.KeyLeaderboard, NewValue: string(raw), Origin: "other"})

	if state.adoptedBoards != 0 {
		t.Error("a leaderboard event inside a session event's cooldown must be dropped")
	}
}

func TestHandle_ProcessesAgainAfterCooldown(t *testing.T) {
	state := &fakeReconciler{}
	s, clock := newTestSync(t, state)
	ctx := context.Background()

	s.Handle(ctx, notify.Event{
		Key:      model.KeySession,
		NewValue: sessionJSON(t, model.UserRecord{Email: "a@example.com", JackPoints: 1}),
		Origin:   "other",
	})
	*clock = clock.Add(Cooldown)
	s.Handle(ctx, notify.Event{
		Key:      model.KeySession,
		NewValue: sessionJSON(t, model.UserRecord{Email: "a@example.com", JackPoints: 2}),
		Origin:   "other",
	})

	if state.adoptedSessions != 2 {
		t.Errorf("adoptions = %d, want 2 — the window had elapsed", state.adoptedSessions)
	}
}

// =========================================================================
// RUN LOOP TESTS
// =========================================================================

func TestRun_ConsumesBusEvents(t *testing.T) {
	bus := notify.NewMemoryBus()
	state := &fakeReconciler{}
	s := New(bus, "local", state, testLogger())

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// Give the goroutine a moment to subscribe before publishing.
	time.Sleep(10 * time.Millisecond)

	bus.Publish(ctx, notify.Event{
		Key:      model.KeySession,
		NewValue: sessionJSON(t, model.UserRecord{Email: "a@example.com"}),
		Origin:   "other",
	})

	deadline := time.Now().Add(time.Second)
	for state.sessionAdoptions() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if state.sessionAdoptions() != 1 {
		t.Error("Run() did not process a published event")
	}

	stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Run() did not stop on context cancellation")
	}
}
