// Package lifecycle models the session/navigation settle states that gate
// when the engine's components run.
//
// The states exist to mask hydration races: rendering against a storage
// read that has not settled shows a flash of logged-out state, so the
// original held Loading for a fixed delay after mount and padded soft route
// changes with short pre/post delays. One route forces a full reload instead
// of a soft transition. None of this is architecturally deep — it is timed
// state masking, reproduced behaviorally because collaborating pages depend
// on the timing.
package lifecycle

import (
	"context"
	"sync"
	"time"
)

// State is the machine's position in the settle sequence.
type State int

const (
	Idle State = iota
	Loading
	Ready
	Navigating
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Navigating:
		return "navigating"
	}
	return "unknown"
}

// NavigationKind tells the caller how to perform a route change.
type NavigationKind int

const (
	// SoftTransition: in-place route change with the fixed pre/post delays.
	SoftTransition NavigationKind = iota
	// HardReload: tear the instance down and remount; the machine returns
	// to Idle and the caller is expected to Mount again.
	HardReload
)

// Config carries the fixed delays. Zero values fall back to the defaults
// the collaborating pages were tuned against.
type Config struct {
	SettleDelay    time.Duration // Loading → Ready hold after mount
	PreNavDelay    time.Duration // before a soft transition
	PostNavDelay   time.Duration // after a soft transition, before Ready
	HardReloadPath string        // the one route that forces a full reload
}

const (
	defaultSettleDelay  = 150 * time.Millisecond
	defaultPreNavDelay  = 50 * time.Millisecond
	defaultPostNavDelay = 100 * time.Millisecond
)

// Machine is the settle-state machine. Safe for concurrent observation;
// Mount and Navigate are expected to be driven from one goroutine.
type Machine struct {
	mu    sync.RWMutex
	state State
	cfg   Config

	// onReady fires each time the machine reaches Ready. Optional.
	onReady func()
}

func New(cfg Config, onReady func()) *Machine {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.PreNavDelay <= 0 {
		cfg.PreNavDelay = defaultPreNavDelay
	}
	if cfg.PostNavDelay <= 0 {
		cfg.PostNavDelay = defaultPostNavDelay
	}
	return &Machine{state: Idle, cfg: cfg, onReady: onReady}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Mount runs Idle → Loading → (settle delay) → Ready. Returns early with
// ctx.Err() if cancelled mid-settle, leaving the machine in Loading.
func (m *Machine) Mount(ctx context.Context) error {
	m.set(Loading)
	if err := sleep(ctx, m.cfg.SettleDelay); err != nil {
		return err
	}
	m.set(Ready)
	if m.onReady != nil {
		m.onReady()
	}
	return nil
}

// Navigate performs a route change. The hard-reload route resets the machine
// to Idle and reports HardReload without sleeping — the caller remounts.
// Every other route takes the soft path: pre-delay, Navigating, post-delay,
// Ready.
func (m *Machine) Navigate(ctx context.Context, route string) (NavigationKind, error) {
	if route == m.cfg.HardReloadPath && m.cfg.HardReloadPath != "" {
		m.set(Idle)
		return HardReload, nil
	}

	if err := sleep(ctx, m.cfg.PreNavDelay); err != nil {
		return SoftTransition, err
	}
	m.set(Navigating)
	if err := sleep(ctx, m.cfg.PostNavDelay); err != nil {
		return SoftTransition, err
	}
	m.set(Ready)
	if m.onReady != nil {
		m.onReady()
	}
	return SoftTransition, nil
}

func (m *Machine) set(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
