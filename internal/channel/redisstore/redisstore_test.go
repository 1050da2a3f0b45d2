package redisstore

import (
	"context"
	"errors"
	"os"
	"sort"
	"testing"

	"github.com/rs/xid"

	"github.com/sakif/rewards-engine/internal/apperror"
)

// These tests need a live Redis instance and are skipped unless REDIS_ADDR
// is set (e.g. REDIS_ADDR=localhost:6379). CI runs them against a service
// container; locally they are opt-in.

func newLiveStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("skipping: REDIS_ADDR not set")
	}

	// A fresh namespace per test keeps parallel runs from seeing each
	// other's keys.
	store, err := New(context.Background(), addr, os.Getenv("REDIS_PASSWORD"), 0, "test-"+xid.New().String())
	if err != nil {
		t.Fatalf("connecting to redis at %s: %v", addr, err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_GetMissing(t *testing.T) {
	store := newLiveStore(t)
	_, err := store.Get(context.Background(), "nope")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStore_RoundTrip(t *testing.T) {
	store := newLiveStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "rewards_session", []byte(`{"email":"a@x.com"}`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	t.Cleanup(func() { store.Delete(ctx, "rewards_session") })

	got, err := store.Get(ctx, "rewards_session")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `{"email":"a@x.com"}` {
		t.Errorf("Get() = %q", got)
	}

	if err := store.Delete(ctx, "rewards_session"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "rewards_session"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestStore_DeleteMissingIsFine(t *testing.T) {
	store := newLiveStore(t)
	if err := store.Delete(context.Background(), "never-existed"); err != nil {
		t.Errorf("Delete(missing) error = %v", err)
	}
}

func TestStore_KeysByPrefix(t *testing.T) {
	store := newLiveStore(t)
	ctx := context.Background()

	seed := map[string]string{
		"cookie:rewards_auth":   "tok",
		"cookie:rewards_user_a": "a",
		"rewards_leaderboard":   "[]",
	}
	for k, v := range seed {
		if err := store.Set(ctx, k, []byte(v)); err != nil {
			t.Fatalf("Set(%s) error = %v", k, err)
		}
	}
	t.Cleanup(func() {
		for k := range seed {
			store.Delete(ctx, k)
		}
	})

	keys, err := store.Keys(ctx, "cookie:")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	sort.Strings(keys)

	want := []string{"cookie:rewards_auth", "cookie:rewards_user_a"}
	if len(keys) != len(want) {
		t.Fatalf("Keys() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}
