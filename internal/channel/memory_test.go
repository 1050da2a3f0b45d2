package channel

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/rewards-engine/internal/apperror"
)

// =========================================================================
// MEMORY STORE TESTS
// =========================================================================

func TestMemoryStore_GetAbsentKey(t *testing.T) {
	m := NewMemoryStore()
	_, err := m.Get(context.Background(), "nope")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_SetGetRoundTrip(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	if err := m.Set(ctx, "k", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Errorf("Get() = %q, want %q", got, `{"a":1}`)
	}
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	in := []byte("original")
	m.Set(ctx, "k", in)
	in[0] = 'X' // mutate the caller's slice after Set

	got, _ := m.Get(ctx, "k")
	if string(got) != "original" {
		t.Error("Set() aliased the caller's slice instead of copying")
	}

	got[0] = 'Y' // mutate the returned slice
	again, _ := m.Get(ctx, "k")
	if string(again) != "original" {
		t.Error("Get() returned an aliased slice instead of a copy")
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	m.Set(ctx, "k", []byte("v"))
	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := m.Get(ctx, "k"); !errors.Is(err, apperror.ErrNotFound) {
		t.Error("Delete() left the key behind")
	}

	// Deleting an absent key is not an error.
	if err := m.Delete(ctx, "nope"); err != nil {
		t.Errorf("Delete() of absent key error = %v, want nil", err)
	}
}

func TestMemoryStore_KeysPrefix(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	m.Set(ctx, "cookie:b", []byte("1"))
	m.Set(ctx, "cookie:a", []byte("2"))
	m.Set(ctx, "other", []byte("3"))

	keys, err := m.Keys(ctx, "cookie:")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 2 || keys[0] != "cookie:a" || keys[1] != "cookie:b" {
		t.Errorf("Keys() = %v, want sorted [cookie:a cookie:b]", keys)
	}
}
