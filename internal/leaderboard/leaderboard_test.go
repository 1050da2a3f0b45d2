package leaderboard

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/sakif/rewards-engine/internal/channel"
	"github.com/sakif/rewards-engine/internal/model"
)

// =========================================================================
// HELPERS
// =========================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAggregator(t *testing.T, seedEmails []string) (*Aggregator, *channel.MemoryStore) {
	t.Helper()
	store := channel.NewMemoryStore()
	return NewAggregator(store, seedEmails, nil, "test", testLogger()), store
}

func plantSnapshot(t *testing.T, store *channel.MemoryStore, raw string) {
	t.Helper()
	if err := store.Set(context.Background(), model.KeyLeaderboard, []byte(raw)); err != nil {
		t.Fatalf("planting snapshot: %v", err)
	}
}

func assertSortedDescending(t *testing.T, entries []model.LeaderboardEntry) {
	t.Helper()
	for i := 1; i < len(entries); i++ {
		if entries[i].JackPoints > entries[i-1].JackPoints {
			t.Errorf("entries[%d].jackPoints (%d) > entries[%d].jackPoints (%d); order must be non-increasing",
				i, entries[i].JackPoints, i-1, entries[i-1].JackPoints)
		}
	}
}

// =========================================================================
// REBUILD TESTS
// =========================================================================

func TestRebuild_FreshInstallGetsSeedEntries(t *testing.T) {
	agg, _ := newTestAggregator(t, nil)

	entries := agg.Rebuild(context.Background(), model.Registry{})

	seeds := SeedEntries()
	if len(entries) != len(seeds) {
		t.Fatalf("Rebuild() returned %d entries, want the %d seed fixtures", len(entries), len(seeds))
	}
	assertSortedDescending(t, entries)

	// Seeding is deterministic: a second fresh install must agree exactly.
	agg2, _ := newTestAggregator(t, nil)
	entries2 := agg2.Rebuild(context.Background(), model.Registry{})
	for i := range entries {
		if !reflect.DeepEqual(entries[i], entries2[i]) {
			t.Errorf("two fresh installs disagree at position %d: %+v vs %+v", i, entries[i], entries2[i])
		}
	}
}

func TestRebuild_SynthesizesFromRegistry(t *testing.T) {
	agg, _ := newTestAggregator(t, nil)

	reg := model.Registry{}
	reg.Put(model.UserRecord{Email: "low@example.com", Name: "Low", JackPoints: 100})
	reg.Put(model.UserRecord{Email: "high@example.com", Name: "High", JackPoints: 5000})

	entries := agg.Rebuild(context.Background(), reg)

	if len(entries) != 2 {
		t.Fatalf("Rebuild() returned %d entries, want 2 from the registry (no seeds)", len(entries))
	}
	if entries[0].Email != "high@example.com" {
		t.Errorf("entries[0] = %q, want the highest balance first", entries[0].Email)
	}
	assertSortedDescending(t, entries)
}

func TestRebuild_PersistsTheResult(t *testing.T) {
	agg, store := newTestAggregator(t, nil)

	agg.Rebuild(context.Background(), model.Registry{})

	raw, err := store.Get(context.Background(), model.KeyLeaderboard)
	if err != nil {
		t.Fatalf("snapshot not persisted: %v", err)
	}
	var persisted []model.LeaderboardEntry
	if err := json.Unmarshal(raw, &persisted); err != nil {
		t.Fatalf("persisted snapshot undecodable: %v", err)
	}
	if len(persisted) != len(SeedEntries()) {
		t.Errorf("persisted %d entries, want %d", len(persisted), len(SeedEntries()))
	}
}

func TestRebuild_ExistingSnapshotWinsOverRegistry(t *testing.T) {
	agg, store := newTestAggregator(t, nil)
	plantSnapshot(t, store, `[{"email":"kept@example.com","name":"Kept","jackPoints":42,"rank":"normal","isVerified":true}]`)

	reg := model.Registry{}
	reg.Put(model.UserRecord{Email: "other@example.com", JackPoints: 9000})

	entries := agg.Rebuild(context.Background(), reg)

	if len(entries) != 1 || entries[0].Email != "kept@example.com" {
		t.Errorf("Rebuild() = %+v; an existing snapshot is normalized, not resynthesized", entries)
	}
}

// =========================================================================
// NORMALIZATION TESTS — legacy snapshots missing newer fields
// =========================================================================

func TestRebuild_NormalizesMissingRank(t *testing.T) {
	agg, store := newTestAggregator(t, nil)
	plantSnapshot(t, store, `[{"email":"old@example.com","jackPoints":100}]`)

	entries := agg.Rebuild(context.Background(), nil)
	if entries[0].Rank != model.RankNormal {
		t.Errorf("rank = %q, want %q", entries[0].Rank, model.RankNormal)
	}
}

func TestRebuild_NormalizesMissingVerification(t *testing.T) {
	agg, store := newTestAggregator(t, []string{"Seed@Example.com"})
	plantSnapshot(t, store, `[
		{"email":"seed@example.com","jackPoints":100},
		{"email":"human@example.com","jackPoints":50}
	]`)

	entries := agg.Rebuild(context.Background(), nil)

	byEmail := map[string]model.LeaderboardEntry{}
	for _, e := range entries {
		byEmail[e.Email] = e
	}
	if byEmail["seed@example.com"].IsVerified {
		t.Error("denylisted seed account defaulted to verified")
	}
	if !byEmail["human@example.com"].IsVerified {
		t.Error("ordinary account should default to verified when the field is absent")
	}
}

func TestRebuild_KeepsExplicitVerification(t *testing.T) {
	agg, store := newTestAggregator(t, nil)
	plantSnapshot(t, store, `[{"email":"a@example.com","jackPoints":1,"isVerified":false}]`)

	entries := agg.Rebuild(context.Background(), nil)
	if entries[0].IsVerified {
		t.Error("normalization overrode an explicitly stored false isVerified")
	}
}

func TestRebuild_CorruptSnapshotResynthesizes(t *testing.T) {
	agg, store := newTestAggregator(t, nil)
	plantSnapshot(t, store, `{broken`)

	entries := agg.Rebuild(context.Background(), model.Registry{})
	if len(entries) != len(SeedEntries()) {
		t.Errorf("Rebuild() returned %d entries after corruption, want the seed fixtures", len(entries))
	}
}

// =========================================================================
// UPDATE ENTRY TESTS
// =========================================================================

func TestUpdateEntry_InsertsAndSorts(t *testing.T) {
	agg, _ := newTestAggregator(t, nil)
	ctx := context.Background()

	agg.UpdateEntry(ctx, model.UserRecord{Email: "mid@example.com", JackPoints: 500})
	agg.UpdateEntry(ctx, model.UserRecord{Email: "top@example.com", JackPoints: 900})
	entries := agg.UpdateEntry(ctx, model.UserRecord{Email: "low@example.com", JackPoints: 100})

	if len(entries) != 3 {
		t.Fatalf("leaderboard has %d entries, want 3", len(entries))
	}
	assertSortedDescending(t, entries)
	if entries[0].Email != "top@example.com" || entries[2].Email != "low@example.com" {
		t.Errorf("order = [%s %s %s], want top/mid/low",
			entries[0].Email, entries[1].Email, entries[2].Email)
	}
}

func TestUpdateEntry_UpsertsByEmail(t *testing.T) {
	agg, _ := newTestAggregator(t, nil)
	ctx := context.Background()

	agg.UpdateEntry(ctx, model.UserRecord{Email: "a@example.com", Name: "Old", JackPoints: 100})
	entries := agg.UpdateEntry(ctx, model.UserRecord{Email: "a@example.com", Name: "New", JackPoints: 700})

	if len(entries) != 1 {
		t.Fatalf("upsert created a duplicate: %d entries", len(entries))
	}
	if entries[0].Name != "New" || entries[0].JackPoints != 700 {
		t.Errorf("entry = %+v; the projection overwrites, never merges", entries[0])
	}
}

// A spend must re-sort: the tests mirror a member dropping below a rival.
func TestUpdateEntry_SpendReordersBoard(t *testing.T) {
	agg, _ := newTestAggregator(t, nil)
	ctx := context.Background()

	agg.UpdateEntry(ctx, model.UserRecord{Email: "rival@example.com", JackPoints: 800})
	agg.UpdateEntry(ctx, model.UserRecord{Email: "spender@example.com", JackPoints: 1000})

	entries := agg.UpdateEntry(ctx, model.UserRecord{Email: "spender@example.com", JackPoints: 700})

	if entries[0].Email != "rival@example.com" {
		t.Errorf("entries[0] = %q, want the rival after the spender drops to 700", entries[0].Email)
	}
	assertSortedDescending(t, entries)
}

func TestUpdateEntry_TiesKeepRelativeOrder(t *testing.T) {
	agg, _ := newTestAggregator(t, nil)
	ctx := context.Background()

	agg.UpdateEntry(ctx, model.UserRecord{Email: "first@example.com", JackPoints: 500})
	agg.UpdateEntry(ctx, model.UserRecord{Email: "second@example.com", JackPoints: 500})
	entries := agg.UpdateEntry(ctx, model.UserRecord{Email: "third@example.com", JackPoints: 500})

	// Stable sort: equal balances stay in insertion order. No tie-break
	// key exists, and collaborators render whatever order we persist.
	want := []string{"first@example.com", "second@example.com", "third@example.com"}
	for i, e := range entries {
		if e.Email != want[i] {
			t.Errorf("entries[%d] = %q, want %q", i, e.Email, want[i])
		}
	}
}

// =========================================================================
// ENTRIES TESTS
// =========================================================================

func TestEntries_AbsentSnapshotIsEmpty(t *testing.T) {
	agg, _ := newTestAggregator(t, nil)
	entries := agg.Entries(context.Background())
	if entries == nil || len(entries) != 0 {
		t.Errorf("Entries() = %v, want an empty non-nil slice", entries)
	}
}
