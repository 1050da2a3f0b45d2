// Package leaderboard derives and persists the globally-sorted projection of
// the registry.
//
// The leaderboard is a separately persisted snapshot, not a live query: it
// is re-sorted and written on every upsert so collaborating pages can render
// it with a single read. Ordering is descending by jackPoints with a stable
// sort and no tie-break key — equal balances keep their relative order, and
// that unspecified ordering is part of the observable contract.
package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"

	"github.com/sakif/rewards-engine/internal/apperror"
	"github.com/sakif/rewards-engine/internal/channel"
	"github.com/sakif/rewards-engine/internal/model"
	"github.com/sakif/rewards-engine/internal/notify"
)

// Aggregator maintains the persisted leaderboard snapshot.
type Aggregator struct {
	store  channel.Adapter
	events notify.Publisher // may be nil
	origin string
	logger *slog.Logger

	// seedDenylist holds emails of seed/system accounts whose entries
	// default to unverified during normalization; every other entry
	// defaults to verified.
	seedDenylist map[string]bool
}

func NewAggregator(store channel.Adapter, seedEmails []string, events notify.Publisher, origin string, logger *slog.Logger) *Aggregator {
	deny := make(map[string]bool, len(seedEmails))
	for _, e := range seedEmails {
		deny[model.NormalizeEmail(e)] = true
	}
	return &Aggregator{
		store:        store,
		events:       events,
		origin:       origin,
		logger:       logger,
		seedDenylist: deny,
	}
}

// SeedEntries is the deterministic demo population installed when neither a
// snapshot nor any registry data exists. The original seeded randomized
// balances here; those were a demo artifact, replaced with fixed fixtures so
// two fresh installs agree.
func SeedEntries() []model.LeaderboardEntry {
	return []model.LeaderboardEntry{
		{Email: "goldjack@seed.local", Name: "GoldJack", JackPoints: 4200, Rank: model.RankVIP, HasReceivedInitialBonus: true},
		{Email: "silverfox@seed.local", Name: "SilverFox", JackPoints: 3100, Rank: model.RankNormal, HasReceivedInitialBonus: true},
		{Email: "bronzebee@seed.local", Name: "BronzeBee", JackPoints: 1750, Rank: model.RankNormal, HasReceivedInitialBonus: true},
		{Email: "newjoiner@seed.local", Name: "NewJoiner", JackPoints: 500, Rank: model.RankNormal, HasReceivedInitialBonus: true},
	}
}

// storedEntry distinguishes absent fields from zero values during snapshot
// normalization, the same trick the session store uses for healing.
type storedEntry struct {
	model.LeaderboardEntry
	Rank       *model.Rank `json:"rank"`
	IsVerified *bool       `json:"isVerified"`
}

// Rebuild normalizes the persisted snapshot, or synthesizes one when none
// exists: from the registry if it has users, otherwise from the fixed seed
// fixtures. The result is sorted and persisted. Storage failures degrade to
// an empty leaderboard and a log line.
func (a *Aggregator) Rebuild(ctx context.Context, reg model.Registry) []model.LeaderboardEntry {
	raw, err := a.store.Get(ctx, model.KeyLeaderboard)
	switch {
	case err == nil:
		entries, decodeErr := a.normalize(raw)
		if decodeErr == nil {
			a.persist(ctx, entries)
			return entries
		}
		a.logger.Warn("leaderboard snapshot undecodable, resynthesizing",
			slog.String("error", decodeErr.Error()),
		)
	case !errors.Is(err, apperror.ErrNotFound):
		a.logger.Warn("leaderboard snapshot unreadable",
			slog.String("error", err.Error()),
		)
		return []model.LeaderboardEntry{}
	}

	var entries []model.LeaderboardEntry
	if len(reg) > 0 {
		entries = make([]model.LeaderboardEntry, 0, len(reg))
		for _, rec := range reg {
			entries = append(entries, model.ProjectEntry(rec))
		}
	} else {
		entries = SeedEntries()
	}
	sortEntries(entries)
	a.persist(ctx, entries)
	return entries
}

// normalize applies defaults to a decoded snapshot: missing rank becomes
// normal, missing isVerified defaults to false for seed-denylisted emails
// and true for everyone else.
func (a *Aggregator) normalize(raw []byte) ([]model.LeaderboardEntry, error) {
	var stored []storedEntry
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, apperror.Parse(a.store.Name(), err)
	}

	entries := make([]model.LeaderboardEntry, 0, len(stored))
	for _, se := range stored {
		e := se.LeaderboardEntry
		if se.Rank == nil || *se.Rank == "" {
			e.Rank = model.RankNormal
		} else {
			e.Rank = *se.Rank
		}
		if se.IsVerified == nil {
			e.IsVerified = !a.seedDenylist[model.NormalizeEmail(e.Email)]
		} else {
			e.IsVerified = *se.IsVerified
		}
		entries = append(entries, e)
	}
	sortEntries(entries)
	return entries, nil
}

// UpdateEntry upserts one user's projection into the snapshot, re-sorts the
// whole snapshot, and persists it.
func (a *Aggregator) UpdateEntry(ctx context.Context, rec model.UserRecord) []model.LeaderboardEntry {
	entries := a.Entries(ctx)
	incoming := model.ProjectEntry(rec)

	found := false
	for i := range entries {
		if entries[i].Email == incoming.Email {
			// Overwrite every projected mutable field; the entry is a pure
			// function of the record, never a merge.
			entries[i] = incoming
			found = true
			break
		}
	}
	if !found {
		entries = append(entries, incoming)
	}

	sortEntries(entries)
	a.persist(ctx, entries)
	return entries
}

// Entries returns the persisted snapshot, or an empty slice when the
// snapshot is absent or unreadable.
func (a *Aggregator) Entries(ctx context.Context) []model.LeaderboardEntry {
	raw, err := a.store.Get(ctx, model.KeyLeaderboard)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			a.logger.Warn("leaderboard read failed",
				slog.String("error", err.Error()),
			)
		}
		return []model.LeaderboardEntry{}
	}
	var entries []model.LeaderboardEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		a.logger.Warn("leaderboard snapshot undecodable",
			slog.String("error", err.Error()),
		)
		return []model.LeaderboardEntry{}
	}
	return entries
}

func (a *Aggregator) persist(ctx context.Context, entries []model.LeaderboardEntry) {
	raw, err := json.Marshal(entries)
	if err != nil {
		return
	}
	old, _ := a.store.Get(ctx, model.KeyLeaderboard)

	if err := a.store.Set(ctx, model.KeyLeaderboard, raw); err != nil {
		a.logger.Warn("leaderboard persist failed",
			slog.String("error", err.Error()),
		)
		return
	}

	if a.events != nil {
		if err := a.events.Publish(ctx, notify.Event{
			Key:      model.KeyLeaderboard,
			NewValue: string(raw),
			OldValue: string(old),
			Origin:   a.origin,
		}); err != nil {
			a.logger.Warn("publishing leaderboard change failed",
				slog.String("error", err.Error()),
			)
		}
	}
}

// sortEntries orders descending by jackPoints. sort.SliceStable keeps equal
// balances in their existing relative order — ties have no documented
// tie-break.
func sortEntries(entries []model.LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].JackPoints > entries[j].JackPoints
	})
}
