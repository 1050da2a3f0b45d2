package service

import (
	"context"

	"github.com/sakif/rewards-engine/internal/crosstab"
	"github.com/sakif/rewards-engine/internal/model"
)

// RewardsService implements crosstab.Reconciler: its in-memory session and
// leaderboard copies are what another instance's writes reconcile.
var _ crosstab.Reconciler = (*RewardsService)(nil)

func (s *RewardsService) SessionSnapshot() (model.UserRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return model.UserRecord{}, false
	}
	return s.current.Clone(), true
}

// AdoptSession replaces the in-memory session wholesale — last-writer-wins,
// no merge of concurrent changes.
func (s *RewardsService) AdoptSession(rec model.UserRecord) {
	s.setCurrent(rec)
}

func (s *RewardsService) DropSessionMemory() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

func (s *RewardsService) LeaderboardSnapshot() []model.LeaderboardEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.LeaderboardEntry, len(s.boardCache))
	copy(out, s.boardCache)
	return out
}

func (s *RewardsService) AdoptLeaderboard(entries []model.LeaderboardEntry) {
	s.mu.Lock()
	s.boardCache = entries
	s.mu.Unlock()
}

// RefreshLeaderboard re-derives the leaderboard from persisted state. This
// is the whole reaction to a registry-level change from another instance:
// the live session is deliberately never overwritten from registry data,
// which may be a stale merge.
func (s *RewardsService) RefreshLeaderboard(ctx context.Context) {
	entries := s.board.Rebuild(ctx, s.replicator.Read(ctx))
	s.mu.Lock()
	s.boardCache = entries
	s.mu.Unlock()
}
