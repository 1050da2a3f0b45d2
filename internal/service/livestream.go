package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/sakif/rewards-engine/internal/apperror"
	"github.com/sakif/rewards-engine/internal/model"
)

// The livestream-status key is owned by the livestream widget, an external
// collaborator. The engine passes its value through opaquely — no schema, no
// validation beyond it being JSON — and never replicates it across channels:
// only the primary store carries it.

// LivestreamStatus returns the raw livestream value, ok=false when unset.
func (s *RewardsService) LivestreamStatus(ctx context.Context) (json.RawMessage, bool) {
	raw, err := s.primary.Get(ctx, model.KeyLivestream)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			s.logger.Warn("livestream status read failed", slog.String("error", err.Error()))
		}
		return nil, false
	}
	return raw, true
}

// SetLivestreamStatus stores the raw livestream value.
func (s *RewardsService) SetLivestreamStatus(ctx context.Context, raw json.RawMessage) error {
	if !json.Valid(raw) {
		return apperror.ValidationFailed("status", "livestream status must be valid JSON")
	}
	return s.primary.Set(ctx, model.KeyLivestream, raw)
}
