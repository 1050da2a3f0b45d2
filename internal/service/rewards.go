// Package service contains the business logic layer of the engine.
//
// RewardsService is the composition point for the whole write path. A
// balance change flows:
//
//	Ledger.Append → Ledger.Commit → SessionStore.Save → Replicator.Upsert
//	             → LeaderboardAggregator.UpdateEntry → mirror outbox enqueue
//
// Every step after Commit is persistence of an already-decided change:
// storage failures degrade silently inside their components and the mirror
// is fire-and-forget, so the method's result is known the moment Commit
// returns. The service also holds this instance's in-memory copies of the
// session and leaderboard, which is what cross-instance reconciliation
// replaces when another process writes.
package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/rewards-engine/internal/apperror"
	"github.com/sakif/rewards-engine/internal/auth"
	"github.com/sakif/rewards-engine/internal/channel"
	"github.com/sakif/rewards-engine/internal/leaderboard"
	"github.com/sakif/rewards-engine/internal/ledger"
	"github.com/sakif/rewards-engine/internal/mirror"
	"github.com/sakif/rewards-engine/internal/model"
	"github.com/sakif/rewards-engine/internal/replicate"
	"github.com/sakif/rewards-engine/internal/session"
)

// Validation constants.
const (
	MaxNameLength     = 100
	MinPasswordLength = 8
)

// RewardsService orchestrates identity, ledger, and leaderboard operations.
type RewardsService struct {
	primary    channel.Adapter
	sessions   *session.Store
	replicator *replicate.Replicator
	board      *leaderboard.Aggregator
	outbox     *mirror.Outbox // may be nil when mirroring is disabled
	jar        *channel.Jar
	tokens     *auth.TokenService
	passwords  *auth.PasswordService
	logger     *slog.Logger

	mu         sync.RWMutex
	current    *model.UserRecord
	boardCache []model.LeaderboardEntry
}

func NewRewardsService(
	primary channel.Adapter,
	sessions *session.Store,
	replicator *replicate.Replicator,
	board *leaderboard.Aggregator,
	outbox *mirror.Outbox,
	jar *channel.Jar,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *RewardsService {
	return &RewardsService{
		primary:    primary,
		sessions:   sessions,
		replicator: replicator,
		board:      board,
		outbox:     outbox,
		jar:        jar,
		tokens:     tokens,
		passwords:  passwords,
		logger:     logger,
	}
}

// AuthResult bundles the user record and the issued credentialRef so the
// HTTP handler can set the auth cookie and respond in one step.
type AuthResult struct {
	User  model.UserRecord
	Token string
}

// Register creates a new account, seeds the signup bonus, and signs the
// caller in.
func (s *RewardsService) Register(ctx context.Context, email, name, password string) (*AuthResult, error) {
	key := model.NormalizeEmail(email)
	if key == "" || !strings.Contains(key, "@") {
		return nil, apperror.ValidationFailed("email", "a valid email is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperror.ValidationFailed("name", "name is required")
	}
	if len(name) > MaxNameLength {
		return nil, apperror.ValidationFailed("name", "name is too long")
	}
	if len(password) < MinPasswordLength {
		return nil, apperror.ValidationFailed("password", "password must be at least 8 characters")
	}

	reg := s.replicator.Read(ctx)
	if _, exists := reg[key]; exists {
		return nil, apperror.Conflict("user", key)
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	rec := model.UserRecord{
		ID:               xid.New().String(),
		Email:            key,
		Name:             name,
		JackPoints:       0,
		Transactions:     []model.Transaction{},
		Rank:             model.RankNormal,
		PasswordHash:     hash,
		BrowserID:        xid.New().String(),
		LastLogin:        now,
		RegistrationDate: now,
	}

	// Seed the signup bonus as a real transaction so the history explains
	// the balance from day one.
	bonus, err := ledger.Append(model.SignupBonus, "Welcome bonus", model.TxBonus)
	if err != nil {
		return nil, err
	}
	rec = ledger.Commit(rec, bonus)
	rec.HasReceivedInitialBonus = true

	token, err := s.tokens.Generate(rec.ID, rec.Email)
	if err != nil {
		return nil, err
	}
	rec.CredentialRef = token

	s.persist(ctx, rec)
	s.mirrorBalance(ctx, rec)
	s.mirrorTransaction(ctx, rec, bonus)
	s.setAuthCookie(ctx, token)
	s.setCurrent(rec)

	s.logger.Info("user registered",
		slog.String("email", rec.Email),
		slog.Int64("jackPoints", rec.JackPoints),
	)
	return &AuthResult{User: rec, Token: token}, nil
}

// Login verifies credentials against the merged registry and activates the
// session. Unknown emails and wrong passwords are indistinguishable to the
// caller.
func (s *RewardsService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	key := model.NormalizeEmail(email)
	reg := s.replicator.Read(ctx)
	rec, ok := reg[key]
	if !ok || rec.PasswordHash == "" {
		return nil, apperror.Forbidden("invalid email or password")
	}
	if err := s.passwords.Verify(rec.PasswordHash, password); err != nil {
		return nil, apperror.Forbidden("invalid email or password")
	}

	now := time.Now().UnixMilli()
	rec.LastLogin = now
	rec.LastUpdated = now

	token, err := s.tokens.Generate(rec.ID, rec.Email)
	if err != nil {
		return nil, err
	}
	rec.CredentialRef = token

	s.persist(ctx, rec)
	s.setAuthCookie(ctx, token)
	s.setCurrent(rec)

	s.logger.Info("user logged in", slog.String("email", rec.Email))
	return &AuthResult{User: rec, Token: token}, nil
}

// Logout clears the active session pointer and the auth cookie. The
// registry entry survives — logout forgets who is signed in, not who exists.
func (s *RewardsService) Logout(ctx context.Context) {
	s.sessions.Clear(ctx)
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

// CurrentUser returns the active session, consulting the in-memory copy
// first and the primary channel second.
func (s *RewardsService) CurrentUser(ctx context.Context) (model.UserRecord, bool) {
	s.mu.RLock()
	if s.current != nil {
		rec := s.current.Clone()
		s.mu.RUnlock()
		return rec, true
	}
	s.mu.RUnlock()

	rec, ok := s.sessions.Load(ctx)
	if ok {
		s.setCurrent(rec)
	}
	return rec, ok
}

// UpdateJackPoints applies a balance change to the active session.
//
// Affordability is checked HERE, not in the ledger: commit itself has no
// bounds check by contract, and this is the caller responsible for the
// precondition. The check reads this instance's in-memory balance — if
// another instance spent concurrently, both can pass and the later fan-out
// wins (the documented lost-update mode).
func (s *RewardsService) UpdateJackPoints(ctx context.Context, amount int64, description string, txType model.TransactionType) (model.UserRecord, error) {
	rec, ok := s.CurrentUser(ctx)
	if !ok {
		return model.UserRecord{}, apperror.NotFound("session", "active")
	}

	if amount < 0 && rec.JackPoints+amount < 0 {
		return model.UserRecord{}, apperror.Insufficient(rec.JackPoints, -amount)
	}

	tx, err := ledger.Append(amount, description, txType)
	if err != nil {
		return model.UserRecord{}, err
	}
	updated := ledger.Commit(rec, tx)

	s.persist(ctx, updated)
	s.mirrorBalance(ctx, updated)
	s.mirrorTransaction(ctx, updated, tx)
	s.setCurrent(updated)

	s.logger.Info("points updated",
		slog.String("email", updated.Email),
		slog.Int64("amount", amount),
		slog.String("type", string(txType)),
		slog.Int64("balance", updated.JackPoints),
	)
	return updated, nil
}

// ProfileUpdate carries the editable profile fields. Nil/empty fields are
// left unchanged, matching form semantics where untouched inputs submit
// empty.
type ProfileUpdate struct {
	Name           string
	Avatar         string
	PhoneNumber    string
	SocialAccounts map[string]string
}

// UpdateProfile edits the active session's profile fields and replicates
// the result. No mirror push: the remote contract only covers balances and
// transactions.
func (s *RewardsService) UpdateProfile(ctx context.Context, upd ProfileUpdate) (model.UserRecord, error) {
	rec, ok := s.CurrentUser(ctx)
	if !ok {
		return model.UserRecord{}, apperror.NotFound("session", "active")
	}

	if name := strings.TrimSpace(upd.Name); name != "" {
		if len(name) > MaxNameLength {
			return model.UserRecord{}, apperror.ValidationFailed("name", "name is too long")
		}
		rec.Name = name
	}
	if upd.Avatar != "" {
		rec.Avatar = upd.Avatar
	}
	if upd.PhoneNumber != "" {
		rec.PhoneNumber = upd.PhoneNumber
		rec.PhoneVerified = false // re-verify after every change
	}
	if upd.SocialAccounts != nil {
		if rec.SocialAccounts == nil {
			rec.SocialAccounts = map[string]string{}
		}
		for platform, handle := range upd.SocialAccounts {
			if handle == "" {
				delete(rec.SocialAccounts, platform)
				continue
			}
			rec.SocialAccounts[platform] = handle
		}
	}
	rec.LastUpdated = time.Now().UnixMilli()

	s.persist(ctx, rec)
	s.setCurrent(rec)
	return rec, nil
}

// Leaderboard returns the current leaderboard, preferring this instance's
// in-memory copy and falling back to a rebuild from persisted state.
func (s *RewardsService) Leaderboard(ctx context.Context) []model.LeaderboardEntry {
	s.mu.RLock()
	if s.boardCache != nil {
		out := make([]model.LeaderboardEntry, len(s.boardCache))
		copy(out, s.boardCache)
		s.mu.RUnlock()
		return out
	}
	s.mu.RUnlock()

	entries := s.board.Rebuild(ctx, s.replicator.Read(ctx))
	s.mu.Lock()
	s.boardCache = entries
	s.mu.Unlock()
	return entries
}

// persist runs the session-save, registry fan-out, and leaderboard upsert
// for one changed record, then refreshes the in-memory leaderboard.
func (s *RewardsService) persist(ctx context.Context, rec model.UserRecord) {
	if err := s.sessions.Save(ctx, rec); err != nil {
		s.logger.Warn("session save failed", slog.String("error", err.Error()))
	}
	s.replicator.Upsert(ctx, rec)
	entries := s.board.UpdateEntry(ctx, rec)

	s.mu.Lock()
	s.boardCache = entries
	s.mu.Unlock()
}

func (s *RewardsService) mirrorBalance(ctx context.Context, rec model.UserRecord) {
	if s.outbox == nil {
		return
	}
	s.outbox.EnqueueBalance(ctx, mirror.BalanceUpdate{
		UserID:      rec.ID,
		JackPoints:  rec.JackPoints,
		LastUpdated: rec.LastUpdated,
	})
}

func (s *RewardsService) mirrorTransaction(ctx context.Context, rec model.UserRecord, tx model.Transaction) {
	if s.outbox == nil {
		return
	}
	s.outbox.EnqueueTransaction(ctx, mirror.TransactionAppend{
		UserID:         rec.ID,
		UserEmail:      rec.Email,
		UserName:       rec.Name,
		Amount:         tx.Amount,
		Description:    tx.Description,
		Timestamp:      tx.Timestamp,
		Type:           tx.Type,
		PhoneNumber:    rec.PhoneNumber,
		SocialAccounts: rec.SocialAccounts,
	})
}

func (s *RewardsService) setAuthCookie(ctx context.Context, token string) {
	if s.jar == nil {
		return
	}
	c := channel.Cookie{
		Name:       model.AuthCookieName,
		Value:      token,
		Expires:    time.Now().Add(auth.TokenTTL).UnixMilli(),
		Attributes: "Path=/; HttpOnly; SameSite=Lax",
	}
	if err := s.jar.Set(ctx, c); err != nil {
		s.logger.Warn("setting auth cookie failed", slog.String("error", err.Error()))
	}
}

func (s *RewardsService) setCurrent(rec model.UserRecord) {
	s.mu.Lock()
	clone := rec.Clone()
	s.current = &clone
	s.mu.Unlock()
}
