// Package mirror pushes balance and transaction changes to the remote
// ledger service, best-effort.
//
// The mirror is strictly fire-and-forget: local commits never wait for it
// and its failures never roll anything back. Instead of the original's
// nested retry loops buried at call sites, pending pushes live in a durable
// outbox that a background flusher drains with bounded retries — the same
// behavior, but inspectable and testable.
package mirror

import (
	"context"

	"github.com/sakif/rewards-engine/internal/model"
)

// BalanceUpdate mirrors a user's new balance.
type BalanceUpdate struct {
	UserID      string `json:"userId"`
	JackPoints  int64  `json:"jackPoints"`
	LastUpdated int64  `json:"lastUpdated"`
}

// TransactionAppend mirrors one appended transaction. The contact fields are
// optional — the remote side uses them to enrich its copy of the profile
// when present.
type TransactionAppend struct {
	UserID      string                `json:"userId"`
	UserEmail   string                `json:"userEmail"`
	UserName    string                `json:"userName"`
	Amount      int64                 `json:"amount"`
	Description string                `json:"description"`
	Timestamp   int64                 `json:"timestamp"`
	Type        model.TransactionType `json:"type"`

	PhoneNumber    string            `json:"phoneNumber,omitempty"`
	SocialAccounts map[string]string `json:"socialAccounts,omitempty"`
}

// Client is the remote ledger service boundary. Both operations may fail
// independently; callers treat every failure as retriable and never let one
// propagate as a local error.
type Client interface {
	UpdateProfileBalance(ctx context.Context, req BalanceUpdate) error
	AppendTransaction(ctx context.Context, req TransactionAppend) error
}
