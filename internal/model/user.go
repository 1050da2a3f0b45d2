// Package model defines the data structures used throughout the engine.
package model

import "strings"

// Rank is a user's tier within the community.
type Rank string

const (
	RankAdmin  Rank = "admin"
	RankVIP    Rank = "vip"
	RankNormal Rank = "normal"
)

// TransactionType classifies how a balance change came about.
type TransactionType string

const (
	TxEarn  TransactionType = "earn"
	TxSpend TransactionType = "spend"
	TxBonus TransactionType = "bonus"
	TxEvent TransactionType = "event"
	TxAdmin TransactionType = "admin"
)

// ValidTransactionType reports whether t is one of the known types.
func ValidTransactionType(t TransactionType) bool {
	switch t {
	case TxEarn, TxSpend, TxBonus, TxEvent, TxAdmin:
		return true
	}
	return false
}

// Transaction is one entry in a user's point history.
//
// Timestamps are epoch milliseconds rather than time.Time — the records cross
// a JSON wire contract shared with collaborating subsystems, and the contract
// fixed integer milliseconds long before this engine existed.
type Transaction struct {
	ID          string          `json:"id"`
	Amount      int64           `json:"amount"` // negative = debit
	Description string          `json:"description"`
	Timestamp   int64           `json:"timestamp"` // epoch ms
	Type        TransactionType `json:"type"`
}

// UserRecord is the full per-user record replicated across every channel.
//
// Email is the natural key, compared case-insensitively everywhere; ID is an
// opaque internal identifier kept so collaborating systems are not tied to
// the email. JackPoints is EXPECTED to equal the sum of Transactions amounts,
// but nothing in the engine recomputes or verifies that — it is a documented
// non-invariant, not a guarantee.
type UserRecord struct {
	ID                      string            `json:"id"`
	Email                   string            `json:"email"`
	Name                    string            `json:"name"`
	JackPoints              int64             `json:"jackPoints"`
	Transactions            []Transaction     `json:"transactions"` // most-recent-first
	LastUpdated             int64             `json:"lastUpdated"`  // epoch ms
	HasReceivedInitialBonus bool              `json:"hasReceivedInitialBonus"`
	Rank                    Rank              `json:"rank"`
	IsVerified              bool              `json:"isVerified"`
	Avatar                  string            `json:"avatar,omitempty"`
	PhoneNumber             string            `json:"phoneNumber,omitempty"`
	PhoneVerified           bool              `json:"phoneVerified,omitempty"`
	SocialAccounts          map[string]string `json:"socialAccounts,omitempty"` // platform → handle
	BrowserID               string            `json:"browserId,omitempty"`
	CredentialRef           string            `json:"credentialRef,omitempty"`
	PasswordHash            string            `json:"passwordHash,omitempty"`
	LastLogin               int64             `json:"lastLogin,omitempty"`        // epoch ms
	RegistrationDate        int64             `json:"registrationDate,omitempty"` // epoch ms
}

// EmailKey returns the lowercased email used as the registry key.
func (u UserRecord) EmailKey() string {
	return NormalizeEmail(u.Email)
}

// Clone returns a deep copy of the record. The replicator and the leaderboard
// hand records across goroutine boundaries, so shared slices and maps would
// otherwise alias.
func (u UserRecord) Clone() UserRecord {
	c := u
	if u.Transactions != nil {
		c.Transactions = make([]Transaction, len(u.Transactions))
		copy(c.Transactions, u.Transactions)
	}
	if u.SocialAccounts != nil {
		c.SocialAccounts = make(map[string]string, len(u.SocialAccounts))
		for k, v := range u.SocialAccounts {
			c.SocialAccounts[k] = v
		}
	}
	return c
}

// NormalizeEmail lowercases and trims an email for use as a registry key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
