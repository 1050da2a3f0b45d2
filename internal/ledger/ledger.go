// Package ledger builds and applies point transactions.
//
// The ledger is deliberately small and pure: Append constructs a transaction
// without touching storage, Commit applies it to an in-memory record and
// hands the result back for the caller to persist. Splitting construction
// from application keeps both halves trivially testable and keeps every
// persistence decision in one place (the service layer).
package ledger

import (
	"time"

	"github.com/rs/xid"

	"github.com/sakif/rewards-engine/internal/apperror"
	"github.com/sakif/rewards-engine/internal/model"
)

// Append builds a new transaction with a fresh unique ID and the current
// timestamp. It performs no storage I/O and no balance arithmetic.
func Append(amount int64, description string, txType model.TransactionType) (model.Transaction, error) {
	if !model.ValidTransactionType(txType) {
		return model.Transaction{}, apperror.ValidationFailed("type",
			"unknown transaction type: "+string(txType))
	}
	return model.Transaction{
		ID:          xid.New().String(),
		Amount:      amount,
		Description: description,
		Timestamp:   time.Now().UnixMilli(),
		Type:        txType,
	}, nil
}

// Commit applies tx to rec: adds the amount to the balance, prepends the
// transaction to the history (most-recent-first), and stamps lastUpdated.
// The updated record is returned for the caller to persist.
//
// Commit reads the record it is given, not storage. Two sessions that both
// hold a stale balance and commit concurrently will each compute from that
// stale base, and the second fan-out overwrites the first — a lost update.
// That race is an accepted property of the no-coordinator design, documented
// and tested rather than patched here; introducing a compare-and-swap is an
// explicit design decision for whoever needs stronger guarantees.
//
// No bounds check happens here either. Whether a spend is affordable is the
// caller's precondition, checked before Commit is ever reached.
func Commit(rec model.UserRecord, tx model.Transaction) model.UserRecord {
	out := rec.Clone()
	out.JackPoints = rec.JackPoints + tx.Amount
	out.Transactions = append([]model.Transaction{tx}, out.Transactions...)
	out.LastUpdated = time.Now().UnixMilli()
	return out
}

// SumAmounts totals a record's transaction history.
//
// The balance is EXPECTED to equal this sum, but nothing on the write path
// verifies it and no reconciliation pass exists — the invariant is
// documented as unenforced. This helper exists for audits and tests only.
func SumAmounts(rec model.UserRecord) int64 {
	var sum int64
	for _, tx := range rec.Transactions {
		sum += tx.Amount
	}
	return sum
}
