package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/rewards-engine/internal/channel"
)

const (
	outboxKeyPrefix = "outbox:"

	// MaxAttempts bounds retries per item; after the last failure the item
	// is dropped with a log line. Local state stays authoritative either way.
	MaxAttempts = 3
)

// retryBackoff returns the delay before the next attempt. Grows with each
// failure so a struggling remote is not hammered.
func retryBackoff(attempts int) time.Duration {
	return time.Duration(attempts) * 2 * time.Second
}

type itemKind string

const (
	kindBalance     itemKind = "balance"
	kindTransaction itemKind = "transaction"
)

// item is one pending mirror operation, durable in the outbox until it
// succeeds or exhausts its attempts.
type item struct {
	ID          string          `json:"id"`
	Kind        itemKind        `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	NextAttempt int64           `json:"nextAttempt"` // epoch ms
	CreatedAt   int64           `json:"createdAt"`   // epoch ms
}

// keyLister is the enumeration every durable adapter in this module provides.
type keyLister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Outbox is a durable queue of pending mirror pushes over any storage
// adapter that supports key enumeration. xid IDs sort by creation time, so
// enumerating keys yields rough FIFO order.
type Outbox struct {
	store  channel.Adapter
	lister keyLister
	logger *slog.Logger
}

func NewOutbox(store channel.Adapter, logger *slog.Logger) (*Outbox, error) {
	lister, ok := store.(keyLister)
	if !ok {
		return nil, errors.New("mirror: outbox store must support key enumeration")
	}
	return &Outbox{store: store, lister: lister, logger: logger}, nil
}

// EnqueueBalance queues a balance push. Fire-and-forget: enqueue failures
// are logged and swallowed, the local commit is already done.
func (o *Outbox) EnqueueBalance(ctx context.Context, req BalanceUpdate) {
	o.enqueue(ctx, kindBalance, req)
}

// EnqueueTransaction queues a transaction push.
func (o *Outbox) EnqueueTransaction(ctx context.Context, req TransactionAppend) {
	o.enqueue(ctx, kindTransaction, req)
}

func (o *Outbox) enqueue(ctx context.Context, kind itemKind, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		o.logger.Warn("mirror enqueue: encoding failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return
	}

	now := time.Now().UnixMilli()
	it := item{
		ID:        xid.New().String(),
		Kind:      kind,
		Payload:   raw,
		CreatedAt: now,
		// Immediately due.
		NextAttempt: now,
	}
	rawItem, err := json.Marshal(it)
	if err != nil {
		return
	}
	if err := o.store.Set(ctx, outboxKeyPrefix+it.ID, rawItem); err != nil {
		o.logger.Warn("mirror enqueue: persist failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}
}

// Pending returns how many items are waiting. Exposed for inspection — the
// whole point of the outbox over buried retry loops.
func (o *Outbox) Pending(ctx context.Context) int {
	keys, err := o.lister.Keys(ctx, outboxKeyPrefix)
	if err != nil {
		return 0
	}
	return len(keys)
}

// Flush attempts every due item once. Successes are removed; failures are
// rescheduled with backoff or dropped after MaxAttempts. Returns the number
// of items delivered.
func (o *Outbox) Flush(ctx context.Context, client Client) int {
	keys, err := o.lister.Keys(ctx, outboxKeyPrefix)
	if err != nil {
		o.logger.Warn("outbox flush: listing failed", slog.String("error", err.Error()))
		return 0
	}

	now := time.Now().UnixMilli()
	delivered := 0

	for _, key := range keys {
		raw, err := o.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var it item
		if err := json.Unmarshal(raw, &it); err != nil {
			// Undecodable queue entries can never succeed; drop them.
			o.logger.Warn("outbox flush: dropping undecodable item", slog.String("key", key))
			_ = o.store.Delete(ctx, key)
			continue
		}
		if it.NextAttempt > now {
			continue
		}

		if err := o.deliver(ctx, client, it); err != nil {
			it.Attempts++
			if it.Attempts >= MaxAttempts {
				o.logger.Warn("mirror push dropped after retries",
					slog.String("kind", string(it.Kind)),
					slog.Int("attempts", it.Attempts),
					slog.String("error", err.Error()),
				)
				_ = o.store.Delete(ctx, key)
				continue
			}
			it.NextAttempt = now + retryBackoff(it.Attempts).Milliseconds()
			if rescheduled, err := json.Marshal(it); err == nil {
				_ = o.store.Set(ctx, key, rescheduled)
			}
			continue
		}

		delivered++
		_ = o.store.Delete(ctx, key)
	}
	return delivered
}

func (o *Outbox) deliver(ctx context.Context, client Client, it item) error {
	switch it.Kind {
	case kindBalance:
		var req BalanceUpdate
		if err := json.Unmarshal(it.Payload, &req); err != nil {
			return err
		}
		return client.UpdateProfileBalance(ctx, req)
	case kindTransaction:
		var req TransactionAppend
		if err := json.Unmarshal(it.Payload, &req); err != nil {
			return err
		}
		return client.AppendTransaction(ctx, req)
	default:
		return errors.New("mirror: unknown outbox item kind " + string(it.Kind))
	}
}
