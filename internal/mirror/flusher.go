package mirror

import (
	"context"
	"log/slog"
	"time"
)

// Flusher drains the outbox in the background on a fixed interval.
type Flusher struct {
	outbox   *Outbox
	client   Client
	interval time.Duration
	logger   *slog.Logger
}

func NewFlusher(outbox *Outbox, client Client, interval time.Duration, logger *slog.Logger) *Flusher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Flusher{
		outbox:   outbox,
		client:   client,
		interval: interval,
		logger:   logger,
	}
}

// Run flushes until ctx is cancelled. Call it in its own goroutine; the
// caller never waits on it — that is the fire-and-forget contract.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := f.outbox.Flush(ctx, f.client); n > 0 {
				f.logger.Debug("mirror outbox flushed",
					slog.Int("delivered", n),
				)
			}
		}
	}
}
