// Package replicate keeps the user registry consistent across every storage
// channel.
//
// The channels are independent and unsynchronized, so this package supplies
// the only discipline the system has: a fan-out write that pushes one
// serialized registry to every channel, and a merged read that walks the
// channels in fixed priority order and reconciles disagreements through
// per-channel merge policies. Nothing here locks anything — two replicators
// in different processes can interleave freely, and the design accepts the
// resulting last-writer-wins races.
package replicate

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/sakif/rewards-engine/internal/channel"
	"github.com/sakif/rewards-engine/internal/model"
	"github.com/sakif/rewards-engine/internal/notify"
)

// Channel is one registered replication target: a RegistryChannel plus the
// merge policy applied when its records meet a higher-priority candidate.
type Channel struct {
	channel.RegistryChannel
	Policy MergePolicy
}

// Replicator fans registry writes out to every channel and merges reads
// back into one authoritative view.
//
// The first registered channel is the primary: merged reads are written back
// to it (and only it) so the highest-priority store converges on the merged
// truth without re-triggering a full fan-out.
type Replicator struct {
	channels []Channel
	events   notify.Publisher // may be nil
	origin   string
	logger   *slog.Logger
}

// New creates a Replicator over channels, which must be in read-priority
// order with the primary first. events may be nil if no bus is wired.
func New(channels []Channel, events notify.Publisher, origin string, logger *slog.Logger) *Replicator {
	return &Replicator{
		channels: channels,
		events:   events,
		origin:   origin,
		logger:   logger,
	}
}

// Write fans the registry out to every channel.
//
// Channel failures are independent: each write is attempted regardless of
// how many before it failed, and a failure is logged and swallowed. Callers
// never see storage errors — a channel that cannot be written simply holds a
// stale copy until the next fan-out.
func (r *Replicator) Write(ctx context.Context, reg model.Registry) {
	for _, ch := range r.channels {
		if err := ch.WriteRegistry(ctx, reg); err != nil {
			r.logger.Warn("registry fan-out failed on channel",
				slog.String("channel", ch.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
	r.publish(ctx, reg)
}

// Read merges every channel's view of the registry.
//
// Channels are consulted in registration order. For each user key the first
// channel to mention it supplies the candidate; later channels may replace
// the candidate only if their merge policy says so. Per-channel read or
// parse failures are logged and that channel is skipped — a broken channel
// costs its own contribution, never the whole read.
//
// After merging, the result is written back to the primary channel only.
// This asymmetric write-back (distinct from the full fan-out in Write)
// repairs the primary from the other channels without amplifying every read
// into five writes.
func (r *Replicator) Read(ctx context.Context) model.Registry {
	merged := model.Registry{}

	for _, ch := range r.channels {
		snapshot, err := ch.ReadRegistry(ctx)
		if err != nil {
			r.logger.Warn("skipping unreadable channel during merge",
				slog.String("channel", ch.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		policy := ch.Policy
		if policy == nil {
			policy = FirstWins
		}
		for key, rec := range snapshot {
			candidate, exists := merged[key]
			if !exists || policy(candidate, rec) {
				merged[key] = rec
			}
		}
	}

	if len(r.channels) > 0 {
		if err := r.channels[0].WriteRegistry(ctx, merged); err != nil {
			r.logger.Warn("primary write-back after merge failed",
				slog.String("channel", r.channels[0].Name()),
				slog.String("error", err.Error()),
			)
		}
	}

	return merged
}

// Upsert reads the merged registry, replaces one record, and fans the result
// back out. This is the usual entry point for balance and profile changes.
func (r *Replicator) Upsert(ctx context.Context, rec model.UserRecord) model.Registry {
	reg := r.Read(ctx)
	reg.Put(rec)
	r.Write(ctx, reg)
	return reg
}

func (r *Replicator) publish(ctx context.Context, reg model.Registry) {
	if r.events == nil {
		return
	}
	payload, err := json.Marshal(reg)
	if err != nil {
		return
	}
	if err := r.events.Publish(ctx, notify.Event{
		Key:      model.KeyRegistry,
		NewValue: string(payload),
		Origin:   r.origin,
	}); err != nil {
		r.logger.Warn("publishing registry change failed",
			slog.String("error", err.Error()),
		)
	}
}
