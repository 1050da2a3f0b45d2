// Package channel defines the storage-channel abstraction the replication
// engine is built on.
//
// A channel is one physical storage backend holding a copy of the engine's
// data: the primary durable store, a secondary snapshot store, an in-memory
// shared object, a mirror store, and a per-user cookie jar. The channels are
// independent and unsynchronized — no channel knows about any other, nothing
// enforces exclusivity, and two writers can race freely. All discipline
// (read-priority order, cookie-recency override) lives above this package in
// the replicator.
//
// WHY AN INTERFACE?
// The original design reached one of its channels through an ambient
// process-wide object. Here every channel is an explicit Adapter instance
// handed to its consumers by reference, so tests can substitute any channel
// and nothing depends on package-level state.
package channel

import (
	"context"

	"github.com/sakif/rewards-engine/internal/model"
)

// Adapter is a uniform key/value view of one storage channel.
//
// Get returns apperror.ErrNotFound (wrapped) for an absent key, and
// apperror.ErrUnavailable for a channel that cannot be reached. Callers in
// this engine never propagate either — a failing channel degrades to "empty".
type Adapter interface {
	// Name identifies the channel in logs and merge decisions.
	Name() string
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// RegistryChannel reads and writes a full user registry on one channel.
//
// Most channels store the registry as one JSON blob under the registry key
// (see KVRegistry). The cookie jar is the exception: it materializes the
// registry as one reduced-field cookie per user, so it implements this
// interface natively.
type RegistryChannel interface {
	Name() string
	ReadRegistry(ctx context.Context) (model.Registry, error)
	WriteRegistry(ctx context.Context, reg model.Registry) error
}
