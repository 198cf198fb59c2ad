package opqueue

import "context"

// Storage is the persistence collaborator the queue is built on: a flat
// key-value store with prefix enumeration. Implementations must be safe for
// concurrent use and, MemoryStorage excepted, survive process restarts.
type Storage interface {
	// Get returns the value for key, or (nil, nil) if the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// Keys returns every key beginning with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Connectivity reports whether the remote system is reachable and notifies
// on transitions. The concrete production implementation is
// *NATSConnectivity.
type Connectivity interface {
	Online() bool
	// OnChange registers a callback invoked on every online/offline
	// transition. Callbacks must not block.
	OnChange(fn func(online bool))
}

// SyncHandler processes one operation during a replay pass. Every
// registered handler sees every operation regardless of type; handlers are
// expected to no-op on types they do not own.
type SyncHandler func(ctx context.Context, op Operation) error
