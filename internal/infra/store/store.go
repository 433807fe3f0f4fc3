package store

import (
	"context"
	"errors"
	"time"

	"github.com/duchft/blobcached/internal/core/domain"
)

var (
	// ErrNotFound is returned when a key has no live entry (absent or expired)
	ErrNotFound = errors.New("entry not found")
)

// Limits bounds a store. TTL is measured against CreatedAt, so a Get that
// refreshes recency does not extend an entry's life.
type Limits struct {
	MaxSizeBytes  int64
	MaxEntries    int64
	TTL           time.Duration
	SchemaVersion int
}

// DefaultLimits provides sensible defaults.
var DefaultLimits = Limits{
	MaxSizeBytes:  50 * 1024 * 1024,
	MaxEntries:    1000,
	TTL:           24 * time.Hour,
	SchemaVersion: 1,
}

// Store is a quota-bounded content cache. Every mutation keeps the aggregate
// metadata (total bytes, entry count) consistent with the live entry set
// within the same transaction.
type Store interface {
	// Get retrieves a live entry and refreshes its recency. Expired entries
	// are deleted on the way out (lazy expiry) and reported as ErrNotFound.
	Get(ctx context.Context, key string) (*domain.Entry, error)

	// Set writes an entry, evicting least-recently-used entries first if the
	// write would exceed the size or count bound. Overwrites replace the old
	// entry's size in the accounting without incrementing the count.
	Set(ctx context.Context, key string, payload []byte, meta domain.EntryMeta) error

	// Delete removes an entry. No-op if absent.
	Delete(ctx context.Context, key string) error

	// Clear removes all entries and resets the metadata aggregate.
	Clear(ctx context.Context) error

	// Cleanup deletes every entry older than the TTL and refreshes the
	// metadata's last-cleanup timestamp.
	Cleanup(ctx context.Context) (*domain.SweepResult, error)

	// Stats reports the current aggregate state without mutating anything.
	Stats(ctx context.Context) (*domain.Stats, error)

	// Export dumps the full live state for backup or migration.
	Export(ctx context.Context) (*domain.Snapshot, error)

	// Import destructively replaces the store contents with the snapshot,
	// re-stamping every entry with the store's current schema version.
	Import(ctx context.Context, snap *domain.Snapshot) error

	// Close releases the backing engine.
	Close() error
}
