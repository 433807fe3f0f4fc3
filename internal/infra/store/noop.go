package store

import (
	"context"

	"github.com/duchft/blobcached/internal/core/domain"
)

// Noop is the stand-in used when the backing engine cannot be opened. Every
// read is a miss and every mutation succeeds without doing anything, which is
// exactly the degrade contract callers already have to live with.
type Noop struct {
	limits Limits
}

// NewNoop creates a Noop store reporting the given limits' schema version.
func NewNoop(limits Limits) *Noop {
	return &Noop{limits: limits}
}

func (n *Noop) Get(ctx context.Context, key string) (*domain.Entry, error) {
	return nil, ErrNotFound
}

func (n *Noop) Set(ctx context.Context, key string, payload []byte, meta domain.EntryMeta) error {
	return nil
}

func (n *Noop) Delete(ctx context.Context, key string) error {
	return nil
}

func (n *Noop) Clear(ctx context.Context) error {
	return nil
}

func (n *Noop) Cleanup(ctx context.Context) (*domain.SweepResult, error) {
	return &domain.SweepResult{}, nil
}

func (n *Noop) Stats(ctx context.Context) (*domain.Stats, error) {
	return &domain.Stats{SchemaVersion: n.limits.SchemaVersion}, nil
}

func (n *Noop) Export(ctx context.Context) (*domain.Snapshot, error) {
	return &domain.Snapshot{
		SchemaVersion: n.limits.SchemaVersion,
		Entries:       []*domain.Entry{},
		Metadata:      &domain.Metadata{SchemaVersion: n.limits.SchemaVersion},
	}, nil
}

func (n *Noop) Import(ctx context.Context, snap *domain.Snapshot) error {
	return nil
}

func (n *Noop) Close() error {
	return nil
}
