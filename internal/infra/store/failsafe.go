package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/duchft/blobcached/internal/core/domain"
	"github.com/duchft/blobcached/internal/metrics"
)

// Failsafe wraps a Store and contains its failures. The cache is an optional
// accelerator: a broken backing engine must never break the caller, so reads
// degrade to misses and mutations to no-ops, with the real error logged and
// counted. Export/Import are deliberate admin operations and keep their
// errors.
type Failsafe struct {
	inner  Store
	logger *slog.Logger
}

// NewFailsafe wraps inner with degrade-on-failure semantics.
func NewFailsafe(inner Store) *Failsafe {
	return &Failsafe{
		inner:  inner,
		logger: slog.With("component", "store"),
	}
}

func (f *Failsafe) suppress(op string, err error) {
	f.logger.Error("cache operation failed, degrading", "operation", op, "error", err)
	metrics.CacheErrors.WithLabelValues(op).Inc()
}

func (f *Failsafe) Get(ctx context.Context, key string) (*domain.Entry, error) {
	entry, err := f.inner.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		f.suppress("get", err)
		return nil, ErrNotFound
	}
	return entry, nil
}

func (f *Failsafe) Set(ctx context.Context, key string, payload []byte, meta domain.EntryMeta) error {
	if err := f.inner.Set(ctx, key, payload, meta); err != nil {
		f.suppress("set", err)
	}
	return nil
}

func (f *Failsafe) Delete(ctx context.Context, key string) error {
	if err := f.inner.Delete(ctx, key); err != nil {
		f.suppress("delete", err)
	}
	return nil
}

func (f *Failsafe) Clear(ctx context.Context) error {
	if err := f.inner.Clear(ctx); err != nil {
		f.suppress("clear", err)
	}
	return nil
}

func (f *Failsafe) Cleanup(ctx context.Context) (*domain.SweepResult, error) {
	result, err := f.inner.Cleanup(ctx)
	if err != nil {
		f.suppress("cleanup", err)
		return &domain.SweepResult{}, nil
	}
	return result, nil
}

func (f *Failsafe) Stats(ctx context.Context) (*domain.Stats, error) {
	stats, err := f.inner.Stats(ctx)
	if err != nil {
		f.suppress("stats", err)
		return &domain.Stats{}, nil
	}
	return stats, nil
}

func (f *Failsafe) Export(ctx context.Context) (*domain.Snapshot, error) {
	return f.inner.Export(ctx)
}

func (f *Failsafe) Import(ctx context.Context, snap *domain.Snapshot) error {
	return f.inner.Import(ctx, snap)
}

func (f *Failsafe) Close() error {
	return f.inner.Close()
}
