package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/duchft/blobcached/internal/infra/store"
)

// Janitor periodically sweeps expired entries out of the cache so disk space
// is reclaimed even when nobody touches the expired keys.
type Janitor struct {
	store    store.Store
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
}

// NewJanitor creates a Janitor sweeping a cache with the given TTL. A zero
// interval derives one as a tenth of the TTL, clamped between one minute and
// one hour.
func NewJanitor(st store.Store, ttl, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = min(ttl/10, 1*time.Hour)
		interval = max(interval, 1*time.Minute)
	}

	return &Janitor{
		store:    st,
		ttl:      ttl,
		interval: interval,
		logger:   slog.With("component", "janitor"),
	}
}

// Start runs the sweep loop until ctx is canceled.
func (j *Janitor) Start(ctx context.Context) {
	if j.ttl <= 0 {
		return // Expiry disabled
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Initial sweep
	j.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	result, err := j.store.Cleanup(ctx)
	if err != nil {
		j.logger.Error("sweep failed", "error", err)
		return
	}
	if result.RemovedCount > 0 {
		j.logger.Info("swept expired entries",
			"removed", result.RemovedCount,
			"freed_bytes", result.FreedBytes)
	}
}
