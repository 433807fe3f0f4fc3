package warm

import (
	"context"
	"log/slog"
	"time"

	"github.com/duchft/blobcached/internal/core/domain"
	"github.com/duchft/blobcached/internal/fetch"
	redisclient "github.com/duchft/blobcached/internal/infra/redis"
	"github.com/duchft/blobcached/internal/metrics"
)

// Queue provides the pending warm tasks.
type Queue interface {
	// PopTask pops the oldest warm task from the queue.
	PopTask(ctx context.Context) (task string, found bool, err error)

	// PushTask adds a warm task to the queue.
	PushTask(ctx context.Context, task string) error
}

// Prefetcher pulls content into the cache.
type Prefetcher interface {
	// Prefetch fetches content and stores it, discarding the payload.
	Prefetch(ctx context.Context, key string, kind fetch.Kind) error
}

// WorkerConfig holds configuration for a warm worker.
type WorkerConfig struct {
	EmptySleep  time.Duration // how long to sleep when the queue is empty
	TaskTimeout time.Duration // per-task fetch deadline
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() WorkerConfig {
	return WorkerConfig{
		EmptySleep:  10 * time.Second,
		TaskTimeout: 1 * time.Minute,
	}
}

// Worker drains the warm queue and prefetches the named content so that
// later reads are served from the cache.
type Worker struct {
	cfg     WorkerConfig
	queue   Queue
	fetcher Prefetcher
	log     *slog.Logger
}

// NewWorker creates a warm worker.
func NewWorker(cfg WorkerConfig, queue Queue, fetcher Prefetcher) *Worker {
	if cfg.EmptySleep <= 0 {
		cfg.EmptySleep = DefaultConfig().EmptySleep
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultConfig().TaskTimeout
	}
	return &Worker{
		cfg:     cfg,
		queue:   queue,
		fetcher: fetcher,
		log:     slog.Default().With("component", "warm"),
	}
}

// Run processes warm tasks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("warm worker started", "empty_sleep", w.cfg.EmptySleep)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("warm worker stopped")
			return
		default:
		}

		task, found, err := w.queue.PopTask(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.log.Info("warm worker stopped")
				return
			}
			w.log.Error("failed to pop warm task", "error", err)
			w.sleep(ctx, w.cfg.EmptySleep)
			continue
		}
		if !found {
			w.sleep(ctx, w.cfg.EmptySleep)
			continue
		}

		w.process(ctx, task)
	}
}

func (w *Worker) process(ctx context.Context, task string) {
	kind, key, err := redisclient.ParseTask(task)
	if err != nil {
		w.log.Warn("dropping malformed warm task", "task", task, "error", err)
		metrics.WarmTasks.WithLabelValues("dropped").Inc()
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, w.cfg.TaskTimeout)
	defer cancel()

	err = w.fetcher.Prefetch(taskCtx, key, fetch.Kind(kind))
	switch {
	case err == nil:
		w.log.Debug("warmed content", "kind", kind, "key", key)
		metrics.WarmTasks.WithLabelValues("warmed").Inc()

	case domain.IsNotFound(err) || domain.IsValidation(err):
		// Terminal failures never succeed on a later pass, so drop them.
		w.log.Warn("dropping warm task", "kind", kind, "key", key, "error", err)
		metrics.WarmTasks.WithLabelValues("dropped").Inc()

	default:
		w.log.Warn("requeuing failed warm task", "kind", kind, "key", key, "error", err)
		metrics.WarmTasks.WithLabelValues("requeued").Inc()

		// The pop already consumed the task, so push it back even when the
		// worker is shutting down.
		pushCtx, pushCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer pushCancel()
		if pushErr := w.queue.PushTask(pushCtx, task); pushErr != nil {
			w.log.Error("failed to requeue warm task", "task", task, "error", pushErr)
		}
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
