package retry

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/duchft/blobcached/internal/core/domain"
	"github.com/duchft/blobcached/internal/metrics"
)

// Do executes fn with retry and backoff. Attempts start at 1; fn runs once
// even before any delay. A non-retryable classification or running out of
// attempts both surface a RetriesExhaustedError carrying op, the attempts
// actually made, and the last underlying error. Each retry logs the attempt,
// delay and error before sleeping; the sleep respects ctx cancellation.
func Do[T any](ctx context.Context, op string, policy Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	// Metric label uses the operation family only ("fetch:abc" -> "fetch")
	// to keep cardinality bounded.
	family, _, _ := strings.Cut(op, ":")

	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if Classify(err) == ActionStop || attempt == attempts {
			metrics.RetriesExhausted.WithLabelValues(family).Inc()
			return zero, &domain.RetriesExhaustedError{Op: op, Attempts: attempt, Err: lastErr}
		}

		delay := policy.Delay(attempt)
		slog.Warn("retrying operation",
			"op", op,
			"attempt", attempt,
			"delay", delay,
			"error", err)
		metrics.RetryAttempts.WithLabelValues(family).Inc()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, &domain.RetriesExhaustedError{Op: op, Attempts: attempts, Err: lastErr}
}
