package retry

import (
	"context"
	"errors"
	"strings"

	"github.com/duchft/blobcached/internal/core/domain"
)

// Action determines how to handle an error.
type Action int

const (
	ActionStop Action = iota
	ActionRetry
)

// Classify determines the action for a given error. Precedence matters:
// a validation error is terminal even when its message mentions "timeout",
// and an explicit recoverable flag outranks any message heuristic.
func Classify(err error) Action {
	if err == nil {
		return ActionStop
	}

	// Structural failures cannot be fixed by retrying.
	if domain.IsValidation(err) {
		return ActionStop
	}

	// Domain errors carry their own verdict.
	var ce *domain.ChainError
	if errors.As(err, &ce) {
		if ce.Recoverable {
			return ActionRetry
		}
		return ActionStop
	}

	// An expired attempt deadline is a transient network condition; a
	// canceled context means the caller gave up.
	if errors.Is(err, context.DeadlineExceeded) {
		return ActionRetry
	}
	if errors.Is(err, context.Canceled) {
		return ActionStop
	}

	// Message heuristics for errors nobody typed.
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "network") || strings.Contains(s, "timeout") ||
		strings.Contains(s, "connection") || strings.Contains(s, "fetch") {
		return ActionRetry
	}

	// Unclassified by message: do not retry.
	return ActionStop
}

// Retryable reports whether err should be retried.
func Retryable(err error) bool {
	return Classify(err) == ActionRetry
}
