package domain

import (
	"errors"
	"fmt"
)

// ValidationError marks structurally invalid input (malformed payload, schema
// violation). It is always terminal: the retry layer refuses to retry it no
// matter what the message says.
type ValidationError struct {
	Op     string
	Reason string
}

// NewValidationError creates a ValidationError for the given operation.
func NewValidationError(op, reason string) error {
	return &ValidationError{Op: op, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed in %s: %s", e.Op, e.Reason)
}

// IsValidation reports whether err has a ValidationError in its chain.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ChainError is a chain/transaction failure annotated by the producing layer
// with an explicit recoverable flag. The retry layer uses the flag verbatim,
// ahead of any message-based classification.
type ChainError struct {
	Op          string
	Reason      string
	Recoverable bool
}

// NewChainError creates a ChainError with the given recoverable flag.
func NewChainError(op, reason string, recoverable bool) error {
	return &ChainError{Op: op, Reason: reason, Recoverable: recoverable}
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("chain operation %s failed: %s", e.Op, e.Reason)
}

// NotFoundError reports that the origin has no content for a key. Terminal:
// retrying cannot make absent content appear.
type NotFoundError struct {
	Key string
}

// NewNotFoundError creates a NotFoundError for the given content key.
func NewNotFoundError(key string) error {
	return &NotFoundError{Key: key}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("content %q not found at origin", e.Key)
}

// IsNotFound reports whether err has a NotFoundError in its chain.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// RetriesExhaustedError wraps the last underlying failure of a retried
// operation together with the operation name and the number of attempts made.
// This is what callers observe when a retryable operation still fails after
// the configured attempts.
type RetriesExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("operation %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Err
}

// IsRetriesExhausted reports whether err has a RetriesExhaustedError in its
// chain.
func IsRetriesExhausted(err error) bool {
	var re *RetriesExhaustedError
	return errors.As(err, &re)
}
