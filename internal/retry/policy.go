package retry

import (
	"math"
	"time"
)

// Policy defines retry behavior.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Exponential bool
}

// DefaultPolicy provides sensible defaults.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   1 * time.Second,
	MaxDelay:    10 * time.Second,
	Exponential: true,
}

// Delay returns the wait before the next attempt, given the attempt that just
// failed. Attempts count from 1; no delay precedes the first attempt. In
// exponential mode the delay doubles per attempt and saturates at MaxDelay,
// which caps the result even when MaxDelay < BaseDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if !p.Exponential {
		return p.BaseDelay
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}
