package rate

import (
	"errors"
	"time"
)

var (
	// ErrRateLimited reports that a scope's window is full.
	ErrRateLimited = errors.New("rate limited")
	// ErrBackendUnavailable reports a window store failure.
	ErrBackendUnavailable = errors.New("rate backend unavailable")
)

// LimitError carries the breached scope and the time until the oldest counted
// attempt leaves the window.
type LimitError struct {
	Scope      Scope
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return "rate limited (" + e.Scope.String() + ")"
}

// Unwrap lets errors.Is match ErrRateLimited.
func (e *LimitError) Unwrap() error { return ErrRateLimited }
