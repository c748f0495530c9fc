package session

import "time"

// Record is a stored session.
type Record struct {
	ID         string
	IdentityID string
	TokenHash  [32]byte

	CreatedAt  time.Time
	LastActive time.Time
	LastSeen   time.Time

	TimeoutMinutes   int
	ExtendOnActivity bool

	Address   string
	UserAgent string
}

// Timeout returns the inactivity timeout as a duration.
func (r *Record) Timeout() time.Duration {
	return time.Duration(r.TimeoutMinutes) * time.Minute
}

// Valid reports whether the inactivity window is still open at now.
func (r *Record) Valid(now time.Time) bool {
	return now.Sub(r.LastActive) < r.Timeout()
}

// ExpiresAt is the instant the session lapses absent further activity.
func (r *Record) ExpiresAt() time.Time {
	return r.LastActive.Add(r.Timeout())
}

// Policy is the per-identity timeout configuration.
type Policy struct {
	TimeoutMinutes   int
	ExtendOnActivity bool
}

const (
	MinTimeoutMinutes = 5
	MaxTimeoutMinutes = 1440
)

// DefaultPolicy is a 30 minute timeout extended on activity.
func DefaultPolicy() Policy {
	return Policy{TimeoutMinutes: 30, ExtendOnActivity: true}
}

// Validate checks the timeout bounds.
func (p Policy) Validate() error {
	if p.TimeoutMinutes < MinTimeoutMinutes || p.TimeoutMinutes > MaxTimeoutMinutes {
		return ErrInvalidTimeout
	}
	return nil
}
