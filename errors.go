package authcore

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidInput covers malformed arguments not matched by a more
	// specific error below.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidEmail is returned when an email address is not syntactically valid.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidPhone is returned when a phone number is not syntactically valid.
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrWeakPassword wraps the unmet password rule.
	ErrWeakPassword = errors.New("password does not meet strength requirements")
	// ErrPasswordReuse is returned when a new password equals the current one.
	ErrPasswordReuse = errors.New("new password must differ from the current password")
	// ErrInvalidTimeout is returned for session timeouts outside [5, 1440] minutes.
	ErrInvalidTimeout = errors.New("session timeout must be between 5 and 1440 minutes")
	// ErrUnknownPermission is returned for permission names outside the API key enumeration.
	ErrUnknownPermission = errors.New("unknown permission")
	// ErrHumanVerificationRequired is returned when a locked identity is
	// retried without a passing human verification token.
	ErrHumanVerificationRequired = errors.New("human verification required")
	// ErrPhoneNotSet is returned when phone verification is requested for an
	// identity without a phone number.
	ErrPhoneNotSet = errors.New("identity has no phone number")

	// ErrDuplicateEmail is returned when the email is already registered.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrDuplicatePhone is returned when the phone number belongs to another identity.
	ErrDuplicatePhone = errors.New("phone number already registered")
	// ErrSessionLimitExceeded is returned when an identity holds the maximum
	// number of live sessions.
	ErrSessionLimitExceeded = errors.New("session limit exceeded")
	// ErrTwoFactorAlreadyEnabled is returned when setup is started on an
	// identity whose two-factor enrolment is already active.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication already enabled")

	// ErrInvalidCredentials is the single failure for any bad login.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotVerified is returned when the identity's email is unverified.
	ErrNotVerified = errors.New("email not verified")
	// ErrInactive is returned when the identity is deactivated.
	ErrInactive = errors.New("account inactive")
	// ErrLocked is returned while a hard lockout is in force.
	ErrLocked = errors.New("account locked")
	// ErrRateLimited is returned when a rate window is full.
	ErrRateLimited = errors.New("too many attempts")
	// ErrInvalidCode is returned for a wrong verification, reset or
	// two-factor value.
	ErrInvalidCode = errors.New("invalid code")
	// ErrExpired is returned when a token or code is past its TTL.
	ErrExpired = errors.New("expired")
	// ErrNotFound is returned for unknown or not-owned sessions, keys,
	// identities and tokens.
	ErrNotFound = errors.New("not found")
	// ErrMissingPermission is returned when an API key lacks a required permission.
	ErrMissingPermission = errors.New("missing permission")
	// ErrInvalidKey is returned for absent or revoked API keys.
	ErrInvalidKey = errors.New("invalid api key")
	// ErrInvalidOwner is returned when an API key's identity is inactive.
	ErrInvalidOwner = errors.New("api key owner inactive")

	// ErrBackendUnavailable wraps storage failures.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrEngineNotReady is returned by methods on a nil or closed engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ErrorKind groups errors into the caller-facing taxonomy.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindInvalidInput
	KindConflict
	KindInvalidCredentials
	KindNotVerified
	KindInactive
	KindLocked
	KindRateLimited
	KindInvalidCode
	KindExpired
	KindNotFound
	KindMissingPermission
	KindInvalidKey
	KindInvalidOwner
	KindUnavailable
)

var kindNames = [...]string{
	KindUnknown:            "unknown",
	KindInvalidInput:       "invalid_input",
	KindConflict:           "conflict",
	KindInvalidCredentials: "invalid_credentials",
	KindNotVerified:        "not_verified",
	KindInactive:           "inactive",
	KindLocked:             "locked",
	KindRateLimited:        "rate_limited",
	KindInvalidCode:        "invalid_code",
	KindExpired:            "expired",
	KindNotFound:           "not_found",
	KindMissingPermission:  "missing_permission",
	KindInvalidKey:         "invalid_key",
	KindInvalidOwner:       "invalid_owner",
	KindUnavailable:        "unavailable",
}

func (k ErrorKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return kindNames[KindUnknown]
}

var kindTable = []struct {
	err  error
	kind ErrorKind
}{
	{ErrInvalidInput, KindInvalidInput},
	{ErrInvalidEmail, KindInvalidInput},
	{ErrInvalidPhone, KindInvalidInput},
	{ErrWeakPassword, KindInvalidInput},
	{ErrPasswordReuse, KindInvalidInput},
	{ErrInvalidTimeout, KindInvalidInput},
	{ErrUnknownPermission, KindInvalidInput},
	{ErrHumanVerificationRequired, KindInvalidInput},
	{ErrPhoneNotSet, KindInvalidInput},
	{ErrDuplicateEmail, KindConflict},
	{ErrDuplicatePhone, KindConflict},
	{ErrSessionLimitExceeded, KindConflict},
	{ErrTwoFactorAlreadyEnabled, KindConflict},
	{ErrInvalidCredentials, KindInvalidCredentials},
	{ErrNotVerified, KindNotVerified},
	{ErrInactive, KindInactive},
	{ErrLocked, KindLocked},
	{ErrRateLimited, KindRateLimited},
	{ErrInvalidCode, KindInvalidCode},
	{ErrExpired, KindExpired},
	{ErrNotFound, KindNotFound},
	{ErrMissingPermission, KindMissingPermission},
	{ErrInvalidKey, KindInvalidKey},
	{ErrInvalidOwner, KindInvalidOwner},
	{ErrBackendUnavailable, KindUnavailable},
	{ErrEngineNotReady, KindUnavailable},
}

// KindOf classifies err. Errors not produced by this package report
// [KindUnknown].
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	for _, entry := range kindTable {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindUnknown
}

// RetryError is returned for [ErrLocked] and [ErrRateLimited]. It unwraps to
// the sentinel and carries how long the caller should wait.
type RetryError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RetryError) Error() string {
	if e.RetryAfter <= 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s (retry in %d minutes)", e.Err.Error(), e.RemainingMinutes())
}

func (e *RetryError) Unwrap() error { return e.Err }

// RemainingMinutes rounds RetryAfter up to whole minutes.
func (e *RetryError) RemainingMinutes() int {
	if e.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(e.RetryAfter.Minutes()))
}

func retryError(sentinel error, after time.Duration) error {
	if after < 0 {
		after = 0
	}
	return &RetryError{Err: sentinel, RetryAfter: after}
}

func backendError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}
