package authcore

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/random"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
	"go.uber.org/zap"
)

// PasswordHasher hashes and verifies secrets. [password.Argon2] and
// [password.Bcrypt] both satisfy it.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, encoded string) (bool, error)
}

// Generator supplies identifiers and secrets. Token returns size random
// bytes in a URL-safe encoding; Code returns a numeric code of the given
// number of digits.
type Generator interface {
	NewID() (string, error)
	Token(size int) (string, error)
	Code(digits int) (string, error)
	Bytes(n int) ([]byte, error)
}

// sortableIDGenerator is implemented by generators that can mint
// time-ordered ids. API key ids use it when available.
type sortableIDGenerator interface {
	SortableID() (string, error)
}

// DefaultGenerator returns the crypto/rand backed generator.
func DefaultGenerator() Generator {
	return random.Source{}
}

// HumanVerifier checks an anti-automation token (a CAPTCHA response or
// similar). It is consulted once a hard lockout window has elapsed and the
// failure counter still sits at the threshold. Without one the check is
// skipped.
type HumanVerifier interface {
	Verify(ctx context.Context, token string) (bool, error)
}

// HumanVerifierFunc adapts a function to [HumanVerifier].
type HumanVerifierFunc func(ctx context.Context, token string) (bool, error)

func (f HumanVerifierFunc) Verify(ctx context.Context, token string) (bool, error) {
	return f(ctx, token)
}

// Clock is the time source. Sleep pads failing logins.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// NotificationKind says what an issued value is for.
type NotificationKind string

const (
	NotifyEmailVerification NotificationKind = "email_verification"
	NotifyPhoneVerification NotificationKind = "phone_verification"
	NotifyPasswordReset     NotificationKind = "password_reset"
)

// Notification carries a freshly issued secret to the delivery channel.
// Destination is an email address or phone number.
type Notification struct {
	Kind        NotificationKind
	IdentityID  string
	Destination string
	Value       string
	ExpiresAt   time.Time
}

// Notifier delivers issued codes and tokens. Delivery errors are logged and
// never fail the issuing operation.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Notification) error { return nil }

// Identity is a registered account as returned to callers. Hash fields are
// always empty.
type Identity = store.Identity

// LoginRecord is one entry of an identity's login history.
type LoginRecord = store.LoginEvent

// Session is a live session record.
type Session = session.Record

// SecurityAnswer is a question with its plaintext answer.
type SecurityAnswer struct {
	Question string
	Answer   string
}

// RegisterRequest holds the fields accepted at registration.
type RegisterRequest struct {
	Email             string
	Password          string
	FirstName         string
	LastName          string
	Phone             string
	SecurityQuestions []SecurityAnswer
}

// LoginRequest holds login credentials. HumanVerificationToken is only
// consulted for hard-locked identities.
type LoginRequest struct {
	Email                  string
	Password               string
	HumanVerificationToken string
}

// LoginResult is either a pending two-factor challenge (RequiresTwoFactor
// with TempToken) or an issued session.
type LoginResult struct {
	RequiresTwoFactor bool
	TempToken         string

	SessionID string
	// Token is the opaque session token. It is returned only here.
	Token     string
	ExpiresAt time.Time
	Identity  *Identity
}

// TwoFactorSetup is the pending enrolment returned by BeginTwoFactorSetup.
type TwoFactorSetup struct {
	Secret string
	URI    string
}

// APIKeyRequest describes a key to issue.
type APIKeyRequest struct {
	Name        string
	Description string
	Permissions []string
}

// APIKeyPatch changes an active key. Nil fields are left as they are.
type APIKeyPatch struct {
	Name        *string
	Description *string
	Permissions []string
}

// IssuedAPIKey is returned once at issue time. Key is the full secret.
type IssuedAPIKey struct {
	ID          string
	Key         string
	Name        string
	Description string
	Permissions []string
	CreatedAt   time.Time
}

// APIKeyInfo is the masked listing form of a key.
type APIKeyInfo struct {
	ID          string
	Name        string
	Description string
	MaskedKey   string
	Permissions []string
	CreatedAt   time.Time
	LastUsed    *time.Time
}

// APIKeyGrant is the result of a successful key validation.
type APIKeyGrant struct {
	KeyID       string
	IdentityID  string
	Permissions []string
}

// AuditEvent is re-exported from the internal dispatcher.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events on the dispatcher goroutine.
type AuditSink = internalaudit.Sink

// AuditSinkFunc adapts a function to [AuditSink].
type AuditSinkFunc = internalaudit.SinkFunc

type NoOpSink = internalaudit.NoOpSink

type ChannelSink = internalaudit.ChannelSink

type JSONWriterSink = internalaudit.JSONWriterSink

type ZapSink = internalaudit.ZapSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewZapSink logs audit events through logger.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return internalaudit.NewZapSink(logger)
}
