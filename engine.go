package authcore

import (
	"context"
	"errors"
	"time"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/lockout"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/vault"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
	"go.uber.org/zap"
)

// Engine is the authentication core. Build one with [New] and [Builder.Build];
// all methods are safe for concurrent use.
type Engine struct {
	config      Config
	logger      *zap.Logger
	clock       Clock
	hasher      PasswordHasher
	generator   Generator
	human       HumanVerifier
	notifier    Notifier
	store       store.Store
	limiter     *rate.Limiter
	lockout     *lockout.Tracker
	vault       *vault.Vault
	sessions    *session.Manager
	totp        *totpManager
	permissions *permission.Registry
	audit       *internalaudit.Dispatcher
	metrics     *Metrics

	// totpAttempts counts wrong second-factor codes per identity. It shares
	// the lockout store under twoFactorAttemptKey.
	totpAttempts *lockout.Tracker

	// dummyHash is verified against when the email is unknown so both paths
	// pay for one hash comparison.
	dummyHash string
}

// Close stops the audit dispatcher after draining it. The store and Redis
// client belong to the caller and stay open.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Ping checks the credential store and, when Redis holds the state
// backends, the Redis connection.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if err := e.store.Ping(ctx); err != nil {
		return backendError(err)
	}
	latency, err := e.sessions.Ping(ctx)
	if err != nil {
		return backendError(err)
	}
	e.logger.Debug("backends reachable", zap.Duration("session_store_latency", latency))
	return nil
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

// AuditDropped reports how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observe(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, e.clock.Now().Sub(start))
}

func (e *Engine) now() time.Time {
	return e.clock.Now()
}

// padFailure sleeps until MinFailureDuration has passed since start.
func (e *Engine) padFailure(start time.Time) {
	floor := e.config.Security.MinFailureDuration
	if floor <= 0 {
		return
	}
	if elapsed := e.clock.Now().Sub(start); elapsed < floor {
		e.clock.Sleep(floor - elapsed)
	}
}

// rateGate checks and records one attempt on route for the caller's address.
func (e *Engine) rateGate(ctx context.Context, route string, now time.Time) error {
	err := e.limiter.Allow(ctx, route, clientIPFromContext(ctx), now)
	if err == nil {
		return nil
	}
	var limitErr *rate.LimitError
	if errors.As(err, &limitErr) {
		e.metricInc(MetricRateLimitHit)
		e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", ErrRateLimited, func() map[string]string {
			return map[string]string{
				"route": route,
				"scope": limitErr.Scope.String(),
			}
		})
		return retryError(ErrRateLimited, limitErr.RetryAfter)
	}
	return backendError(err)
}

func (e *Engine) notify(ctx context.Context, n Notification) {
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Warn("notification delivery failed",
			zap.String("kind", string(n.Kind)),
			zap.String("identity_id", n.IdentityID),
			zap.Error(err),
		)
	}
}

func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrDuplicateEmail):
		return ErrDuplicateEmail
	case errors.Is(err, store.ErrDuplicatePhone):
		return ErrDuplicatePhone
	default:
		return backendError(err)
	}
}

func mapSessionError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, session.ErrExpired):
		return ErrExpired
	case errors.Is(err, session.ErrInvalidTimeout):
		return ErrInvalidTimeout
	case errors.Is(err, session.ErrLimitExceeded):
		return ErrSessionLimitExceeded
	default:
		return backendError(err)
	}
}

func mapVaultError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, vault.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, vault.ErrExpired):
		return ErrExpired
	case errors.Is(err, vault.ErrMismatch):
		return ErrInvalidCode
	default:
		return backendError(err)
	}
}
