package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/internal/lockout"
	"github.com/MrEthical07/authcore/internal/random"
	"github.com/MrEthical07/authcore/internal/vault"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
	"go.uber.org/zap"
)

// Login verifies email and password.
//
// The checks run in a fixed order: rate windows (global, IP, login route),
// email syntax, lockout, credential, then the verified and active flags. A
// wrong password and an unknown email both fail with [ErrInvalidCredentials],
// and both record a lockout failure against the email. While a hard lockout
// is in force every attempt fails with a [*RetryError] wrapping [ErrLocked],
// even with the right password.
//
// For identities with two-factor enabled the result carries only
// RequiresTwoFactor and TempToken; call [Engine.CompleteTwoFactorLogin] next.
// Otherwise it carries a new session.
//
// Every failing call returns no earlier than Security.MinFailureDuration
// after entry.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	start := e.now()
	result, err := e.login(ctx, req, start)
	if err != nil {
		e.padFailure(start)
		return nil, err
	}
	return result, nil
}

func (e *Engine) login(ctx context.Context, req LoginRequest, now time.Time) (*LoginResult, error) {
	if err := e.rateGate(ctx, RouteLogin, now); err != nil {
		e.metricInc(MetricLoginRateLimited)
		return nil, err
	}

	if !validEmail(req.Email) {
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidEmail
	}

	if err := e.lockoutGate(ctx, req, now); err != nil {
		return nil, err
	}

	identity, err := e.store.Identities().GetByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, backendError(err)
	}

	if identity == nil {
		// Pay for one comparison so an unknown email costs the same as a
		// wrong password.
		_, _ = e.hasher.Verify(req.Password, e.dummyHash)
		return nil, e.loginFailed(ctx, req.Email, "", now)
	}

	ok, err := e.hasher.Verify(req.Password, identity.PasswordHash)
	if err != nil || !ok {
		return nil, e.loginFailed(ctx, req.Email, identity.ID, now)
	}

	if !identity.EmailVerified {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, identity.ID, "", ErrNotVerified, nil)
		return nil, ErrNotVerified
	}
	if !identity.Active {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, identity.ID, "", ErrInactive, nil)
		return nil, ErrInactive
	}

	if err := e.lockout.RecordSuccess(ctx, req.Email); err != nil {
		return nil, backendError(err)
	}
	e.recordLogin(ctx, identity.ID, now)
	e.upgradeHash(ctx, identity, req.Password)

	enrolment, err := e.store.TwoFactor().Get(ctx, identity.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, backendError(err)
	}
	if enrolment != nil && enrolment.Enabled {
		return e.beginTwoFactorChallenge(ctx, identity.ID, now)
	}

	result, err := e.issueSession(ctx, identity, now)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, identity.ID, result.SessionID, nil, nil)
	return result, nil
}

// lockoutGate enforces the hard tier only. Soft delays are advisory and
// never block.
func (e *Engine) lockoutGate(ctx context.Context, req LoginRequest, now time.Time) error {
	state, err := e.lockout.State(ctx, req.Email, now)
	if err != nil {
		return backendError(err)
	}
	policy := e.lockout.Policy()
	if !state.Hard(policy) {
		return nil
	}

	if state.Locked(now) {
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, auditEventLoginLocked, false, "", "", ErrLocked, nil)
		return retryError(ErrLocked, state.Remaining(now))
	}

	// The window has elapsed but the counter still sits at the hard
	// threshold until a successful login clears it.
	if e.human == nil {
		return nil
	}
	if req.HumanVerificationToken == "" {
		return ErrHumanVerificationRequired
	}
	passed, err := e.human.Verify(ctx, req.HumanVerificationToken)
	if err != nil {
		return backendError(err)
	}
	if !passed {
		return ErrHumanVerificationRequired
	}
	return nil
}

func (e *Engine) loginFailed(ctx context.Context, email, identityID string, now time.Time) error {
	e.metricInc(MetricLoginFailure)
	state, err := e.lockout.RecordFailure(ctx, email, now)
	if err != nil {
		return backendError(err)
	}
	e.emitAudit(ctx, auditEventLoginFailure, false, identityID, "", ErrInvalidCredentials, nil)

	if state.Failures == e.lockout.Policy().HardThreshold {
		e.metricInc(MetricLockoutTriggered)
		e.logger.Info("identity locked after repeated failures",
			zap.String("identity_id", identityID),
			zap.Time("locked_until", state.LockedUntil),
		)
		e.emitAudit(ctx, auditEventLockoutTriggered, false, identityID, "", ErrLocked, nil)
	}
	return ErrInvalidCredentials
}

func (e *Engine) recordLogin(ctx context.Context, identityID string, now time.Time) {
	err := e.store.Identities().AppendLoginEvent(ctx, store.LoginEvent{
		IdentityID: identityID,
		Address:    clientIPFromContext(ctx),
		UserAgent:  userAgentFromContext(ctx),
		At:         now,
	})
	if err != nil {
		e.logger.Warn("login history append failed", zap.String("identity_id", identityID), zap.Error(err))
	}
}

type upgradeableHasher interface {
	NeedsUpgrade(encoded string) (bool, error)
}

// upgradeHash rehashes plaintext when the stored hash is weaker than the
// current parameters. Failures are logged and never fail the login.
func (e *Engine) upgradeHash(ctx context.Context, identity *store.Identity, plaintext string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	u, ok := e.hasher.(upgradeableHasher)
	if !ok {
		return
	}
	needs, err := u.NeedsUpgrade(identity.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.hasher.Hash(plaintext)
	if err != nil {
		e.logger.Warn("password rehash failed", zap.String("identity_id", identity.ID), zap.Error(err))
		return
	}
	previous := identity.PasswordHash
	_, err = e.store.Identities().Update(ctx, identity.ID, func(i *store.Identity) error {
		// Skip if the password changed concurrently.
		if i.PasswordHash != previous {
			return nil
		}
		i.PasswordHash = hash
		return nil
	})
	if err != nil {
		e.logger.Warn("password rehash store failed", zap.String("identity_id", identity.ID), zap.Error(err))
	}
}

func (e *Engine) beginTwoFactorChallenge(ctx context.Context, identityID string, now time.Time) (*LoginResult, error) {
	temp, err := e.generator.Token(32)
	if err != nil {
		return nil, err
	}
	err = e.vault.Issue(ctx, vault.PurposeTwoFactor, random.HashHex(temp), identityID, temp, e.config.TwoFactor.ChallengeTTL, now)
	if err != nil {
		return nil, backendError(err)
	}
	e.metricInc(MetricTwoFactorRequired)
	e.emitAudit(ctx, auditEventTwoFactorRequired, true, identityID, "", nil, nil)
	return &LoginResult{RequiresTwoFactor: true, TempToken: temp}, nil
}

// issueSession mints a session for identity and returns it with the
// one-time view of its token.
func (e *Engine) issueSession(ctx context.Context, identity *store.Identity, now time.Time) (*LoginResult, error) {
	id, err := e.generator.NewID()
	if err != nil {
		return nil, err
	}
	token, err := e.generator.Token(e.config.Session.TokenBytes)
	if err != nil {
		return nil, err
	}
	record, err := e.sessions.Create(ctx, session.NewRecord{
		ID:         id,
		IdentityID: identity.ID,
		TokenHash:  random.Hash(token),
		Address:    clientIPFromContext(ctx),
		UserAgent:  userAgentFromContext(ctx),
	}, now)
	if err != nil {
		return nil, mapSessionError(err)
	}
	e.metricInc(MetricSessionCreated)
	return &LoginResult{
		SessionID: record.ID,
		Token:     token,
		ExpiresAt: record.ExpiresAt(),
		Identity:  identity.Sanitized(),
	}, nil
}

// LockoutStatus is the lockout view of one email.
type LockoutStatus struct {
	Failures    int
	LockedUntil time.Time
	// Locked is true while LockedUntil is in the future, for either tier.
	Locked bool
	// Hard is true once the failure count reached the hard threshold.
	Hard bool
}

// LockoutStatus reports the lockout state recorded for email.
func (e *Engine) LockoutStatus(ctx context.Context, email string) (LockoutStatus, error) {
	if e == nil {
		return LockoutStatus{}, ErrEngineNotReady
	}
	now := e.now()
	state, err := e.lockout.State(ctx, email, now)
	if err != nil {
		return LockoutStatus{}, backendError(err)
	}
	return lockoutStatus(state, e.lockout.Policy(), now), nil
}

func lockoutStatus(s lockout.State, p lockout.Policy, now time.Time) LockoutStatus {
	return LockoutStatus{
		Failures:    s.Failures,
		LockedUntil: s.LockedUntil,
		Locked:      s.Locked(now),
		Hard:        s.Hard(p),
	}
}
