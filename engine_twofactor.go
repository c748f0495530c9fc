package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/internal/random"
	"github.com/MrEthical07/authcore/internal/vault"
	"github.com/MrEthical07/authcore/store"
)

// BeginTwoFactorSetup generates a new TOTP secret for identityID and stores
// it as pending. Calling it again before confirmation replaces the pending
// secret. It fails with [ErrTwoFactorAlreadyEnabled] once enabled.
func (e *Engine) BeginTwoFactorSetup(ctx context.Context, identityID string) (*TwoFactorSetup, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	identity, err := e.store.Identities().GetByID(ctx, identityID)
	if err != nil {
		return nil, mapStoreError(err)
	}

	current, err := e.twoFactorRecord(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if current != nil && current.Enabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	raw, err := e.generator.Bytes(int(e.config.TwoFactor.SecretSize))
	if err != nil {
		return nil, err
	}
	secret, uri, err := e.totp.Generate(identity.Email, raw)
	if err != nil {
		return nil, err
	}

	err = e.store.TwoFactor().Put(ctx, &store.TwoFactorSecret{
		IdentityID: identityID,
		Secret:     secret,
		Enabled:    false,
		CreatedAt:  e.now(),
	})
	if err != nil {
		return nil, mapStoreError(err)
	}

	e.emitAudit(ctx, auditEventTwoFactorSetup, true, identityID, "", nil, nil)
	return &TwoFactorSetup{Secret: secret, URI: uri}, nil
}

// ConfirmTwoFactorSetup enables the pending secret when code matches it. A
// wrong code, or no pending secret, fails with [ErrInvalidCode] and leaves the
// enrolment pending.
func (e *Engine) ConfirmTwoFactorSetup(ctx context.Context, identityID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	current, err := e.twoFactorRecord(ctx, identityID)
	if err != nil {
		return err
	}
	if current == nil {
		return ErrInvalidCode
	}
	if current.Enabled {
		return ErrTwoFactorAlreadyEnabled
	}
	step, err := e.checkTOTP(ctx, current, code, e.now())
	if err != nil {
		return err
	}

	current.Enabled = true
	current.LastUsedCounter = step
	if err := e.store.TwoFactor().Put(ctx, current); err != nil {
		return mapStoreError(err)
	}
	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, identityID, "", nil, nil)
	return nil
}

// CompleteTwoFactorLogin finishes a login that returned RequiresTwoFactor.
// A correct code consumes tempToken and issues a session; a wrong code
// leaves tempToken usable until it expires.
func (e *Engine) CompleteTwoFactorLogin(ctx context.Context, tempToken, code string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	now := e.now()
	if err := e.rateGate(ctx, RouteTwoFactor, now); err != nil {
		return nil, err
	}
	if tempToken == "" {
		return nil, ErrNotFound
	}

	key := random.HashHex(tempToken)
	pending, err := e.vault.Lookup(ctx, vault.PurposeTwoFactor, key, now)
	if err != nil {
		return nil, mapVaultError(err)
	}
	identityID := pending.Subject

	current, err := e.twoFactorRecord(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if current == nil || !current.Enabled {
		return nil, ErrInvalidCode
	}
	if _, err := e.checkTOTP(ctx, current, code, now); err != nil {
		return nil, err
	}

	if _, err := e.vault.Consume(ctx, vault.PurposeTwoFactor, key, tempToken, now); err != nil {
		// Lost a race with a concurrent completion.
		return nil, mapVaultError(err)
	}

	identity, err := e.store.Identities().GetByID(ctx, identityID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if !identity.Active {
		return nil, ErrInactive
	}

	result, err := e.issueSession(ctx, identity, now)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricTwoFactorSuccess)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventTwoFactorSuccess, true, identityID, result.SessionID, nil, nil)
	return result, nil
}

// DisableTwoFactor removes an enabled enrolment after checking code.
func (e *Engine) DisableTwoFactor(ctx context.Context, identityID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	current, err := e.twoFactorRecord(ctx, identityID)
	if err != nil {
		return err
	}
	if current == nil || !current.Enabled {
		return ErrInvalidCode
	}
	if _, err := e.checkTOTP(ctx, current, code, e.now()); err != nil {
		return err
	}
	if err := e.store.TwoFactor().Delete(ctx, identityID); err != nil {
		return mapStoreError(err)
	}
	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, identityID, "", nil, nil)
	return nil
}

// TwoFactorEnabled reports whether identityID has a confirmed enrolment.
func (e *Engine) TwoFactorEnabled(ctx context.Context, identityID string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	current, err := e.twoFactorRecord(ctx, identityID)
	if err != nil {
		return false, err
	}
	return current != nil && current.Enabled, nil
}

// twoFactorRecord returns nil without error when there is no enrolment.
func (e *Engine) twoFactorRecord(ctx context.Context, identityID string) (*store.TwoFactorSecret, error) {
	current, err := e.store.TwoFactor().Get(ctx, identityID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, backendError(err)
	}
	return current, nil
}

func twoFactorAttemptKey(identityID string) string {
	return "totp:" + identityID
}

// checkTOTP accepts code for record at most once and returns the time step it
// matched. A code for a step at or below the last accepted one is a replay.
// Every rejected code counts towards the per-identity attempt limit.
func (e *Engine) checkTOTP(ctx context.Context, record *store.TwoFactorSecret, code string, now time.Time) (int64, error) {
	identityID := record.IdentityID
	key := twoFactorAttemptKey(identityID)

	state, err := e.totpAttempts.State(ctx, key, now)
	if err != nil {
		return 0, backendError(err)
	}
	if state.Hard(e.totpAttempts.Policy()) && state.Locked(now) {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, identityID, "", ErrRateLimited, nil)
		return 0, retryError(ErrRateLimited, state.Remaining(now))
	}

	step, ok, err := e.totp.Verify(record.Secret, code, now)
	if err != nil {
		return 0, err
	}
	if ok && step <= record.LastUsedCounter {
		ok = false
	}
	if ok {
		// Claim the step so a concurrent caller holding the same code loses.
		err := e.store.TwoFactor().MarkUsed(ctx, identityID, step)
		switch {
		case errors.Is(err, store.ErrStaleCounter):
			ok = false
		case err != nil:
			return 0, mapStoreError(err)
		}
	}
	if !ok {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, identityID, "", ErrInvalidCode, nil)
		if _, err := e.totpAttempts.RecordFailure(ctx, key, now); err != nil {
			return 0, backendError(err)
		}
		return 0, ErrInvalidCode
	}

	if err := e.totpAttempts.RecordSuccess(ctx, key); err != nil {
		return 0, backendError(err)
	}
	return step, nil
}
