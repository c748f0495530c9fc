package authcore

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/authcore/store"
	"go.uber.org/zap"
)

// GetIdentity returns the identity with hash fields stripped.
func (e *Engine) GetIdentity(ctx context.Context, identityID string) (*Identity, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	identity, err := e.store.Identities().GetByID(ctx, identityID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return identity.Sanitized(), nil
}

// ChangePassword replaces the password of identityID after checking
// oldPassword. Every session of the identity is terminated on success,
// including the one the caller is using.
func (e *Engine) ChangePassword(ctx context.Context, identityID, oldPassword, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	err := e.changePassword(ctx, identityID, oldPassword, newPassword)
	if err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, identityID, "", err, nil)
		return err
	}
	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, identityID, "", nil, nil)
	return nil
}

func (e *Engine) changePassword(ctx context.Context, identityID, oldPassword, newPassword string) error {
	identity, err := e.store.Identities().GetByID(ctx, identityID)
	if err != nil {
		return mapStoreError(err)
	}
	ok, err := e.hasher.Verify(oldPassword, identity.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}
	if err := checkStrength(newPassword); err != nil {
		return err
	}
	if oldPassword == newPassword {
		return ErrPasswordReuse
	}

	hash, err := e.hashPassword(newPassword)
	if err != nil {
		return err
	}
	now := e.now()
	expected := identity.PasswordHash
	_, err = e.store.Identities().Update(ctx, identityID, func(i *store.Identity) error {
		// A concurrent change or reset won the race.
		if i.PasswordHash != expected {
			return ErrInvalidCredentials
		}
		i.PasswordHash = hash
		i.UpdatedAt = now
		return nil
	})
	if errors.Is(err, ErrInvalidCredentials) {
		return err
	}
	if err != nil {
		return mapStoreError(err)
	}

	if _, err := e.sessions.TerminateAll(ctx, identityID); err != nil {
		return mapSessionError(err)
	}
	return nil
}

// DeactivateIdentity blocks logins and API keys of identityID and ends
// its sessions. Nothing is deleted.
func (e *Engine) DeactivateIdentity(ctx context.Context, identityID string) error {
	if err := e.setActive(ctx, identityID, false); err != nil {
		return err
	}
	n, err := e.sessions.TerminateAll(ctx, identityID)
	if err != nil {
		return mapSessionError(err)
	}
	e.logger.Info("identity deactivated", zap.String("identity_id", identityID), zap.Int("sessions", n))
	e.metricInc(MetricAccountDeactivated)
	return nil
}

// ReactivateIdentity reverses [Engine.DeactivateIdentity].
func (e *Engine) ReactivateIdentity(ctx context.Context, identityID string) error {
	if err := e.setActive(ctx, identityID, true); err != nil {
		return err
	}
	e.metricInc(MetricAccountReactivated)
	return nil
}

func (e *Engine) setActive(ctx context.Context, identityID string, active bool) error {
	if e == nil {
		return ErrEngineNotReady
	}
	now := e.now()
	_, err := e.store.Identities().Update(ctx, identityID, func(i *store.Identity) error {
		i.Active = active
		i.UpdatedAt = now
		return nil
	})
	if err != nil {
		return mapStoreError(err)
	}
	e.emitAudit(ctx, auditEventAccountStatusChange, true, identityID, "", nil, func() map[string]string {
		status := "inactive"
		if active {
			status = "active"
		}
		return map[string]string{"status": status}
	})
	return nil
}

// UnlockIdentity clears the lockout state of identityID, hard lockout
// included.
func (e *Engine) UnlockIdentity(ctx context.Context, identityID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	identity, err := e.store.Identities().GetByID(ctx, identityID)
	if err != nil {
		return mapStoreError(err)
	}
	if err := e.lockout.RecordSuccess(ctx, identity.Email); err != nil {
		return backendError(err)
	}
	e.metricInc(MetricAccountUnlocked)
	e.emitAudit(ctx, auditEventAccountUnlocked, true, identityID, "", nil, nil)
	return nil
}

// VerifySecurityAnswers checks answers against every stored question of
// identityID. Answers compare case-insensitively after whitespace folding.
// An identity without questions never passes.
func (e *Engine) VerifySecurityAnswers(ctx context.Context, identityID string, answers []SecurityAnswer) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.rateGate(ctx, RouteVerify, e.now()); err != nil {
		return err
	}
	identity, err := e.store.Identities().GetByID(ctx, identityID)
	if err != nil {
		return mapStoreError(err)
	}
	if len(identity.SecurityQuestions) == 0 {
		return ErrInvalidCredentials
	}

	given := make(map[string]string, len(answers))
	for _, a := range answers {
		given[strings.TrimSpace(a.Question)] = normalizeAnswer(a.Answer)
	}
	// Every question is checked so the cost does not reveal which one failed.
	passed := true
	for _, q := range identity.SecurityQuestions {
		answer, ok := given[q.Question]
		if !ok {
			passed = false
			continue
		}
		match, err := e.hasher.Verify(answer, q.AnswerHash)
		if err != nil || !match {
			passed = false
		}
	}
	if !passed {
		return ErrInvalidCredentials
	}
	return nil
}

// LoginHistory returns recent successful logins of identityID, newest
// first, up to Security.LoginHistoryLimit entries.
func (e *Engine) LoginHistory(ctx context.Context, identityID string) ([]LoginRecord, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	events, err := e.store.Identities().LoginHistory(ctx, identityID, e.config.Security.LoginHistoryLimit)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return events, nil
}
