package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal/random"
	"github.com/MrEthical07/authcore/internal/vault"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/store"
	"go.uber.org/zap"
)

// RequestPasswordReset issues a reset token for email and hands it to the
// notifier. The result is nil whether or not the email is registered.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	now := e.now()
	if err := e.rateGate(ctx, RoutePasswordReset, now); err != nil {
		return err
	}
	if !validEmail(email) {
		return ErrInvalidEmail
	}
	e.metricInc(MetricPasswordResetRequest)

	identity, err := e.store.Identities().GetByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", "", ErrNotFound, nil)
		return nil
	}
	if err != nil {
		return backendError(err)
	}

	secret, err := e.generator.Token(e.config.Tokens.ResetTokenBytes)
	if err != nil {
		return err
	}
	ttl := e.config.Tokens.ResetTTL
	if err := e.vault.Issue(ctx, vault.PurposeReset, identity.ID, identity.ID, secret, ttl, now); err != nil {
		return backendError(err)
	}

	e.notify(ctx, Notification{
		Kind:        NotifyPasswordReset,
		IdentityID:  identity.ID,
		Destination: identity.Email,
		Value:       random.EncodeSubjectToken(identity.ID, secret),
		ExpiresAt:   now.Add(ttl),
	})
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, identity.ID, "", nil, nil)
	return nil
}

// ResetPassword consumes a reset token and sets newPassword. The new
// password must pass the registration strength rule. On success every
// session of the identity is terminated and its lockout state cleared.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	now := e.now()
	if err := e.rateGate(ctx, RoutePasswordReset, now); err != nil {
		return err
	}

	identityID, secret, err := random.DecodeSubjectToken(token)
	if err != nil {
		e.metricInc(MetricPasswordResetFailure)
		return ErrNotFound
	}
	if err := checkStrength(newPassword); err != nil {
		return err
	}

	hash, err := e.hashPassword(newPassword)
	if err != nil {
		return err
	}

	consumed, err := e.vault.Consume(ctx, vault.PurposeReset, identityID, secret, now)
	if err != nil {
		e.metricInc(MetricPasswordResetFailure)
		mapped := mapVaultError(err)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, identityID, "", mapped, nil)
		return mapped
	}

	identity, err := e.store.Identities().Update(ctx, identityID, func(i *store.Identity) error {
		i.PasswordHash = hash
		i.UpdatedAt = now
		return nil
	})
	if err != nil {
		// The password is unchanged, so the link must keep working.
		if rerr := e.vault.Restore(ctx, vault.PurposeReset, identityID, consumed, now); rerr != nil {
			e.logger.Warn("reset token restore failed", zap.String("identity_id", identityID), zap.Error(rerr))
		}
		e.metricInc(MetricPasswordResetFailure)
		return mapStoreError(err)
	}

	if _, err := e.sessions.TerminateAll(ctx, identityID); err != nil {
		return mapSessionError(err)
	}
	if err := e.lockout.RecordSuccess(ctx, identity.Email); err != nil {
		return backendError(err)
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, identityID, "", nil, nil)
	return nil
}

// RequestEmailVerification issues a fresh email code, replacing any earlier
// one. Unknown and already verified emails succeed without sending.
func (e *Engine) RequestEmailVerification(ctx context.Context, email string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	now := e.now()
	if err := e.rateGate(ctx, RouteVerify, now); err != nil {
		return err
	}
	if !validEmail(email) {
		return ErrInvalidEmail
	}

	identity, err := e.store.Identities().GetByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return backendError(err)
	}
	if identity.EmailVerified {
		return nil
	}
	return e.issueEmailCode(ctx, identity, now)
}

func (e *Engine) issueEmailCode(ctx context.Context, identity *store.Identity, now time.Time) error {
	code, err := e.generator.Code(e.config.Tokens.CodeDigits)
	if err != nil {
		return err
	}
	ttl := e.config.Tokens.EmailCodeTTL
	if err := e.vault.Issue(ctx, vault.PurposeEmail, identity.ID, identity.ID, code, ttl, now); err != nil {
		return backendError(err)
	}
	e.metricInc(MetricEmailVerificationRequest)
	e.notify(ctx, Notification{
		Kind:        NotifyEmailVerification,
		IdentityID:  identity.ID,
		Destination: identity.Email,
		Value:       code,
		ExpiresAt:   now.Add(ttl),
	})
	e.emitAudit(ctx, auditEventEmailVerificationRequest, true, identity.ID, "", nil, nil)
	return nil
}

// VerifyEmail consumes the email code of email and marks it verified.
func (e *Engine) VerifyEmail(ctx context.Context, email, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	now := e.now()
	if err := e.rateGate(ctx, RouteVerify, now); err != nil {
		return err
	}

	identity, err := e.store.Identities().GetByEmail(ctx, email)
	if err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		return mapStoreError(err)
	}

	if _, err := e.vault.Consume(ctx, vault.PurposeEmail, identity.ID, code, now); err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		mapped := mapVaultError(err)
		e.emitAudit(ctx, auditEventEmailVerificationConfirm, false, identity.ID, "", mapped, nil)
		return mapped
	}

	_, err = e.store.Identities().Update(ctx, identity.ID, func(i *store.Identity) error {
		i.EmailVerified = true
		i.UpdatedAt = now
		return nil
	})
	if err != nil {
		return mapStoreError(err)
	}
	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEventEmailVerificationConfirm, true, identity.ID, "", nil, nil)
	return nil
}

// RequestPhoneVerification issues a phone code for identityID.
func (e *Engine) RequestPhoneVerification(ctx context.Context, identityID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	now := e.now()
	if err := e.rateGate(ctx, RouteVerify, now); err != nil {
		return err
	}

	identity, err := e.store.Identities().GetByID(ctx, identityID)
	if err != nil {
		return mapStoreError(err)
	}
	if identity.Phone == "" {
		return ErrPhoneNotSet
	}

	code, err := e.generator.Code(e.config.Tokens.CodeDigits)
	if err != nil {
		return err
	}
	ttl := e.config.Tokens.PhoneCodeTTL
	if err := e.vault.Issue(ctx, vault.PurposePhone, identity.ID, identity.ID, code, ttl, now); err != nil {
		return backendError(err)
	}
	e.metricInc(MetricPhoneVerificationRequest)
	e.notify(ctx, Notification{
		Kind:        NotifyPhoneVerification,
		IdentityID:  identity.ID,
		Destination: identity.Phone,
		Value:       code,
		ExpiresAt:   now.Add(ttl),
	})
	e.emitAudit(ctx, auditEventPhoneVerificationRequest, true, identity.ID, "", nil, nil)
	return nil
}

// VerifyPhone consumes the phone code of identityID and marks the phone
// verified.
func (e *Engine) VerifyPhone(ctx context.Context, identityID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	now := e.now()
	if err := e.rateGate(ctx, RouteVerify, now); err != nil {
		return err
	}

	if _, err := e.vault.Consume(ctx, vault.PurposePhone, identityID, code, now); err != nil {
		e.metricInc(MetricPhoneVerificationFailure)
		mapped := mapVaultError(err)
		e.emitAudit(ctx, auditEventPhoneVerificationConfirm, false, identityID, "", mapped, nil)
		return mapped
	}

	_, err := e.store.Identities().Update(ctx, identityID, func(i *store.Identity) error {
		i.PhoneVerified = true
		i.UpdatedAt = now
		return nil
	})
	if err != nil {
		return mapStoreError(err)
	}
	e.metricInc(MetricPhoneVerificationSuccess)
	e.emitAudit(ctx, auditEventPhoneVerificationConfirm, true, identityID, "", nil, nil)
	return nil
}

// hashPassword runs the hasher outside any lock. Inputs the hasher refuses
// as too long are reported as weak passwords.
func (e *Engine) hashPassword(plaintext string) (string, error) {
	hash, err := e.hasher.Hash(plaintext)
	if errors.Is(err, password.ErrPasswordTooLong) {
		return "", fmt.Errorf("%w: %w", ErrWeakPassword, err)
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

func checkStrength(plaintext string) error {
	if err := password.CheckStrength(plaintext); err != nil {
		return fmt.Errorf("%w: %w", ErrWeakPassword, err)
	}
	return nil
}
