package authcore

import (
	"context"
)

const (
	auditEventLoginSuccess             = "login_success"
	auditEventLoginFailure             = "login_failure"
	auditEventLoginLocked              = "login_locked"
	auditEventLockoutTriggered         = "lockout_triggered"
	auditEventRateLimitTriggered       = "rate_limit_triggered"
	auditEventTwoFactorRequired        = "two_factor_required"
	auditEventTwoFactorSuccess         = "two_factor_success"
	auditEventTwoFactorFailure         = "two_factor_failure"
	auditEventTwoFactorSetup           = "two_factor_setup_requested"
	auditEventTwoFactorEnabled         = "two_factor_enabled"
	auditEventTwoFactorDisabled        = "two_factor_disabled"
	auditEventSessionTerminated        = "session_terminated"
	auditEventSessionTerminateAll      = "session_terminate_all"
	auditEventSessionPolicyChanged     = "session_policy_changed"
	auditEventRegisterSuccess          = "register_success"
	auditEventRegisterFailure          = "register_failure"
	auditEventPasswordChangeSuccess    = "password_change_success"
	auditEventPasswordChangeFailure    = "password_change_failure"
	auditEventPasswordResetRequest     = "password_reset_request"
	auditEventPasswordResetConfirm     = "password_reset_confirm"
	auditEventEmailVerificationRequest = "email_verification_request"
	auditEventEmailVerificationConfirm = "email_verification_confirm"
	auditEventPhoneVerificationRequest = "phone_verification_request"
	auditEventPhoneVerificationConfirm = "phone_verification_confirm"
	auditEventAPIKeyIssued             = "api_key_issued"
	auditEventAPIKeyUpdated            = "api_key_updated"
	auditEventAPIKeyRevoked            = "api_key_revoked"
	auditEventAPIKeyRejected           = "api_key_rejected"
	auditEventAccountStatusChange      = "account_status_change"
	auditEventAccountUnlocked          = "account_unlocked"
)

// emitAudit builds and queues one event. metadata is only invoked when
// auditing is enabled. Events never carry passwords, codes or tokens; err is
// reduced to its kind.
func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	identityID string,
	sessionID string,
	err error,
	metadata func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp:  e.now().UTC(),
		EventType:  eventType,
		IdentityID: identityID,
		SessionID:  sessionID,
		IP:         clientIPFromContext(ctx),
		Success:    success,
	}
	if metadata != nil {
		event.Metadata = metadata()
	}
	if err != nil {
		event.Error = KindOf(err).String()
	}

	e.audit.Emit(ctx, event)
}
