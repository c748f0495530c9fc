package internaldefs

import (
	"github.com/MrEthical07/authcore"
)

// Namespace prefixes every exported series.
const Namespace = "authcore"

// BucketCount matches the engine's latency histogram.
const BucketCount = 8

// Def maps one engine metric to its exported name.
type Def struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// FullName returns name under [Namespace].
func FullName(name string) string {
	return Namespace + "_" + name
}

// Counters lists every engine counter in MetricID order.
var Counters = []Def{
	{authcore.MetricLoginSuccess, "login_success_total", "Successful logins, two-factor completions included."},
	{authcore.MetricLoginFailure, "login_failure_total", "Logins rejected for bad input or credentials."},
	{authcore.MetricLoginRateLimited, "login_rate_limited_total", "Logins rejected by a rate window."},
	{authcore.MetricLoginLocked, "login_locked_total", "Logins rejected by a hard lockout."},
	{authcore.MetricLockoutTriggered, "lockout_triggered_total", "Identities that reached the hard lockout threshold."},
	{authcore.MetricRateLimitHit, "rate_limit_hit_total", "Requests denied by any rate window."},
	{authcore.MetricTwoFactorRequired, "two_factor_required_total", "Logins that returned a two-factor challenge."},
	{authcore.MetricTwoFactorSuccess, "two_factor_success_total", "Completed two-factor challenges."},
	{authcore.MetricTwoFactorFailure, "two_factor_failure_total", "Rejected TOTP codes."},
	{authcore.MetricTwoFactorEnabled, "two_factor_enabled_total", "Confirmed two-factor enrolments."},
	{authcore.MetricTwoFactorDisabled, "two_factor_disabled_total", "Removed two-factor enrolments."},
	{authcore.MetricSessionCreated, "session_created_total", "Issued sessions."},
	{authcore.MetricSessionExpired, "session_expired_total", "Sessions found past their inactivity window."},
	{authcore.MetricSessionTerminated, "session_terminated_total", "Sessions ended by their owner."},
	{authcore.MetricSessionTerminateAll, "session_terminate_all_total", "Terminate-all operations."},
	{authcore.MetricRegisterSuccess, "register_success_total", "Registered identities."},
	{authcore.MetricRegisterDuplicate, "register_duplicate_total", "Registrations rejected for a taken email or phone."},
	{authcore.MetricRegisterRateLimited, "register_rate_limited_total", "Registrations rejected by a rate window."},
	{authcore.MetricPasswordChangeSuccess, "password_change_success_total", "Password changes."},
	{authcore.MetricPasswordChangeFailure, "password_change_failure_total", "Rejected password changes."},
	{authcore.MetricPasswordResetRequest, "password_reset_request_total", "Password reset requests with a valid email."},
	{authcore.MetricPasswordResetSuccess, "password_reset_success_total", "Completed password resets."},
	{authcore.MetricPasswordResetFailure, "password_reset_failure_total", "Rejected reset tokens."},
	{authcore.MetricEmailVerificationRequest, "email_verification_request_total", "Issued email codes."},
	{authcore.MetricEmailVerificationSuccess, "email_verification_success_total", "Verified emails."},
	{authcore.MetricEmailVerificationFailure, "email_verification_failure_total", "Rejected email codes."},
	{authcore.MetricPhoneVerificationRequest, "phone_verification_request_total", "Issued phone codes."},
	{authcore.MetricPhoneVerificationSuccess, "phone_verification_success_total", "Verified phones."},
	{authcore.MetricPhoneVerificationFailure, "phone_verification_failure_total", "Rejected phone codes."},
	{authcore.MetricAPIKeyIssued, "api_key_issued_total", "Issued API keys."},
	{authcore.MetricAPIKeyRevoked, "api_key_revoked_total", "Revoked API keys."},
	{authcore.MetricAPIKeyValidateSuccess, "api_key_validate_success_total", "Authorized API key requests."},
	{authcore.MetricAPIKeyValidateFailure, "api_key_validate_failure_total", "Rejected API key requests."},
	{authcore.MetricAccountDeactivated, "account_deactivated_total", "Deactivated identities."},
	{authcore.MetricAccountReactivated, "account_reactivated_total", "Reactivated identities."},
	{authcore.MetricAccountUnlocked, "account_unlocked_total", "Administrative lockout resets."},
}

// Histograms lists the latency histograms.
var Histograms = []Def{
	{authcore.MetricValidateLatency, "validate_latency_seconds", "Session and API key validation latency."},
}

// AuditDropped is the dispatcher drop counter. It has no MetricID.
var AuditDropped = Def{Name: "audit_dropped_total", Help: "Audit events dropped on a full buffer."}

// Bound is one histogram upper bound, as a Prometheus le label and as a
// name suffix for backends without labels.
type Bound struct {
	Le     string
	Suffix string
}

var Bounds = [BucketCount]Bound{
	{"0.005", "0_005"},
	{"0.01", "0_01"},
	{"0.025", "0_025"},
	{"0.05", "0_05"},
	{"0.1", "0_1"},
	{"0.25", "0_25"},
	{"0.5", "0_5"},
	{"+Inf", "inf"},
}

// Cumulative turns the engine's per-bucket counts into running totals.
// Missing buckets count as zero; extra ones are ignored.
func Cumulative(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < BucketCount; i++ {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
