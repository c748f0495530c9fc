package authcore

import (
	"context"

	"github.com/MrEthical07/authcore/internal/random"
	"github.com/MrEthical07/authcore/session"
)

// ValidateSession returns the session when it is inside its inactivity
// window, without recording activity. A lapsed session is removed and
// reported as [ErrExpired].
func (e *Engine) ValidateSession(ctx context.Context, sessionID string) (*Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	start := e.now()
	defer e.observe(MetricValidateLatency, start)

	record, err := e.sessions.Validate(ctx, sessionID, start)
	if err != nil {
		e.countExpired(err)
		return nil, mapSessionError(err)
	}
	return record, nil
}

// TouchSession records activity. LastSeen always moves; LastActive, and
// with it the expiry, only moves when the identity extends on activity.
func (e *Engine) TouchSession(ctx context.Context, sessionID string) (*Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	record, err := e.sessions.Touch(ctx, sessionID, e.now())
	if err != nil {
		e.countExpired(err)
		return nil, mapSessionError(err)
	}
	return record, nil
}

// AuthenticateSession resolves the opaque token returned at login and
// records activity on its session.
func (e *Engine) AuthenticateSession(ctx context.Context, token string) (*Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	start := e.now()
	defer e.observe(MetricValidateLatency, start)

	if token == "" {
		return nil, ErrNotFound
	}
	record, err := e.sessions.Authenticate(ctx, random.Hash(token), start)
	if err != nil {
		e.countExpired(err)
		return nil, mapSessionError(err)
	}
	return record, nil
}

// TerminateSession ends one session of identityID. A session owned by
// another identity reads as [ErrNotFound].
func (e *Engine) TerminateSession(ctx context.Context, identityID, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.sessions.Terminate(ctx, identityID, sessionID); err != nil {
		return mapSessionError(err)
	}
	e.metricInc(MetricSessionTerminated)
	e.emitAudit(ctx, auditEventSessionTerminated, true, identityID, sessionID, nil, nil)
	return nil
}

// TerminateAllSessions ends every session of identityID and returns how many
// were removed.
func (e *Engine) TerminateAllSessions(ctx context.Context, identityID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.sessions.TerminateAll(ctx, identityID)
	if err != nil {
		return 0, mapSessionError(err)
	}
	e.metricInc(MetricSessionTerminateAll)
	e.emitAudit(ctx, auditEventSessionTerminateAll, true, identityID, "", nil, nil)
	return n, nil
}

// ConfigureSessionTimeout stores the timeout policy of identityID and applies
// it to every live session it holds as well as future ones.
func (e *Engine) ConfigureSessionTimeout(ctx context.Context, identityID string, minutes int, extendOnActivity bool) error {
	if e == nil {
		return ErrEngineNotReady
	}
	policy := session.Policy{TimeoutMinutes: minutes, ExtendOnActivity: extendOnActivity}
	if err := e.sessions.Configure(ctx, identityID, policy); err != nil {
		return mapSessionError(err)
	}
	e.emitAudit(ctx, auditEventSessionPolicyChanged, true, identityID, "", nil, nil)
	return nil
}

// SessionPolicy returns the timeout policy in force for identityID.
func (e *Engine) SessionPolicy(ctx context.Context, identityID string) (session.Policy, error) {
	if e == nil {
		return session.Policy{}, ErrEngineNotReady
	}
	p, err := e.sessions.PolicyFor(ctx, identityID)
	if err != nil {
		return session.Policy{}, mapSessionError(err)
	}
	return p, nil
}

// ListSessions returns the live sessions of identityID, oldest first.
func (e *Engine) ListSessions(ctx context.Context, identityID string) ([]*Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	records, err := e.sessions.List(ctx, identityID, e.now())
	if err != nil {
		return nil, mapSessionError(err)
	}
	return records, nil
}

func (e *Engine) countExpired(err error) {
	if mapSessionError(err) == ErrExpired {
		e.metricInc(MetricSessionExpired)
	}
}
