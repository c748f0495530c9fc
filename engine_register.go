package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/authcore/store"
	"go.uber.org/zap"
)

// Register creates an active, unverified identity and sends its first email
// verification code. Security question answers are normalized and hashed
// with the password hasher.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*Identity, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	now := e.now()
	if err := e.rateGate(ctx, RouteRegister, now); err != nil {
		e.metricInc(MetricRegisterRateLimited)
		return nil, err
	}

	identity, err := e.newIdentity(req)
	if err != nil {
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", err, nil)
		return nil, err
	}
	identity.CreatedAt = now
	identity.UpdatedAt = now

	if err := e.store.Identities().Create(ctx, identity); err != nil {
		mapped := mapStoreError(err)
		if errors.Is(mapped, ErrDuplicateEmail) || errors.Is(mapped, ErrDuplicatePhone) {
			e.metricInc(MetricRegisterDuplicate)
		}
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", mapped, nil)
		return nil, mapped
	}

	if err := e.issueEmailCode(ctx, identity, now); err != nil {
		e.logger.Warn("initial email verification code not issued",
			zap.String("identity_id", identity.ID),
			zap.Error(err),
		)
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, identity.ID, "", nil, nil)
	return identity.Sanitized(), nil
}

// newIdentity validates req and hashes its secrets. No store call happens
// here, so hashing never runs inside a storage lock.
func (e *Engine) newIdentity(req RegisterRequest) (*store.Identity, error) {
	if !validEmail(req.Email) {
		return nil, ErrInvalidEmail
	}
	if err := checkStrength(req.Password); err != nil {
		return nil, err
	}
	if req.Phone != "" && !validPhone(req.Phone) {
		return nil, ErrInvalidPhone
	}

	questions := make([]store.SecurityQuestion, 0, len(req.SecurityQuestions))
	for _, q := range req.SecurityQuestions {
		question := strings.TrimSpace(q.Question)
		answer := normalizeAnswer(q.Answer)
		if question == "" || answer == "" {
			return nil, fmt.Errorf("%w: security question and answer are required", ErrInvalidInput)
		}
		hash, err := e.hasher.Hash(answer)
		if err != nil {
			return nil, err
		}
		questions = append(questions, store.SecurityQuestion{Question: question, AnswerHash: hash})
	}

	hash, err := e.hashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	id, err := e.generator.NewID()
	if err != nil {
		return nil, err
	}

	return &store.Identity{
		ID:                id,
		Email:             req.Email,
		PasswordHash:      hash,
		FirstName:         strings.TrimSpace(req.FirstName),
		LastName:          strings.TrimSpace(req.LastName),
		Phone:             req.Phone,
		Active:            true,
		SecurityQuestions: questions,
	}, nil
}
