package authcore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRegisterValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  RegisterRequest
		want error
	}{
		{"bad email", RegisterRequest{Email: "alice", Password: testPassword}, ErrInvalidEmail},
		{"display name", RegisterRequest{Email: "Alice <alice@example.com>", Password: testPassword}, ErrInvalidEmail},
		{"weak password", RegisterRequest{Email: testEmail, Password: "password"}, ErrWeakPassword},
		{"bad phone", RegisterRequest{Email: testEmail, Password: testPassword, Phone: "12"}, ErrInvalidPhone},
		{"empty answer", RegisterRequest{
			Email:             testEmail,
			Password:          testPassword,
			SecurityQuestions: []SecurityAnswer{{Question: "Pet?", Answer: " "}},
		}, ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.Register(ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
			require.Equal(t, KindInvalidInput, KindOf(err))
		})
	}
}

func TestRegisterDuplicates(t *testing.T) {
	backends(t, func(t *testing.T, opts ...harnessOption) {
		h := newHarness(t, opts...)
		ctx := context.Background()

		_, err := h.engine.Register(ctx, RegisterRequest{Email: testEmail, Password: testPassword, Phone: "+15551234567"})
		require.NoError(t, err)

		_, err = h.engine.Register(ctx, RegisterRequest{Email: testEmail, Password: testPassword})
		require.ErrorIs(t, err, ErrDuplicateEmail)
		require.Equal(t, KindConflict, KindOf(err))

		_, err = h.engine.Register(ctx, RegisterRequest{Email: "bob@example.com", Password: testPassword, Phone: "+15551234567"})
		require.ErrorIs(t, err, ErrDuplicatePhone)

		// Lookups are exact: a different case is a different email.
		_, err = h.engine.Register(ctx, RegisterRequest{Email: "Alice@example.com", Password: testPassword})
		require.NoError(t, err)

		require.Equal(t, uint64(2), h.engine.MetricsSnapshot().Counters[MetricRegisterDuplicate])
	})
}

func TestRegisterSanitizesIdentity(t *testing.T) {
	h := newHarness(t)
	identity, err := h.engine.Register(context.Background(), RegisterRequest{
		Email:             testEmail,
		Password:          testPassword,
		SecurityQuestions: []SecurityAnswer{{Question: "First pet?", Answer: "Dinah"}},
	})
	require.NoError(t, err)
	require.Empty(t, identity.PasswordHash)
	require.Len(t, identity.SecurityQuestions, 1)
	require.Empty(t, identity.SecurityQuestions[0].AnswerHash)
	require.True(t, identity.Active)
	require.False(t, identity.EmailVerified)

	stored, err := h.engine.store.Identities().GetByID(context.Background(), identity.ID)
	require.NoError(t, err)
	require.NotEqual(t, testPassword, stored.PasswordHash)
	require.NotContains(t, stored.SecurityQuestions[0].AnswerHash, "Dinah")
}

func TestVerifySecurityAnswers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	identity, err := h.engine.Register(ctx, RegisterRequest{
		Email:    testEmail,
		Password: testPassword,
		SecurityQuestions: []SecurityAnswer{
			{Question: "First pet?", Answer: "Dinah"},
			{Question: "Birth town?", Answer: "Oxford"},
		},
	})
	require.NoError(t, err)

	require.NoError(t, h.engine.VerifySecurityAnswers(ctx, identity.ID, []SecurityAnswer{
		{Question: "First pet?", Answer: "  dinah "},
		{Question: "Birth town?", Answer: "OXFORD"},
	}))
	require.ErrorIs(t, h.engine.VerifySecurityAnswers(ctx, identity.ID, []SecurityAnswer{
		{Question: "First pet?", Answer: "Dinah"},
	}), ErrInvalidCredentials)
	require.ErrorIs(t, h.engine.VerifySecurityAnswers(ctx, identity.ID, []SecurityAnswer{
		{Question: "First pet?", Answer: "Dinah"},
		{Question: "Birth town?", Answer: "Cambridge"},
	}), ErrInvalidCredentials)

	bare := h.register(t, "bob@example.com")
	require.ErrorIs(t, h.engine.VerifySecurityAnswers(ctx, bare.ID, nil), ErrInvalidCredentials)
}

func TestUnlockIdentity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.registerVerified(t, testEmail)
	for i := 0; i < 5; i++ {
		_, _ = h.login(testEmail, "Wrong-password1")
	}
	_, err := h.login(testEmail, testPassword)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, h.engine.UnlockIdentity(ctx, alice.ID))
	_, err = h.login(testEmail, testPassword)
	require.NoError(t, err)
	require.Equal(t, uint64(1), h.engine.MetricsSnapshot().Counters[MetricAccountUnlocked])
}

func TestDeactivateEndsSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.registerVerified(t, testEmail)
	res, err := h.login(testEmail, testPassword)
	require.NoError(t, err)

	require.NoError(t, h.engine.DeactivateIdentity(ctx, alice.ID))
	_, err = h.engine.ValidateSession(ctx, res.SessionID)
	require.ErrorIs(t, err, ErrNotFound)

	got, err := h.engine.GetIdentity(ctx, alice.ID)
	require.NoError(t, err)
	require.False(t, got.Active)
}

func TestLoginHistoryLimit(t *testing.T) {
	h := newHarness(t, withConfig(func(cfg *Config) {
		cfg.Security.LoginHistoryLimit = 2
	}))
	ctx := context.Background()
	alice := h.registerVerified(t, testEmail)
	for i := 0; i < 3; i++ {
		_, err := h.login(testEmail, testPassword)
		require.NoError(t, err)
		h.clock.Advance(time.Minute)
	}

	history, err := h.engine.LoginHistory(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.True(t, history[0].At.After(history[1].At))
}

func TestEnginePingReportsRedisOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	h := newHarness(t, func(b *Builder, _ *Config) { b.WithRedis(client) })

	require.NoError(t, h.engine.Ping(context.Background()))
	mr.Close()
	err := h.engine.Ping(context.Background())
	require.ErrorIs(t, err, ErrBackendUnavailable)
	require.Equal(t, KindUnavailable, KindOf(err))
}

func TestEnginePingAndConfigCopy(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Ping(context.Background()))

	cfg := h.engine.Config()
	cfg.Rate.Routes[RouteLogin] = RatePolicy{Limit: 1, Window: time.Second}
	require.Equal(t, 10, h.engine.Config().Rate.Routes[RouteLogin].Limit)
}
