package authcore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/store/memstore"
	"github.com/stretchr/testify/require"
)

// flakyStore fails identity updates while failUpdates is set.
type flakyStore struct {
	store.Store
	identities *flakyIdentities
}

func newFlakyStore() *flakyStore {
	inner := memstore.New()
	return &flakyStore{Store: inner, identities: &flakyIdentities{Identities: inner.Identities()}}
}

func (s *flakyStore) Identities() store.Identities { return s.identities }

type flakyIdentities struct {
	store.Identities
	failUpdates atomic.Bool
}

func (r *flakyIdentities) Update(ctx context.Context, id string, fn func(*store.Identity) error) (*store.Identity, error) {
	if r.failUpdates.Load() {
		return nil, errors.New("connection reset by peer")
	}
	return r.Identities.Update(ctx, id, fn)
}

func withStore(s store.Store) harnessOption {
	return func(b *Builder, _ *Config) {
		b.WithStore(s)
	}
}

func TestPasswordResetRoundTrip(t *testing.T) {
	backends(t, func(t *testing.T, opts ...harnessOption) {
		h := newHarness(t, opts...)
		ctx := context.Background()
		alice := h.registerVerified(t, testEmail)
		res, err := h.login(testEmail, testPassword)
		require.NoError(t, err)

		require.NoError(t, h.engine.RequestPasswordReset(ctx, testEmail))
		msg, ok := h.notifier.last(NotifyPasswordReset, alice.ID)
		require.True(t, ok)
		require.Equal(t, testEmail, msg.Destination)

		require.ErrorIs(t, h.engine.ResetPassword(ctx, msg.Value, "weak"), ErrWeakPassword)
		require.NoError(t, h.engine.ResetPassword(ctx, msg.Value, "Brand-new-pass9"))
		require.ErrorIs(t, h.engine.ResetPassword(ctx, msg.Value, "Brand-new-pass9"), ErrNotFound)

		_, err = h.engine.ValidateSession(ctx, res.SessionID)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = h.login(testEmail, "Brand-new-pass9")
		require.NoError(t, err)
	})
}

func TestPasswordResetUnknownEmailLooksTheSame(t *testing.T) {
	h := newHarness(t)
	h.registerVerified(t, testEmail)
	before := len(h.notifier.sent)

	require.NoError(t, h.engine.RequestPasswordReset(context.Background(), "ghost@example.com"))
	require.Len(t, h.notifier.sent, before)
}

func TestPasswordResetRegenerationReplacesToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.registerVerified(t, testEmail)

	require.NoError(t, h.engine.RequestPasswordReset(ctx, testEmail))
	first, _ := h.notifier.last(NotifyPasswordReset, alice.ID)
	require.NoError(t, h.engine.RequestPasswordReset(ctx, testEmail))
	second, _ := h.notifier.last(NotifyPasswordReset, alice.ID)
	require.NotEqual(t, first.Value, second.Value)

	require.ErrorIs(t, h.engine.ResetPassword(ctx, first.Value, "Brand-new-pass9"), ErrInvalidCode)
	require.NoError(t, h.engine.ResetPassword(ctx, second.Value, "Brand-new-pass9"))
}

func TestPasswordResetExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.registerVerified(t, testEmail)

	require.NoError(t, h.engine.RequestPasswordReset(ctx, testEmail))
	msg, _ := h.notifier.last(NotifyPasswordReset, alice.ID)
	h.clock.Advance(time.Hour + time.Second)

	require.ErrorIs(t, h.engine.ResetPassword(ctx, msg.Value, "Brand-new-pass9"), ErrExpired)
	require.ErrorIs(t, h.engine.ResetPassword(ctx, msg.Value, "Brand-new-pass9"), ErrNotFound)
}

func TestPasswordResetClearsLockout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.registerVerified(t, testEmail)
	for i := 0; i < 5; i++ {
		_, _ = h.login(testEmail, "Wrong-password1")
	}
	require.NoError(t, h.engine.RequestPasswordReset(ctx, testEmail))
	msg, _ := h.notifier.last(NotifyPasswordReset, alice.ID)
	require.NoError(t, h.engine.ResetPassword(ctx, msg.Value, "Brand-new-pass9"))

	_, err := h.login(testEmail, "Brand-new-pass9")
	require.NoError(t, err)
}

func TestResetPasswordMalformedToken(t *testing.T) {
	h := newHarness(t)
	require.ErrorIs(t, h.engine.ResetPassword(context.Background(), "garbage", "Brand-new-pass9"), ErrNotFound)
}

func TestEmailVerificationCodes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, testEmail)
	first, ok := h.notifier.last(NotifyEmailVerification, alice.ID)
	require.True(t, ok)

	require.NoError(t, h.engine.RequestEmailVerification(ctx, testEmail))
	second, _ := h.notifier.last(NotifyEmailVerification, alice.ID)
	require.NotEqual(t, first.Value, second.Value)

	require.ErrorIs(t, h.engine.VerifyEmail(ctx, testEmail, first.Value), ErrInvalidCode)
	require.NoError(t, h.engine.VerifyEmail(ctx, testEmail, second.Value))
	require.ErrorIs(t, h.engine.VerifyEmail(ctx, testEmail, second.Value), ErrNotFound)

	got, err := h.engine.GetIdentity(ctx, alice.ID)
	require.NoError(t, err)
	require.True(t, got.EmailVerified)

	// Verified identities are not sent further codes.
	sent := len(h.notifier.sent)
	require.NoError(t, h.engine.RequestEmailVerification(ctx, testEmail))
	require.Len(t, h.notifier.sent, sent)
}

func TestPhoneVerification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	identity, err := h.engine.Register(ctx, RegisterRequest{Email: testEmail, Password: testPassword, Phone: "+15551234567"})
	require.NoError(t, err)

	require.NoError(t, h.engine.RequestPhoneVerification(ctx, identity.ID))
	msg, ok := h.notifier.last(NotifyPhoneVerification, identity.ID)
	require.True(t, ok)
	require.Equal(t, "+15551234567", msg.Destination)

	h.clock.Advance(11 * time.Minute)
	require.ErrorIs(t, h.engine.VerifyPhone(ctx, identity.ID, msg.Value), ErrExpired)

	require.NoError(t, h.engine.RequestPhoneVerification(ctx, identity.ID))
	msg, _ = h.notifier.last(NotifyPhoneVerification, identity.ID)
	require.NoError(t, h.engine.VerifyPhone(ctx, identity.ID, msg.Value))

	got, err := h.engine.GetIdentity(ctx, identity.ID)
	require.NoError(t, err)
	require.True(t, got.PhoneVerified)

	bare := h.register(t, "bob@example.com")
	require.ErrorIs(t, h.engine.RequestPhoneVerification(ctx, bare.ID), ErrPhoneNotSet)
}

func TestPasswordResetSurvivesStoreFailure(t *testing.T) {
	backends(t, func(t *testing.T, opts ...harnessOption) {
		flaky := newFlakyStore()
		h := newHarness(t, append(opts, withStore(flaky))...)
		ctx := context.Background()
		alice := h.registerVerified(t, testEmail)

		require.NoError(t, h.engine.RequestPasswordReset(ctx, testEmail))
		msg, ok := h.notifier.last(NotifyPasswordReset, alice.ID)
		require.True(t, ok)

		flaky.identities.failUpdates.Store(true)
		err := h.engine.ResetPassword(ctx, msg.Value, "Brand-new-pass9")
		require.ErrorIs(t, err, ErrBackendUnavailable)

		// The failed attempt left the token usable.
		flaky.identities.failUpdates.Store(false)
		h.clock.Advance(time.Minute)
		require.NoError(t, h.engine.ResetPassword(ctx, msg.Value, "Brand-new-pass9"))
		_, err = h.login(testEmail, "Brand-new-pass9")
		require.NoError(t, err)
	})
}
