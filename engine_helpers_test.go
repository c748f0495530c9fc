package authcore

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "Password123!"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// seqGenerator hands out predictable but distinct values.
type seqGenerator struct {
	mu sync.Mutex
	n  uint64
}

func (g *seqGenerator) next() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return g.n
}

func (g *seqGenerator) NewID() (string, error) {
	return fmt.Sprintf("id-%06d", g.next()), nil
}

func (g *seqGenerator) Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	v := g.next()
	for i := range b {
		b[i] = byte(v >> (8 * (i % 8)))
		b[i] ^= byte(i * 31)
	}
	return b, nil
}

func (g *seqGenerator) Token(size int) (string, error) {
	b := make([]byte, size)
	if size >= 8 {
		binary.BigEndian.PutUint64(b[size-8:], g.next())
	} else {
		b[0] = byte(g.next())
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (g *seqGenerator) Code(digits int) (string, error) {
	return fmt.Sprintf("%0*d", digits, g.next()%1_000_000), nil
}

// plainHasher keeps tests fast. It is never used outside tests.
type plainHasher struct{}

func (plainHasher) Hash(plaintext string) (string, error) {
	return "plain$" + plaintext, nil
}

func (plainHasher) Verify(plaintext, encoded string) (bool, error) {
	return encoded == "plain$"+plaintext, nil
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *captureNotifier) Notify(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

// last returns the newest notification of kind for identityID.
func (n *captureNotifier) last(kind NotificationKind, identityID string) (Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].Kind == kind && n.sent[i].IdentityID == identityID {
			return n.sent[i], true
		}
	}
	return Notification{}, false
}

type testHarness struct {
	engine   *Engine
	clock    *fakeClock
	notifier *captureNotifier
}

type harnessOption func(*Builder, *Config)

func withRedis(t *testing.T) harnessOption {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return func(b *Builder, _ *Config) {
		b.WithRedis(client)
	}
}

func withConfig(fn func(*Config)) harnessOption {
	return func(_ *Builder, cfg *Config) {
		fn(cfg)
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *testHarness {
	t.Helper()

	h := &testHarness{
		clock:    newFakeClock(),
		notifier: &captureNotifier{},
	}
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true

	b := New().
		WithHasher(plainHasher{}).
		WithGenerator(&seqGenerator{}).
		WithClock(h.clock).
		WithNotifier(h.notifier)
	for _, opt := range opts {
		opt(b, &cfg)
	}
	b.WithConfig(cfg)

	engine, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	h.engine = engine
	return h
}

// backends runs fn against the memory and Redis state backends.
func backends(t *testing.T, fn func(t *testing.T, opts ...harnessOption)) {
	t.Run("memory", func(t *testing.T) {
		fn(t)
	})
	t.Run("redis", func(t *testing.T) {
		fn(t, withRedis(t))
	})
}

func (h *testHarness) register(t *testing.T, email string) *Identity {
	t.Helper()
	identity, err := h.engine.Register(context.Background(), RegisterRequest{
		Email:     email,
		Password:  testPassword,
		FirstName: "Alice",
		LastName:  "Liddell",
	})
	require.NoError(t, err)
	return identity
}

// registerVerified registers email and confirms it with the code the
// notifier received.
func (h *testHarness) registerVerified(t *testing.T, email string) *Identity {
	t.Helper()
	identity := h.register(t, email)
	msg, ok := h.notifier.last(NotifyEmailVerification, identity.ID)
	require.True(t, ok, "no verification code sent")
	require.NoError(t, h.engine.VerifyEmail(context.Background(), email, msg.Value))
	return identity
}

func (h *testHarness) login(email, pw string) (*LoginResult, error) {
	return h.engine.Login(context.Background(), LoginRequest{Email: email, Password: pw})
}

func (h *testHarness) totpCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := h.engine.totp.Code(secret, h.clock.Now())
	require.NoError(t, err)
	return code
}

func ipContext(ip string) context.Context {
	return WithClientIP(context.Background(), ip)
}

func maskedStars(s string) int {
	return strings.Count(s, "*")
}
