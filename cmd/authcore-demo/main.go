// Command authcore-demo walks an engine through registration, lockout,
// two-factor and API key scenarios, then load-tests session validation.
//
// Backends come from the environment (a .env file is read if present):
//
//	AUTHCORE_CONFIG  TOML overlay onto the default config
//	REDIS_ADDR       Redis for rate, lockout, vault and session state
//	                 (-miniredis starts an embedded one instead)
//	DATABASE_URL     postgres DSN for identities; -sqlite uses a sqlite DSN
//	LOG_LEVEL        debug, info, warn, error
//	LOG_DEV=1        human readable development logs
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/store/sqlstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const demoPassword = "Password123!"

func main() {
	var (
		useMiniredis = flag.Bool("miniredis", false, "start an embedded miniredis when REDIS_ADDR is empty")
		sqliteDSN    = flag.String("sqlite", "", "sqlite DSN for identities, e.g. file:demo.db")
		sessions     = flag.Int("sessions", 200, "sessions to seed for the load phase (one password hash each)")
		concurrency  = flag.Int("concurrency", 64, "concurrent workers in the load phase")
		ops          = flag.Int("ops", 20000, "validations in the load phase")
		metricsAddr  = flag.String("metrics-addr", "", "serve Prometheus metrics on this address and wait for a signal")
	)
	flag.Parse()

	// Missing .env is fine.
	_ = godotenv.Load()

	logger, err := newLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		logger.Fatal("sessions, concurrency, and ops must be > 0")
	}

	ctx := context.Background()

	cfg := authcore.DefaultConfig()
	if path := os.Getenv("AUTHCORE_CONFIG"); path != "" {
		cfg, err = authcore.LoadConfigFile(path)
		if err != nil {
			logger.Fatal("load config", zap.Error(err))
		}
	}
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	cfg.Audit.Enabled = true
	// Every scenario runs from one address.
	cfg.Rate.Global.Limit = 0
	cfg.Rate.IP.Limit = 0
	delete(cfg.Rate.Routes, authcore.RouteLogin)

	notifier := newOutbox()
	b := authcore.New().
		WithConfig(cfg).
		WithLogger(logger).
		WithNotifier(notifier)

	client, cleanup, err := redisClient(*useMiniredis, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer cleanup()
	if client != nil {
		b.WithRedis(client)
	}

	credentials, err := openStore(ctx, *sqliteDSN, logger)
	if err != nil {
		logger.Fatal("credential store", zap.Error(err))
	}
	if credentials != nil {
		defer credentials.Close()
		b.WithStore(credentials)
	}

	engine, err := b.Build()
	if err != nil {
		logger.Fatal("build engine", zap.Error(err))
	}
	defer engine.Close()

	if err := runScenarios(ctx, engine, notifier, logger); err != nil {
		logger.Fatal("scenario failed", zap.Error(err))
	}

	stats, err := runValidatePhase(ctx, engine, notifier, *sessions, *ops, *concurrency)
	if err != nil {
		logger.Fatal("load phase", zap.Error(err))
	}
	printStats("validate", stats)

	snap := engine.MetricsSnapshot()
	logger.Info("metrics",
		zap.Uint64("login_success", snap.Counters[authcore.MetricLoginSuccess]),
		zap.Uint64("login_failure", snap.Counters[authcore.MetricLoginFailure]),
		zap.Uint64("lockout_triggered", snap.Counters[authcore.MetricLockoutTriggered]),
		zap.Uint64("audit_dropped", engine.AuditDropped()),
	)

	if *metricsAddr != "" {
		serveMetrics(*metricsAddr, engine, logger)
	}
}

func serveMetrics(addr string, engine *authcore.Engine, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", prometheus.New(engine).Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// newLogger builds a JSON production logger with ISO8601 times, or a
// development logger when LOG_DEV=1.
func newLogger() (*zap.Logger, error) {
	dev := os.Getenv("LOG_DEV") == "1"
	level := zapcore.InfoLevel
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		if err := level.UnmarshalText([]byte(lvl)); err != nil {
			return nil, err
		}
	} else if dev {
		level = zapcore.DebugLevel
	}

	if dev {
		c := zap.NewDevelopmentConfig()
		c.Level = zap.NewAtomicLevelAt(level)
		return c.Build()
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(os.Stdout), level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func redisClient(embedded bool, logger *zap.Logger) (redis.UniversalClient, func(), error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" && !embedded {
		logger.Info("using in-memory state backends")
		return nil, func() {}, nil
	}

	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		logger.Info("using miniredis", zap.String("addr", mr.Addr()))
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	logger.Info("using redis", zap.String("addr", addr))
	return client, func() { _ = client.Close() }, nil
}

func openStore(ctx context.Context, sqliteDSN string, logger *zap.Logger) (store.Store, error) {
	driver, dsn := sqlstore.DriverPostgres, os.Getenv("DATABASE_URL")
	if dsn == "" && sqliteDSN != "" {
		driver, dsn = sqlstore.DriverSQLite, sqliteDSN
	}
	if dsn == "" {
		logger.Info("using in-memory credential store")
		return nil, nil
	}

	s, err := sqlstore.Open(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	logger.Info("using sql credential store", zap.String("driver", driver))
	return s, nil
}

// outbox keeps the last notification per identity and kind so the demo
// can read codes back.
type outbox struct {
	mu   sync.Mutex
	last map[string]authcore.Notification
}

func newOutbox() *outbox {
	return &outbox{last: map[string]authcore.Notification{}}
}

func (o *outbox) Notify(_ context.Context, n authcore.Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.last[string(n.Kind)+"/"+n.IdentityID] = n
	return nil
}

func (o *outbox) value(kind authcore.NotificationKind, identityID string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last[string(kind)+"/"+identityID].Value
}

func registerVerified(ctx context.Context, engine *authcore.Engine, box *outbox, email string) (*authcore.Identity, error) {
	identity, err := engine.Register(ctx, authcore.RegisterRequest{Email: email, Password: demoPassword})
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", email, err)
	}
	code := box.value(authcore.NotifyEmailVerification, identity.ID)
	if err := engine.VerifyEmail(ctx, email, code); err != nil {
		return nil, fmt.Errorf("verify %s: %w", email, err)
	}
	return identity, nil
}

func runScenarios(ctx context.Context, engine *authcore.Engine, box *outbox, logger *zap.Logger) error {
	ctx = authcore.WithUserAgent(authcore.WithClientIP(ctx, "203.0.113.10"), "authcore-demo")
	suffix := time.Now().UnixNano()

	alice := fmt.Sprintf("alice+%d@example.com", suffix)
	if _, err := registerVerified(ctx, engine, box, alice); err != nil {
		return err
	}

	// Four failures, then the right password resets the counter.
	for i := 0; i < 4; i++ {
		_, _ = engine.Login(ctx, authcore.LoginRequest{Email: alice, Password: "Wrong-password1"})
	}
	if _, err := engine.Login(ctx, authcore.LoginRequest{Email: alice, Password: demoPassword}); err != nil {
		return fmt.Errorf("login after four failures: %w", err)
	}
	status, err := engine.LockoutStatus(ctx, alice)
	if err != nil {
		return err
	}
	logger.Info("scenario: soft failures cleared", zap.Int("failures", status.Failures))

	// Five failures lock the identity even for the right password.
	for i := 0; i < 5; i++ {
		_, _ = engine.Login(ctx, authcore.LoginRequest{Email: alice, Password: "Wrong-password1"})
	}
	_, err = engine.Login(ctx, authcore.LoginRequest{Email: alice, Password: demoPassword})
	var retry *authcore.RetryError
	if !errors.As(err, &retry) || !errors.Is(err, authcore.ErrLocked) {
		return fmt.Errorf("expected lockout, got %v", err)
	}
	logger.Info("scenario: hard lockout", zap.Int("remaining_minutes", retry.RemainingMinutes()))

	bob := fmt.Sprintf("bob+%d@example.com", suffix)
	bobID, err := registerVerified(ctx, engine, box, bob)
	if err != nil {
		return err
	}
	if err := twoFactorScenario(ctx, engine, bobID.ID, bob, logger); err != nil {
		return err
	}
	return apiKeyScenario(ctx, engine, bobID.ID, logger)
}

func twoFactorScenario(ctx context.Context, engine *authcore.Engine, identityID, email string, logger *zap.Logger) error {
	setup, err := engine.BeginTwoFactorSetup(ctx, identityID)
	if err != nil {
		return err
	}
	logger.Info("scenario: two-factor provisioning", zap.String("uri", setup.URI))
	// A real client computes the code from the URI; the demo has no
	// authenticator, so it stops at the pending state.
	res, err := engine.Login(ctx, authcore.LoginRequest{Email: email, Password: demoPassword})
	if err != nil {
		return err
	}
	logger.Info("scenario: login before confirmation", zap.Bool("requires_two_factor", res.RequiresTwoFactor))
	return nil
}

func apiKeyScenario(ctx context.Context, engine *authcore.Engine, identityID string, logger *zap.Logger) error {
	key, err := engine.IssueAPIKey(ctx, identityID, authcore.APIKeyRequest{Name: "demo", Permissions: []string{"read", "write"}})
	if err != nil {
		return err
	}
	if _, err := engine.ValidateAPIKey(ctx, key.Key, "read"); err != nil {
		return fmt.Errorf("validate api key: %w", err)
	}
	_, err = engine.ValidateAPIKey(ctx, key.Key, "admin")
	if !errors.Is(err, authcore.ErrMissingPermission) {
		return fmt.Errorf("expected missing permission, got %v", err)
	}
	keys, err := engine.ListAPIKeys(ctx, identityID)
	if err != nil {
		return err
	}
	logger.Info("scenario: api key", zap.String("masked", keys[0].MaskedKey))
	return nil
}

func runValidatePhase(ctx context.Context, engine *authcore.Engine, box *outbox, sessions, ops, concurrency int) (phaseStats, error) {
	email := fmt.Sprintf("load+%d@example.com", time.Now().UnixNano())
	identity, err := registerVerified(ctx, engine, box, email)
	if err != nil {
		return phaseStats{}, err
	}
	tokens := make([]string, 0, sessions)
	for i := 0; i < sessions; i++ {
		res, err := engine.Login(ctx, authcore.LoginRequest{Email: email, Password: demoPassword})
		if errors.Is(err, authcore.ErrRateLimited) {
			break
		}
		if err != nil {
			return phaseStats{}, fmt.Errorf("seed session for %s: %w", identity.ID, err)
		}
		tokens = append(tokens, res.Token)
	}
	if len(tokens) == 0 {
		return phaseStats{}, errors.New("no sessions seeded")
	}
	fmt.Printf("seeded %d sessions\n", len(tokens))

	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)
	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				_, err := engine.AuthenticateSession(ctx, tokens[r.Intn(len(tokens))])
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures), nil
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
