package authcore

import (
	"errors"
	"fmt"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/lockout"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/vault"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/store/memstore"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. Every collaborator is optional: without a
// Redis client the rate windows, lockout state, vault and session registry
// live in process memory, and without a store identities do too.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	store  store.Store

	hasher    PasswordHasher
	generator Generator
	human     HumanVerifier
	clock     Clock
	notifier  Notifier
	logger    *zap.Logger
	auditSink AuditSink

	built bool
}

// New returns a builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis moves the rate windows, lockout state, vault and session
// registry into Redis so several engine instances can share them.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore sets the credential store. The default is [memstore.New].
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithHasher replaces the configured password hasher.
func (b *Builder) WithHasher(h PasswordHasher) *Builder {
	b.hasher = h
	return b
}

func (b *Builder) WithGenerator(g Generator) *Builder {
	b.generator = g
	return b
}

// WithHumanVerifier enables the anti-automation check required after a hard
// lockout has elapsed. Without one that check is skipped.
func (b *Builder) WithHumanVerifier(v HumanVerifier) *Builder {
	b.human = v
	return b
}

func (b *Builder) WithClock(c Clock) *Builder {
	b.clock = c
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine. A builder can be
// used once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// -------- COLLABORATORS --------
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := b.clock
	if clock == nil {
		clock = SystemClock()
	}
	generator := b.generator
	if generator == nil {
		generator = DefaultGenerator()
	}
	notifier := b.notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	hasher := b.hasher
	if hasher == nil {
		h, err := newConfiguredHasher(cfg.Password)
		if err != nil {
			return nil, err
		}
		hasher = h
	}
	credentials := b.store
	if credentials == nil {
		credentials = memstore.New()
	}

	// -------- PERMISSION REGISTRY --------
	registry, err := permission.NewFrozen(cfg.APIKeys.Permissions...)
	if err != nil {
		return nil, fmt.Errorf("api key permissions: %w", err)
	}

	// -------- STATE BACKENDS --------
	var (
		rateStore    rate.Store
		lockoutStore lockout.Store
		vaultStore   vault.Store
		sessionStore session.Store
	)
	if b.redis != nil {
		rateStore = rate.NewRedisStore(b.redis, cfg.Rate.RedisPrefix)
		lockoutStore = lockout.NewRedisStore(b.redis, cfg.Lockout.RedisPrefix)
		vaultStore = vault.NewRedisStore(b.redis, cfg.Tokens.RedisPrefix, cfg.Tokens.RedisGrace)
		sessionStore = session.NewRedisStore(b.redis, cfg.Session.RedisPrefix)
	} else {
		rateStore = rate.NewMemoryStore()
		lockoutStore = lockout.NewMemoryStore()
		vaultStore = vault.NewMemoryStore()
		sessionStore = session.NewMemoryStore()
	}

	defaultPolicy := session.Policy{
		TimeoutMinutes:   cfg.Session.DefaultTimeoutMinutes,
		ExtendOnActivity: cfg.Session.ExtendOnActivity,
	}

	// -------- TIMING EQUALIZATION --------
	dummySecret, err := generator.Token(32)
	if err != nil {
		return nil, fmt.Errorf("dummy hash seed: %w", err)
	}
	dummyHash, err := hasher.Hash(dummySecret)
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}

	e := &Engine{
		config:      cfg,
		logger:      logger,
		clock:       clock,
		hasher:      hasher,
		generator:   generator,
		human:       b.human,
		notifier:    notifier,
		store:       credentials,
		limiter:     rate.New(rateStore, cfg.Rate.limiterConfig()),
		lockout:     lockout.New(lockoutStore, cfg.Lockout.policy()),
		vault:       vault.New(vaultStore),
		sessions:    session.NewManager(sessionStore, session.Options{Default: defaultPolicy, MaxPerIdentity: cfg.Session.MaxPerIdentity}),
		totp:        newTOTPManager(cfg.TwoFactor),
		permissions: registry,
		metrics:     NewMetrics(cfg.Metrics),
		dummyHash:   dummyHash,
	}
	e.totpAttempts = lockout.New(lockoutStore, cfg.TwoFactor.attemptPolicy())

	if cfg.Audit.Enabled {
		sink := b.auditSink
		if sink == nil {
			sink = internalaudit.NewZapSink(logger)
		}
		e.audit = internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    true,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, sink)
	}

	b.built = true
	return e, nil
}

func newConfiguredHasher(cfg PasswordConfig) (PasswordHasher, error) {
	if cfg.Algorithm == "bcrypt" {
		h, err := password.NewBcrypt(cfg.BcryptCost)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
	h, err := password.NewArgon2(cfg.argon2())
	if err != nil {
		return nil, err
	}
	return h, nil
}
