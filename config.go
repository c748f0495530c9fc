package authcore

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/lockout"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
)

// Route names used for per-route rate windows.
const (
	RouteLogin         = "login"
	RoutePasswordReset = "password-reset"
	RouteRegister      = "register"
	RouteVerify        = "verify"
	RouteTwoFactor     = "two-factor"
)

// Config is the full engine configuration. Start from [DefaultConfig] and
// override fields, or overlay a TOML file with [LoadConfigFile].
type Config struct {
	Rate      RateConfig      `toml:"rate"`
	Lockout   LockoutConfig   `toml:"lockout"`
	Session   SessionConfig   `toml:"session"`
	Tokens    TokenConfig     `toml:"tokens"`
	TwoFactor TwoFactorConfig `toml:"two_factor"`
	Password  PasswordConfig  `toml:"password"`
	APIKeys   APIKeyConfig    `toml:"api_keys"`
	Security  SecurityConfig  `toml:"security"`
	Audit     AuditConfig     `toml:"audit"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RatePolicy is a threshold over a trailing window. A zero Limit disables it.
type RatePolicy struct {
	Limit  int           `toml:"limit"`
	Window time.Duration `toml:"window"`
}

// RateConfig holds the three sliding-window scopes. Routes are keyed by the
// Route* names.
type RateConfig struct {
	Global      RatePolicy            `toml:"global"`
	IP          RatePolicy            `toml:"ip"`
	Routes      map[string]RatePolicy `toml:"routes"`
	RedisPrefix string                `toml:"redis_prefix"`
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig drives the two-tier lockout. Failures from SoftFrom up to
// HardThreshold-1 set an advisory delay of BaseDelay doubled per failure;
// HardThreshold failures lock the identity for Duration. A state is forgotten
// Retention after its last failure.
type LockoutConfig struct {
	SoftFrom      int           `toml:"soft_from"`
	HardThreshold int           `toml:"hard_threshold"`
	BaseDelay     time.Duration `toml:"base_delay"`
	Duration      time.Duration `toml:"duration"`
	Retention     time.Duration `toml:"retention"`
	RedisPrefix   string        `toml:"redis_prefix"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig sets the policy used for identities that never configured
// their own, and the shape of session tokens.
type SessionConfig struct {
	DefaultTimeoutMinutes int    `toml:"default_timeout_minutes"`
	ExtendOnActivity      bool   `toml:"extend_on_activity"`
	MaxPerIdentity        int    `toml:"max_per_identity"`
	TokenBytes            int    `toml:"token_bytes"`
	RedisPrefix           string `toml:"redis_prefix"`
}

/*
====================================
TOKEN VAULT CONFIG
====================================
*/

// TokenConfig sets lifetimes for password reset tokens and verification codes.
type TokenConfig struct {
	ResetTTL        time.Duration `toml:"reset_ttl"`
	ResetTokenBytes int           `toml:"reset_token_bytes"`
	EmailCodeTTL    time.Duration `toml:"email_code_ttl"`
	PhoneCodeTTL    time.Duration `toml:"phone_code_ttl"`
	CodeDigits      int           `toml:"code_digits"`
	RedisPrefix     string        `toml:"redis_prefix"`
	// RedisGrace keeps expired records in Redis a little longer so a late
	// consume reports expiry instead of absence.
	RedisGrace time.Duration `toml:"redis_grace"`
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

// TwoFactorConfig controls TOTP enrolment and the login challenge.
type TwoFactorConfig struct {
	Issuer       string        `toml:"issuer"`
	Digits       int           `toml:"digits"`
	Period       int           `toml:"period"`
	Skew         uint          `toml:"skew"`
	Algorithm    string        `toml:"algorithm"`
	SecretSize   uint          `toml:"secret_size"`
	ChallengeTTL time.Duration `toml:"challenge_ttl"`
	// MaxAttempts wrong codes per identity block further attempts for
	// AttemptCooldown.
	MaxAttempts     int           `toml:"max_attempts"`
	AttemptCooldown time.Duration `toml:"attempt_cooldown"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig selects the default hasher. It is ignored when a hasher is
// injected with [Builder.WithHasher].
type PasswordConfig struct {
	Algorithm        string `toml:"algorithm"` // "argon2id" (default) or "bcrypt"
	Memory           uint32 `toml:"memory"`
	Time             uint32 `toml:"time"`
	Parallelism      uint8  `toml:"parallelism"`
	SaltLength       uint32 `toml:"salt_length"`
	KeyLength        uint32 `toml:"key_length"`
	MaxPasswordBytes int    `toml:"max_password_bytes"`
	BcryptCost       int    `toml:"bcrypt_cost"`
	// UpgradeOnLogin rehashes the password after a successful login when
	// the stored hash used weaker parameters than the current hasher.
	UpgradeOnLogin bool `toml:"upgrade_on_login"`
}

/*
====================================
API KEY CONFIG
====================================
*/

// APIKeyConfig controls key format and the permission enumeration.
type APIKeyConfig struct {
	Prefix      string   `toml:"prefix"`
	SecretBytes int      `toml:"secret_bytes"`
	Permissions []string `toml:"permissions"`
	MaskPrefix  int      `toml:"mask_prefix"`
	MaskSuffix  int      `toml:"mask_suffix"`
}

/*
====================================
SECURITY / AUDIT / METRICS
====================================
*/

// SecurityConfig holds cross-cutting hardening knobs.
type SecurityConfig struct {
	// MinFailureDuration is the floor on wall time for a failing login,
	// measured from entry.
	MinFailureDuration time.Duration `toml:"min_failure_duration"`
	// LoginHistoryLimit caps LoginHistory results. Zero returns everything.
	LoginHistoryLimit int `toml:"login_history_limit"`
}

type AuditConfig struct {
	Enabled    bool `toml:"enabled"`
	BufferSize int  `toml:"buffer_size"`
	DropIfFull bool `toml:"drop_if_full"`
}

type MetricsConfig struct {
	Enabled                 bool `toml:"enabled"`
	EnableLatencyHistograms bool `toml:"enable_latency_histograms"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	lp := lockout.DefaultPolicy()
	sp := session.DefaultPolicy()
	pw := password.DefaultConfig()

	return Config{
		Rate: RateConfig{
			Global: RatePolicy{Limit: 1000, Window: time.Minute},
			IP:     RatePolicy{Limit: 60, Window: 10 * time.Minute},
			Routes: map[string]RatePolicy{
				RouteLogin:         {Limit: 10, Window: 5 * time.Minute},
				RoutePasswordReset: {Limit: 5, Window: 10 * time.Minute},
				RouteRegister:      {Limit: 5, Window: 10 * time.Minute},
				RouteVerify:        {Limit: 10, Window: 10 * time.Minute},
				RouteTwoFactor:     {Limit: 10, Window: 5 * time.Minute},
			},
			RedisPrefix: "arw",
		},
		Lockout: LockoutConfig{
			SoftFrom:      lp.SoftFrom,
			HardThreshold: lp.HardThreshold,
			BaseDelay:     lp.BaseDelay,
			Duration:      lp.LockoutDuration,
			Retention:     lp.Retention,
			RedisPrefix:   "alo",
		},
		Session: SessionConfig{
			DefaultTimeoutMinutes: sp.TimeoutMinutes,
			ExtendOnActivity:      sp.ExtendOnActivity,
			TokenBytes:            32,
			RedisPrefix:           "as",
		},
		Tokens: TokenConfig{
			ResetTTL:        time.Hour,
			ResetTokenBytes: 32,
			EmailCodeTTL:    24 * time.Hour,
			PhoneCodeTTL:    10 * time.Minute,
			CodeDigits:      6,
			RedisPrefix:     "avt",
			RedisGrace:      15 * time.Minute,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:       "authcore",
			Digits:       6,
			Period:       30,
			Skew:         1,
			Algorithm:    "SHA1",
			SecretSize:   20,
			ChallengeTTL: 5 * time.Minute,

			MaxAttempts:     5,
			AttemptCooldown: time.Minute,
		},
		Password: PasswordConfig{
			Algorithm:        "argon2id",
			Memory:           pw.Memory,
			Time:             pw.Time,
			Parallelism:      pw.Parallelism,
			SaltLength:       pw.SaltLength,
			KeyLength:        pw.KeyLength,
			MaxPasswordBytes: password.DefaultMaxPasswordBytes,
			BcryptCost:       12,
			UpgradeOnLogin:   true,
		},
		APIKeys: APIKeyConfig{
			Prefix:      "ack_",
			SecretBytes: 32,
			Permissions: []string{"read", "write", "admin", "delete"},
			MaskPrefix:  6,
			MaskSuffix:  4,
		},
		Security: SecurityConfig{
			MinFailureDuration: 200 * time.Millisecond,
			LoginHistoryLimit:  50,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Rate.Routes != nil {
		out.Rate.Routes = make(map[string]RatePolicy, len(cfg.Rate.Routes))
		for k, v := range cfg.Rate.Routes {
			out.Rate.Routes[k] = v
		}
	}
	out.APIKeys.Permissions = append([]string(nil), cfg.APIKeys.Permissions...)
	return out
}

func (c RateConfig) limiterConfig() rate.Config {
	routes := make(map[string]rate.Policy, len(c.Routes))
	for name, p := range c.Routes {
		routes[name] = rate.Policy{Limit: p.Limit, Window: p.Window}
	}
	return rate.Config{
		Global: rate.Policy{Limit: c.Global.Limit, Window: c.Global.Window},
		IP:     rate.Policy{Limit: c.IP.Limit, Window: c.IP.Window},
		Routes: routes,
	}
}

func (c LockoutConfig) policy() lockout.Policy {
	return lockout.Policy{
		SoftFrom:        c.SoftFrom,
		HardThreshold:   c.HardThreshold,
		BaseDelay:       c.BaseDelay,
		LockoutDuration: c.Duration,
		Retention:       c.Retention,
	}
}

// attemptPolicy counts wrong codes with no advisory tier. The counter lives
// exactly as long as the cooldown it triggers.
func (c TwoFactorConfig) attemptPolicy() lockout.Policy {
	return lockout.Policy{
		HardThreshold:   c.MaxAttempts,
		LockoutDuration: c.AttemptCooldown,
		Retention:       c.AttemptCooldown,
	}
}

func (c PasswordConfig) argon2() password.Config {
	return password.Config{
		Memory:           c.Memory,
		Time:             c.Time,
		Parallelism:      c.Parallelism,
		SaltLength:       c.SaltLength,
		KeyLength:        c.KeyLength,
		MaxPasswordBytes: c.MaxPasswordBytes,
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	// Rate
	for _, p := range []RatePolicy{c.Rate.Global, c.Rate.IP} {
		if p.Limit < 0 {
			return errors.New("Rate Limit must be >= 0")
		}
		if p.Limit > 0 && p.Window <= 0 {
			return errors.New("Rate Window must be > 0 when Limit is set")
		}
	}
	for name, p := range c.Rate.Routes {
		if strings.TrimSpace(name) == "" {
			return errors.New("Rate route name must not be empty")
		}
		if p.Limit < 0 {
			return errors.New("Rate route Limit must be >= 0")
		}
		if p.Limit > 0 && p.Window <= 0 {
			return errors.New("Rate route Window must be > 0 when Limit is set")
		}
	}

	// Lockout
	if c.Lockout.SoftFrom < 1 {
		return errors.New("Lockout SoftFrom must be >= 1")
	}
	if c.Lockout.HardThreshold <= c.Lockout.SoftFrom {
		return errors.New("Lockout HardThreshold must be > SoftFrom")
	}
	if c.Lockout.BaseDelay <= 0 {
		return errors.New("Lockout BaseDelay must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}
	if c.Lockout.Retention != 0 && c.Lockout.Retention < c.Lockout.Duration {
		return errors.New("Lockout Retention must be 0 or >= Duration")
	}

	// Session
	if c.Session.DefaultTimeoutMinutes < session.MinTimeoutMinutes || c.Session.DefaultTimeoutMinutes > session.MaxTimeoutMinutes {
		return errors.New("Session DefaultTimeoutMinutes must be between 5 and 1440")
	}
	if c.Session.MaxPerIdentity < 0 {
		return errors.New("Session MaxPerIdentity must be >= 0")
	}
	if c.Session.TokenBytes < 16 {
		return errors.New("Session TokenBytes must be >= 16")
	}

	// Tokens
	if c.Tokens.ResetTTL <= 0 || c.Tokens.EmailCodeTTL <= 0 || c.Tokens.PhoneCodeTTL <= 0 {
		return errors.New("Tokens TTLs must be > 0")
	}
	if c.Tokens.ResetTokenBytes < 16 {
		return errors.New("Tokens ResetTokenBytes must be >= 16")
	}
	if c.Tokens.CodeDigits < 6 || c.Tokens.CodeDigits > 10 {
		return errors.New("Tokens CodeDigits must be between 6 and 10")
	}
	if c.Tokens.RedisGrace < 0 {
		return errors.New("Tokens RedisGrace must be >= 0")
	}

	// Two-factor
	if strings.TrimSpace(c.TwoFactor.Issuer) == "" {
		return errors.New("TwoFactor Issuer must not be empty")
	}
	if c.TwoFactor.Digits != 6 && c.TwoFactor.Digits != 8 {
		return errors.New("TwoFactor Digits must be 6 or 8")
	}
	if c.TwoFactor.Period <= 0 {
		return errors.New("TwoFactor Period must be > 0")
	}
	if c.TwoFactor.Skew > 2 {
		return errors.New("TwoFactor Skew must be <= 2")
	}
	if _, ok := totpAlgorithm(c.TwoFactor.Algorithm); !ok {
		return errors.New("TwoFactor Algorithm must be SHA1, SHA256 or SHA512")
	}
	if c.TwoFactor.SecretSize < 10 {
		return errors.New("TwoFactor SecretSize must be >= 10")
	}
	if c.TwoFactor.ChallengeTTL <= 0 {
		return errors.New("TwoFactor ChallengeTTL must be > 0")
	}
	if c.TwoFactor.MaxAttempts < 1 {
		return errors.New("TwoFactor MaxAttempts must be >= 1")
	}
	if c.TwoFactor.AttemptCooldown <= 0 {
		return errors.New("TwoFactor AttemptCooldown must be > 0")
	}

	// Password
	switch c.Password.Algorithm {
	case "argon2id", "":
		if c.Password.Memory < 8*1024 {
			return errors.New("Password Memory must be >= 8192 KB")
		}
		if c.Password.Time < 1 {
			return errors.New("Password Time must be >= 1")
		}
		if c.Password.Parallelism < 1 {
			return errors.New("Password Parallelism must be >= 1")
		}
		if c.Password.SaltLength < 16 {
			return errors.New("Password SaltLength must be >= 16")
		}
		if c.Password.KeyLength < 16 {
			return errors.New("Password KeyLength must be >= 16")
		}
	case "bcrypt":
		if c.Password.BcryptCost < 4 || c.Password.BcryptCost > 31 {
			return errors.New("Password BcryptCost must be between 4 and 31")
		}
	default:
		return errors.New("Password Algorithm must be 'argon2id' or 'bcrypt'")
	}
	if c.Password.MaxPasswordBytes < 0 {
		return errors.New("Password MaxPasswordBytes must be >= 0")
	}

	// API keys
	if c.APIKeys.Prefix == "" {
		return errors.New("APIKeys Prefix must not be empty")
	}
	if c.APIKeys.SecretBytes < 16 {
		return errors.New("APIKeys SecretBytes must be >= 16")
	}
	if len(c.APIKeys.Permissions) == 0 {
		return errors.New("APIKeys Permissions must not be empty")
	}
	if c.APIKeys.MaskPrefix < 0 || c.APIKeys.MaskSuffix < 0 {
		return errors.New("APIKeys mask widths must be >= 0")
	}

	// Security
	if c.Security.MinFailureDuration < 0 {
		return errors.New("Security MinFailureDuration must be >= 0")
	}
	if c.Security.LoginHistoryLimit < 0 {
		return errors.New("Security LoginHistoryLimit must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
