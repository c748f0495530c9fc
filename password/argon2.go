package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"

	// DefaultMaxPasswordBytes bounds hashing cost when Config.MaxPasswordBytes is zero.
	DefaultMaxPasswordBytes = 1024
)

var (
	// ErrPasswordTooLong is returned for inputs above the configured byte limit.
	ErrPasswordTooLong = errors.New("password exceeds maximum length")

	// ErrInvalidHash is returned when an encoded hash cannot be parsed.
	ErrInvalidHash = errors.New("invalid password hash")
)

// Config holds Argon2id cost parameters.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	// MaxPasswordBytes caps accepted input. Zero means DefaultMaxPasswordBytes.
	MaxPasswordBytes int
}

// DefaultConfig returns the OWASP-recommended Argon2id baseline
// (64 MiB, 3 passes, 2 lanes).
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2 hashes passwords with Argon2id and encodes them in PHC format.
type Argon2 struct {
	config Config
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.MaxPasswordBytes <= 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}

	return &Argon2{config: cfg}, nil
}

// Hash returns the PHC encoding of password under a fresh random salt.
// Strength rules are not applied here; see [CheckStrength].
func (a *Argon2) Hash(password string) (string, error) {
	// Password processing uses raw string bytes exactly as provided (no Unicode normalization).
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	if len(password) > a.config.MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey(
		[]byte(password),
		salt,
		a.config.Time,
		a.config.Memory,
		a.config.Parallelism,
		a.config.KeyLength,
	)

	saltEncoded := base64.StdEncoding.EncodeToString(salt)
	hashEncoded := base64.StdEncoding.EncodeToString(hash)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		a.config.Memory,
		a.config.Time,
		a.config.Parallelism,
		saltEncoded,
		hashEncoded,
	), nil
}

// Verify reports whether password matches encodedHash. The comparison is
// constant time.
func (a *Argon2) Verify(password string, encodedHash string) (bool, error) {
	if len(password) > a.config.MaxPasswordBytes {
		return false, ErrPasswordTooLong
	}
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}

	computed := argon2.IDKey([]byte(password), parsed.salt, parsed.time, parsed.memory, parsed.parallelism, parsed.keyLength())

	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker
// parameters than the hasher's current config.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}

	return a.config.Memory > parsed.memory ||
		a.config.Time > parsed.time ||
		a.config.Parallelism > parsed.parallelism ||
		a.config.KeyLength != parsed.keyLength(), nil
}

// phc is a decoded "$argon2id$v=19$m=..,t=..,p=..$salt$hash" string.
type phc struct {
	params
	salt []byte
	hash []byte
}

type params struct {
	memory      uint32
	time        uint32
	parallelism uint8
}

func parsePHC(encodedHash string) (*phc, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("invalid PHC format")
	}
	if parts[1] != algorithmID {
		return nil, errors.New("unsupported algorithm")
	}

	v, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return nil, errors.New("missing argon2 version")
	}
	if version, err := strconv.Atoi(v); err != nil || version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	p, err := parseParams(parts[3])
	if err != nil {
		return nil, err
	}

	out := &phc{params: p}
	if out.salt, err = base64.StdEncoding.DecodeString(parts[4]); err != nil || len(out.salt) < int(minSaltLength) {
		return nil, errors.New("invalid salt")
	}
	if out.hash, err = base64.StdEncoding.DecodeString(parts[5]); err != nil || len(out.hash) == 0 {
		return nil, errors.New("invalid hash")
	}
	return out, nil
}

func (p *phc) keyLength() uint32 {
	return uint32(len(p.hash))
}

// parseParams reads exactly the m, t and p entries, in any order.
func parseParams(part string) (params, error) {
	var (
		out  params
		seen = map[string]bool{}
	)
	for _, pair := range strings.Split(part, ",") {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || seen[key] {
			return params{}, errors.New("invalid parameter entry")
		}
		seen[key] = true

		switch key {
		case "m":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || uint32(v) < minMemoryKB {
				return params{}, errors.New("invalid memory parameter")
			}
			out.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || uint32(v) < minTimeCost {
				return params{}, errors.New("invalid time parameter")
			}
			out.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(raw, 10, 8)
			if err != nil || uint8(v) < minParallelism {
				return params{}, errors.New("invalid parallelism parameter")
			}
			out.parallelism = uint8(v)
		default:
			return params{}, errors.New("unsupported parameter")
		}
	}
	if len(seen) != 3 {
		return params{}, errors.New("missing parameters")
	}
	return out, nil
}

func validateConfig(cfg Config) error {
	if cfg.Memory < minMemoryKB {
		return errors.New("password memory must be >= 8192 KB")
	}
	if cfg.Time < minTimeCost {
		return errors.New("password time must be >= 1")
	}
	if cfg.Parallelism < minParallelism {
		return errors.New("password parallelism must be >= 1")
	}
	if cfg.SaltLength < minSaltLength {
		return errors.New("password salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return errors.New("password key length must be >= 16")
	}

	return nil
}
