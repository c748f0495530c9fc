package authcore

import (
	"errors"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"github.com/pquerna/otp/totp"
)

type totpManager struct {
	config    TwoFactorConfig
	algorithm otp.Algorithm
}

func newTOTPManager(cfg TwoFactorConfig) *totpManager {
	algorithm, ok := totpAlgorithm(cfg.Algorithm)
	if !ok {
		algorithm = otp.AlgorithmSHA1
	}
	return &totpManager{config: cfg, algorithm: algorithm}
}

func totpAlgorithm(name string) (otp.Algorithm, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "SHA1":
		return otp.AlgorithmSHA1, true
	case "SHA256":
		return otp.AlgorithmSHA256, true
	case "SHA512":
		return otp.AlgorithmSHA512, true
	default:
		return 0, false
	}
}

// Generate creates a key for account from raw secret bytes and returns the
// base32 secret with its otpauth:// provisioning URI.
func (m *totpManager) Generate(account string, raw []byte) (string, string, error) {
	if m == nil {
		return "", "", ErrEngineNotReady
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: account,
		Period:      uint(m.config.Period),
		SecretSize:  uint(len(raw)),
		Secret:      raw,
		Digits:      otp.Digits(m.config.Digits),
		Algorithm:   m.algorithm,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

func (m *totpManager) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    uint(m.period()),
		Skew:      m.config.Skew,
		Digits:    otp.Digits(m.config.Digits),
		Algorithm: m.algorithm,
	}
}

// Verify checks code against secret at now, allowing Skew periods either side,
// and returns the time step the code matched. Callers reject a step at or below
// the last one accepted. Malformed codes are a mismatch, not an error.
func (m *totpManager) Verify(secret, code string, now time.Time) (int64, bool, error) {
	if m == nil {
		return 0, false, ErrEngineNotReady
	}
	code = strings.TrimSpace(code)
	if len(code) != m.config.Digits || !isNumericString(code) {
		return 0, false, nil
	}
	if secret == "" {
		return 0, false, errors.New("empty totp secret")
	}

	current := now.UTC().Unix() / int64(m.period())
	skew := int64(m.config.Skew)
	opts := hotp.ValidateOpts{
		Digits:    otp.Digits(m.config.Digits),
		Algorithm: m.algorithm,
	}
	// Newest step first so a code valid for two steps burns the later one.
	for step := current + skew; step >= current-skew; step-- {
		if step < 0 {
			break
		}
		ok, err := hotp.ValidateCustom(code, uint64(step), secret, opts)
		if err != nil {
			if errors.Is(err, otp.ErrValidateInputInvalidLength) {
				return 0, false, nil
			}
			return 0, false, err
		}
		if ok {
			return step, true, nil
		}
	}
	return 0, false, nil
}

func (m *totpManager) period() int {
	if m.config.Period <= 0 {
		return 30
	}
	return m.config.Period
}

// Code returns the code for secret at now.
func (m *totpManager) Code(secret string, now time.Time) (string, error) {
	if m == nil {
		return "", ErrEngineNotReady
	}
	return totp.GenerateCodeCustom(secret, now.UTC(), m.opts())
}

func isNumericString(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
