package password

import (
	"errors"
	"strings"
	"testing"
)

// fastConfig keeps the suite quick while staying above the parameter floors.
func fastConfig() Config {
	return Config{
		Memory:      8192,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

type hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	NeedsUpgrade(encodedHash string) (bool, error)
}

func hashers(t *testing.T) map[string]hasher {
	t.Helper()
	a, err := NewArgon2(fastConfig())
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	b, err := NewBcrypt(4)
	if err != nil {
		t.Fatalf("NewBcrypt: %v", err)
	}
	return map[string]hasher{"argon2id": a, "bcrypt": b}
}

func TestHashersRoundTrip(t *testing.T) {
	for name, h := range hashers(t) {
		t.Run(name, func(t *testing.T) {
			encoded, err := h.Hash("Tr0ub4dor&3")
			if err != nil {
				t.Fatalf("Hash: %v", err)
			}
			again, err := h.Hash("Tr0ub4dor&3")
			if err != nil {
				t.Fatalf("Hash: %v", err)
			}
			if encoded == again {
				t.Fatal("expected a fresh salt per hash")
			}

			ok, err := h.Verify("Tr0ub4dor&3", encoded)
			if err != nil || !ok {
				t.Fatalf("Verify(correct) = %v, %v", ok, err)
			}
			ok, err = h.Verify("tr0ub4dor&3", encoded)
			if err != nil || ok {
				t.Fatalf("Verify(wrong) = %v, %v", ok, err)
			}

			upgrade, err := h.NeedsUpgrade(encoded)
			if err != nil || upgrade {
				t.Fatalf("NeedsUpgrade(current) = %v, %v", upgrade, err)
			}
		})
	}
}

func TestHashersRejectEmpty(t *testing.T) {
	for name, h := range hashers(t) {
		if _, err := h.Hash(""); err == nil {
			t.Fatalf("%s: expected empty password to be rejected", name)
		}
	}
}

func TestArgon2Encoding(t *testing.T) {
	h, err := NewArgon2(fastConfig())
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	encoded, err := h.Hash("x")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding %q", encoded)
	}
}

func TestArgon2NeedsUpgrade(t *testing.T) {
	weak, err := NewArgon2(fastConfig())
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	encoded, err := weak.Hash("upgrade-me")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   bool
	}{
		{"same", func(*Config) {}, false},
		{"more memory", func(c *Config) { c.Memory = 16384 }, true},
		{"more passes", func(c *Config) { c.Time = 2 }, true},
		{"more lanes", func(c *Config) { c.Parallelism = 2 }, true},
		{"longer key", func(c *Config) { c.KeyLength = 64 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := fastConfig()
			tt.mutate(&cfg)
			h, err := NewArgon2(cfg)
			if err != nil {
				t.Fatalf("NewArgon2: %v", err)
			}
			got, err := h.NeedsUpgrade(encoded)
			if err != nil {
				t.Fatalf("NeedsUpgrade: %v", err)
			}
			if got != tt.want {
				t.Fatalf("NeedsUpgrade = %v, want %v", got, tt.want)
			}
			// Older parameters still verify.
			if ok, err := h.Verify("upgrade-me", encoded); err != nil || !ok {
				t.Fatalf("Verify = %v, %v", ok, err)
			}
		})
	}
}

func TestArgon2RejectsMalformedHashes(t *testing.T) {
	h, err := NewArgon2(fastConfig())
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	valid, err := h.Hash("shape")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	cases := map[string]string{
		"not phc":        "plain-text",
		"wrong variant":  strings.Replace(valid, "$argon2id$", "$argon2i$", 1),
		"wrong version":  strings.Replace(valid, "$v=19$", "$v=16$", 1),
		"missing param":  strings.Replace(valid, ",p=1", "", 1),
		"unknown param":  strings.Replace(valid, "p=1", "x=1", 1),
		"memory floor":   strings.Replace(valid, "m=8192", "m=1", 1),
		"bad salt":       strings.Replace(valid, "$m=8192,t=1,p=1$", "$m=8192,t=1,p=1$!!", 1),
		"bcrypt encoded": "$2a$04$C6UzMDM.H6dfI/f/IKxGhuE4jC5bm9b0/5vC7OQm0XB1pDTeTFWyK",
	}
	for name, encoded := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := h.Verify("shape", encoded); !errors.Is(err, ErrInvalidHash) {
				t.Fatalf("Verify error = %v, want ErrInvalidHash", err)
			}
		})
	}
}

func TestArgon2MaxPasswordBytes(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxPasswordBytes = 32
	h, err := NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}

	atLimit := strings.Repeat("a", 32)
	encoded, err := h.Hash(atLimit)
	if err != nil {
		t.Fatalf("Hash at limit: %v", err)
	}
	if _, err := h.Hash(atLimit + "a"); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("Hash over limit error = %v", err)
	}
	if _, err := h.Verify(atLimit+"a", encoded); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("Verify over limit error = %v", err)
	}

	def, err := NewArgon2(fastConfig())
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	if _, err := def.Hash(strings.Repeat("b", DefaultMaxPasswordBytes+1)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("default limit error = %v", err)
	}
}

func TestNewArgon2ParameterFloors(t *testing.T) {
	tests := map[string]func(*Config){
		"memory":      func(c *Config) { c.Memory = 4096 },
		"time":        func(c *Config) { c.Time = 0 },
		"parallelism": func(c *Config) { c.Parallelism = 0 },
		"salt":        func(c *Config) { c.SaltLength = 8 },
		"key":         func(c *Config) { c.KeyLength = 8 },
	}
	for name, mutate := range tests {
		cfg := fastConfig()
		mutate(&cfg)
		if _, err := NewArgon2(cfg); err == nil {
			t.Fatalf("%s: expected config to be rejected", name)
		}
	}
	if _, err := NewArgon2(DefaultConfig()); err != nil {
		t.Fatalf("DefaultConfig rejected: %v", err)
	}
}

func TestBcrypt(t *testing.T) {
	if _, err := NewBcrypt(3); err == nil {
		t.Fatal("expected cost below bcrypt.MinCost to be rejected")
	}

	low, err := NewBcrypt(4)
	if err != nil {
		t.Fatalf("NewBcrypt: %v", err)
	}
	encoded, err := low.Hash("bcrypt-secret")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	high, err := NewBcrypt(5)
	if err != nil {
		t.Fatalf("NewBcrypt: %v", err)
	}
	if upgrade, err := high.NeedsUpgrade(encoded); err != nil || !upgrade {
		t.Fatalf("NeedsUpgrade = %v, %v", upgrade, err)
	}

	if _, err := low.Hash(strings.Repeat("z", 73)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("73 byte password error = %v", err)
	}
	if _, err := low.Verify("x", "garbage"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("Verify(garbage) error = %v", err)
	}
}
