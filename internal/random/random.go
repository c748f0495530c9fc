// Package random is the default identifier and secret source. Every value is
// drawn from crypto/rand; identifiers use uuid (v4) and ksuid encodings.
package random

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

const (
	minCodeDigits = 4
	maxCodeDigits = 10
	maxTokenBytes = 1024
)

// ErrInvalidSize reports an out-of-range token, code, or byte length.
var ErrInvalidSize = errors.New("random: invalid size")

// Source is the crypto/rand backed generator used when no other generator is injected.
type Source struct{}

// NewID returns a random UUIDv4 string.
func (Source) NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// SortableID returns a KSUID, which orders lexicographically by creation second.
func (Source) SortableID() (string, error) {
	id, err := ksuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Bytes returns n random bytes.
func (Source) Bytes(n int) ([]byte, error) {
	if n <= 0 || n > maxTokenBytes {
		return nil, ErrInvalidSize
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Token returns size random bytes encoded as unpadded base64url.
func (s Source) Token(size int) (string, error) {
	raw, err := s.Bytes(size)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Code returns a numeric one-time code with the requested number of digits.
func (Source) Code(digits int) (string, error) {
	if digits < minCodeDigits || digits > maxCodeDigits {
		return "", ErrInvalidSize
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	code := b.String()
	if len(code) != digits {
		return "", fmt.Errorf("invalid code generation length")
	}
	return code, nil
}

// Hash returns the SHA-256 digest of value. Secrets are stored only in this form.
func Hash(value string) [32]byte {
	return sha256.Sum256([]byte(value))
}

// HashHex is Hash rendered as lowercase hex, for use inside storage keys.
func HashHex(value string) string {
	sum := Hash(value)
	return hex.EncodeToString(sum[:])
}

// EncodeSubjectToken binds a subject (for example an identity id) to a secret
// so the holder of the token can be routed to the right record without a
// secondary index: base64url(subject) "." secret.
func EncodeSubjectToken(subject, secret string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(subject)) + "." + secret
}

// DecodeSubjectToken reverses EncodeSubjectToken.
func DecodeSubjectToken(token string) (string, string, error) {
	encoded, secret, ok := strings.Cut(token, ".")
	if !ok || encoded == "" || secret == "" {
		return "", "", errors.New("random: malformed subject token")
	}
	subject, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", errors.New("random: malformed subject token")
	}
	return string(subject), secret, nil
}
