package random

import (
	"encoding/base64"
	"testing"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/require"
)

func TestSourceIdentifiers(t *testing.T) {
	var s Source

	id, err := s.NewID()
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	kid, err := s.SortableID()
	require.NoError(t, err)
	_, err = ksuid.Parse(kid)
	require.NoError(t, err)
}

func TestTokenLengthAndUniqueness(t *testing.T) {
	var s Source
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		tok, err := s.Token(32)
		require.NoError(t, err)
		raw, err := base64.RawURLEncoding.DecodeString(tok)
		require.NoError(t, err)
		require.Len(t, raw, 32)
		_, dup := seen[tok]
		require.False(t, dup)
		seen[tok] = struct{}{}
	}

	_, err := s.Token(0)
	require.ErrorIs(t, err, ErrInvalidSize)
}

func TestCodeDigits(t *testing.T) {
	var s Source
	code, err := s.Code(6)
	require.NoError(t, err)
	require.Len(t, code, 6)
	for _, c := range code {
		require.True(t, c >= '0' && c <= '9')
	}

	_, err = s.Code(3)
	require.ErrorIs(t, err, ErrInvalidSize)
	_, err = s.Code(11)
	require.ErrorIs(t, err, ErrInvalidSize)
}

func TestSubjectTokenRoundTrip(t *testing.T) {
	token := EncodeSubjectToken("user-1", "s3cret")
	subject, secret, err := DecodeSubjectToken(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", subject)
	require.Equal(t, "s3cret", secret)

	for _, bad := range []string{"", "nodot", ".x", "x.", "!!!.x"} {
		_, _, err := DecodeSubjectToken(bad)
		require.Error(t, err, bad)
	}
}

func TestHashHexStable(t *testing.T) {
	require.Equal(t, HashHex("abc"), HashHex("abc"))
	require.NotEqual(t, HashHex("abc"), HashHex("abd"))
	require.Len(t, HashHex("abc"), 64)
}
