package password

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckStrength(t *testing.T) {
	cases := []struct {
		name     string
		password string
		want     error
	}{
		{"valid", "Str0ng!pw", nil},
		{"exactly eight", "Aa1!aaaa", nil},
		{"unicode letters count as characters", "Ünïcødé1!", nil},
		{"too short", "Aa1!aaa", ErrTooShort},
		{"no upper", "weak1!pass", ErrNoUpper},
		{"no lower", "WEAK1!PASS", ErrNoLower},
		{"no digit", "Weak!pass", ErrNoDigit},
		{"no symbol", "Weak1pass", ErrNoSymbol},
		{"empty", "", ErrTooShort},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckStrength(tc.password)
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrWeakPassword)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestBcryptHashAndVerify(t *testing.T) {
	hasher, err := NewBcrypt(4)
	require.NoError(t, err)

	hash, err := hasher.Hash("Str0ng!pw")
	require.NoError(t, err)

	ok, err := hasher.Verify("Str0ng!pw", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = hasher.Verify("wrong", hash)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = hasher.Verify("x", "not-a-bcrypt-hash")
	require.True(t, errors.Is(err, ErrInvalidHash))

	stronger, err := NewBcrypt(5)
	require.NoError(t, err)
	upgrade, err := stronger.NeedsUpgrade(hash)
	require.NoError(t, err)
	require.True(t, upgrade)
}

func TestBcryptRejectsLongInput(t *testing.T) {
	hasher, err := NewBcrypt(4)
	require.NoError(t, err)

	_, err = hasher.Hash(string(make([]byte, 73)))
	require.ErrorIs(t, err, ErrPasswordTooLong)

	_, err = NewBcrypt(99)
	require.Error(t, err)
}
