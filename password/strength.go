package password

import (
	"errors"
	"unicode"
)

// MinLength is the shortest accepted password, counted in runes.
const MinLength = 8

var (
	ErrTooShort     = errors.New("password must be at least 8 characters")
	ErrNoUpper      = errors.New("password must contain an uppercase letter")
	ErrNoLower      = errors.New("password must contain a lowercase letter")
	ErrNoDigit      = errors.New("password must contain a digit")
	ErrNoSymbol     = errors.New("password must contain a symbol")
	ErrWeakPassword = errors.New("password does not meet strength requirements")
)

// CheckStrength enforces the password policy: at least MinLength characters
// with an uppercase letter, a lowercase letter, a digit and a symbol.
// The returned error wraps ErrWeakPassword and the first unmet rule.
func CheckStrength(password string) error {
	var (
		length                                  int
		hasUpper, hasLower, hasDigit, hasSymbol bool
	)
	for _, r := range password {
		length++
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}

	switch {
	case length < MinLength:
		return errors.Join(ErrWeakPassword, ErrTooShort)
	case !hasUpper:
		return errors.Join(ErrWeakPassword, ErrNoUpper)
	case !hasLower:
		return errors.Join(ErrWeakPassword, ErrNoLower)
	case !hasDigit:
		return errors.Join(ErrWeakPassword, ErrNoDigit)
	case !hasSymbol:
		return errors.Join(ErrWeakPassword, ErrNoSymbol)
	}
	return nil
}
