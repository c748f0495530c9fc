package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt silently truncates beyond 72 bytes; reject instead.
const bcryptMaxPasswordBytes = 72

// Bcrypt hashes passwords with bcrypt at a fixed cost.
type Bcrypt struct {
	cost int
}

// NewBcrypt returns a bcrypt hasher. A zero cost selects bcrypt.DefaultCost.
func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be in [%d, %d]", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Bcrypt{cost: cost}, nil
}

func (b *Bcrypt) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	if len(password) > bcryptMaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (b *Bcrypt) Verify(password string, encodedHash string) (bool, error) {
	if len(password) > bcryptMaxPasswordBytes {
		return false, ErrPasswordTooLong
	}
	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
}

// NeedsUpgrade reports whether encodedHash used a lower cost.
func (b *Bcrypt) NeedsUpgrade(encodedHash string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(encodedHash))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	return cost < b.cost, nil
}
