package security

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrPasswordMismatch is returned by Compare when the password does not produce the stored hash.
	ErrPasswordMismatch = errors.New("password does not match")
	// ErrInvalidCost is returned by NewHasher for a bcrypt cost outside 4..31.
	ErrInvalidCost = fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
)

// Hasher turns login passwords into bcrypt hashes at a fixed cost (BCRYPT_COST).
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher for cost. Zero selects bcrypt.DefaultCost.
func NewHasher(cost int) (*Hasher, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCost, cost)
	}
	return &Hasher{cost: cost}, nil
}

// Cost is the bcrypt cost new hashes are created with.
func (h *Hasher) Cost() int { return h.cost }

// Hash returns the storable hash of password. Passwords longer than 72 bytes are rejected
// rather than silently truncated.
func (h *Hasher) Hash(password []byte) (string, error) {
	if len(password) == 0 {
		return "", errors.New("empty password")
	}
	b, err := bcrypt.GenerateFromPassword(password, h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare checks password against hash in constant time. A wrong password yields
// ErrPasswordMismatch; any other error means the stored hash itself is unusable.
func (h *Hasher) Compare(hash string, password []byte) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), password)
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return err
}

// NeedsRehash reports whether hash was created at a cost other than the configured one.
func (h *Hasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	return err != nil || cost != h.cost
}
