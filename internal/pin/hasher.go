package pin

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor applied to new PIN hashes.
const DefaultCost = 12

// Hasher turns PINs into one-way hashes and checks candidates against them.
type Hasher interface {
	Hash(pin string) ([]byte, error)
	// Compare reports whether pin matches hash. A non-nil error means the
	// comparison could not be performed, not that the PIN is wrong.
	Compare(hash []byte, pin string) (bool, error)
}

// BcryptHasher hashes PINs with bcrypt at a fixed cost.
type BcryptHasher struct {
	Cost int
}

// NewBcryptHasher returns a hasher using cost, or DefaultCost when cost is
// outside bcrypt's accepted range.
func NewBcryptHasher(cost int) BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return BcryptHasher{Cost: cost}
}

// Hash implements Hasher.
func (h BcryptHasher) Hash(pin string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(pin), h.Cost)
}

// Compare implements Hasher.
func (h BcryptHasher) Compare(hash []byte, pin string) (bool, error) {
	err := bcrypt.CompareHashAndPassword(hash, []byte(pin))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}
