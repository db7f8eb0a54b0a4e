package accounts

import (
	"errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher turns plaintext credentials into one way hashes
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(password, hash string) error
}

// BcryptHasher is the default PasswordHasher
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a hasher using cost, or the build default when
// cost is outside the bcrypt range
func NewBcryptHasher(cost ...int) *BcryptHasher {
	h := &BcryptHasher{cost: passwordHashCost()}
	if len(cost) > 0 && cost[0] >= bcrypt.MinCost && cost[0] <= bcrypt.MaxCost {
		h.cost = cost[0]
	}
	return h
}

// Hash will generate a password hash
func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Compare will validate the given cleartext password matches the hash.
// Any mismatch, including a malformed hash, is reported as ErrBadCredential.
func (h *BcryptHasher) Compare(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrBadCredential
		}
		return errorWith(ErrBadCredential, map[string]any{"reason": err.Error()})
	}
	return nil
}

// Cost returns the work factor used for new hashes
func (h *BcryptHasher) Cost() int {
	return h.cost
}

// RandomPasswordHash hashes a random value, used for accounts that must not
// be able to log in and to equalize timing on unknown identifiers
func RandomPasswordHash(h PasswordHasher) string {
	hash, err := h.Hash(uuid.NewString())
	if err != nil {
		return ""
	}
	return hash
}
