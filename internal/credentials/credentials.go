// Package credentials owns password hashing and verification. Nothing else
// in the server ever sees a plaintext password past this boundary.
package credentials

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrWeakPassword is returned for passwords shorter than the configured
// minimum. The 6-char default is deliberately low; raise it per deployment.
var ErrWeakPassword = errors.New("password is too short")

type Store struct {
	cost      int
	minLength int
}

func NewStore(cost, minLength int) *Store {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if minLength == 0 {
		minLength = 6
	}
	return &Store{cost: cost, minLength: minLength}
}

func (s *Store) Hash(password string) (string, error) {
	if len(password) < s.minLength {
		return "", ErrWeakPassword
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify compares in constant time (bcrypt's comparison is inherently so).
func (s *Store) Verify(password, hashed string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) == nil
}
