package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// PasswordCost is the bcrypt work factor for new credentials.
const PasswordCost = 12

// CredentialVerifier hashes and checks passwords.
type CredentialVerifier interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, credential string) bool
}

// Bcrypt implements CredentialVerifier. Cost below bcrypt.MinCost falls back to PasswordCost.
type Bcrypt struct {
	Cost int
}

// HashPassword hashes plaintext password using bcrypt.
func (b Bcrypt) Hash(plaintext string) (string, error) {
	if len(plaintext) == 0 {
		return "", errors.New("password is empty")
	}
	cost := b.Cost
	if cost < bcrypt.MinCost {
		cost = PasswordCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify compares plaintext password with stored hash.
func (Bcrypt) Verify(plaintext, credential string) bool {
	if credential == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(credential), []byte(plaintext)) == nil
}
