package auth

import (
	"crypto/sha256"

	"golang.org/x/crypto/bcrypt"
)

// BcryptHasher is the default PasswordHasher
// Passwords are pre-hashed with SHA-256 so bcrypt's 72 byte input limit never
// truncates long passphrases
type BcryptHasher struct{}

func (h BcryptHasher) Hash(password string) (string, error) {
	sum := sha256.Sum256([]byte(password))
	hash, err := bcrypt.GenerateFromPassword(sum[:], bcrypt.DefaultCost)
	return string(hash), err
}

// Compare is constant time with respect to the stored hash
func (h BcryptHasher) Compare(hashedPassword string, password string) error {
	sum := sha256.Sum256([]byte(password))
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), sum[:])
}
