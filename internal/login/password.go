package login

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a server password with bcrypt for the
// server.password_hash setting.
//
// Precondition: password must be at most 72 bytes.
// Postcondition: Returns a bcrypt hash that CheckPassword accepts for password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
//
// Postcondition: Returns true if password matches the hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
