package auth

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// DerivedKeyLength is the length of derived keys in bytes (HMAC-SHA256).
	DerivedKeyLength = 32

	purposeUserJWT = "arisu-user-jwt-v1"
)

// ErrInvalidMasterSecret is returned when the master secret is invalid
var ErrInvalidMasterSecret = errors.New("master secret cannot be empty")

// DeriveKey derives a 32-byte key from masterSecret using HKDF-SHA256.
// Keys derived for different purposes are independent of each other.
func DeriveKey(masterSecret []byte, purpose string) ([]byte, error) {
	return deriveKey(masterSecret, nil, purpose)
}

// DeriveUserJWTKey derives the signing key for one user's tokens from the
// server salt, using the user's password hash as the HKDF salt.
func DeriveUserJWTKey(serverSalt, passwordHash string) ([]byte, error) {
	if serverSalt == "" {
		return nil, ErrMissingSalt
	}
	return deriveKey([]byte(serverSalt), []byte(passwordHash), purposeUserJWT)
}

func deriveKey(masterSecret, salt []byte, purpose string) ([]byte, error) {
	if len(masterSecret) == 0 {
		return nil, ErrInvalidMasterSecret
	}

	reader := hkdf.New(sha256.New, masterSecret, salt, []byte(purpose))
	derivedKey := make([]byte, DerivedKeyLength)
	if _, err := io.ReadFull(reader, derivedKey); err != nil {
		return nil, err
	}
	return derivedKey, nil
}
