package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/arisu-i18n/arisu/internal/auth"
)

const purposeSessionCookie = "arisu-session-cookie-v1"

var ErrEmptySecret = errors.New("session secret cannot be empty")

var signatureEncoding = base64.RawURLEncoding.Strict()

// Signer signs session ids as "<id>.<base64url(HMAC-SHA256(id))>".
type Signer struct {
	key []byte
}

// NewSigner derives the signing key from secret.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key, err := auth.DeriveKey([]byte(secret), purposeSessionCookie)
	if err != nil {
		return nil, err
	}
	return &Signer{key: key}, nil
}

func (s *Signer) Sign(id string) string {
	return id + "." + signatureEncoding.EncodeToString(s.mac(id))
}

// Unsign returns the session id carried by value. The boolean is false for any
// value that was not produced by Sign with the same secret.
func (s *Signer) Unsign(value string) (string, bool) {
	sep := strings.LastIndexByte(value, '.')
	if sep <= 0 || sep == len(value)-1 {
		return "", false
	}
	id, encoded := value[:sep], value[sep+1:]

	sig, err := signatureEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}
	if !hmac.Equal(sig, s.mac(id)) {
		return "", false
	}
	return id, true
}

func (s *Signer) mac(id string) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(id))
	return h.Sum(nil)
}
