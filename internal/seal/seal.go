// Package seal provides a sign-and-verify capability for small values that
// must round-trip through an untrusted client: hearing-test indices,
// stimulus references, trial receipts and error diagnostics. Values are
// JSON-serialized, encrypted and authenticated with NaCl secretbox, and
// encoded as URL-safe base64. Open rejects anything that has been altered.
package seal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// ErrInvalidToken is returned when a token fails decoding or authentication.
var ErrInvalidToken = errors.New("seal: invalid or tampered token")

// Sealer seals and opens opaque payload tokens under a single key.
type Sealer struct {
	key [32]byte
}

// New derives a Sealer key from the configured secret string.
func New(secret string) *Sealer {
	return &Sealer{key: sha256.Sum256([]byte(secret))}
}

// Seal serializes v and returns an authenticated, URL-safe token.
func (s *Sealer) Seal(v any) (string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}

	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &s.key)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open verifies a token and deserializes its payload into v. Any decode or
// authentication failure yields ErrInvalidToken; the caller decides whether
// that is fatal or just a failed attempt.
func (s *Sealer) Open(token string, v any) error {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ErrInvalidToken
	}
	if len(raw) <= nonceSize {
		return ErrInvalidToken
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])

	plaintext, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return ErrInvalidToken
	}

	if err := json.Unmarshal(plaintext, v); err != nil {
		return ErrInvalidToken
	}
	return nil
}
