// Package tokencipher encrypts OAuth tokens before they are persisted.
//
// Ciphertexts are XChaCha20-Poly1305 sealed boxes encoded as
// "v1:" + base64url(nonce || ciphertext). The AEAD key is derived from the
// configured secret with HKDF-SHA256 so any high-entropy string can be used.
package tokencipher

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	versionPrefix = "v1:"
	hkdfInfo      = "picshare oauth token encryption"
	minSecretLen  = 16
)

var (
	// ErrMissingKey is returned by New when no secret is configured.
	ErrMissingKey = errors.New("token encryption key is not configured")
	// ErrWeakKey is returned by New when the secret is too short.
	ErrWeakKey = errors.New("token encryption key is too short")
	// ErrMalformed is returned by Decrypt for values not produced by Encrypt.
	ErrMalformed = errors.New("malformed encrypted token")
	// ErrDecrypt is returned when authentication of a ciphertext fails.
	ErrDecrypt = errors.New("token decryption failed")
)

// Cipher seals and opens token strings. It is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// New derives the AEAD key from secret.
func New(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, ErrMissingKey
	}
	if len(secret) < minSecretLen {
		return nil, ErrWeakKey
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive token key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init token cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plain. The empty string encrypts to the empty string so an
// absent refresh token stays absent.
func (c *Cipher) Encrypt(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plain)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return versionPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *Cipher) Decrypt(enc string) (string, error) {
	if enc == "" {
		return "", nil
	}
	if !strings.HasPrefix(enc, versionPrefix) {
		return "", ErrMalformed
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(enc, versionPrefix))
	if err != nil {
		return "", ErrMalformed
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return "", ErrMalformed
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
