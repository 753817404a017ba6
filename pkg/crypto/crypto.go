// Package crypto encrypts sensitive text at rest.
//
// Contract text is encrypted with ChaCha20-Poly1305 under a key derived from
// the application secret via SHA-256. Ciphertexts are base64 encoded so they
// can be stored in text columns and JSON payloads.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Known placeholder values that must never be used as the production secret.
var insecureDefaultKeys = map[string]struct{}{
	"":                              {},
	"change-me-in-production":       {},
	"dev-secret-key-do-not-deploy":  {},
	"change-this-to-a-random-value": {},
}

// Cipher encrypts and decrypts short text blobs.
type Cipher struct {
	key []byte
}

// New derives a cipher from the application secret.
// Refuses known placeholder secrets so a misconfigured deployment fails at
// startup instead of writing recoverable ciphertexts.
func New(secret string) (*Cipher, error) {
	if _, insecure := insecureDefaultKeys[secret]; insecure {
		return nil, fmt.Errorf("crypto: secret key must be configured with a random value")
	}
	key := sha256.Sum256([]byte(secret))
	return &Cipher{key: key[:]}, nil
}

// EncryptString encrypts plaintext and returns a base64 token.
func (c *Cipher) EncryptString(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("crypto: init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString.
func (c *Cipher) DecryptString(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("crypto: decode token: %w", err)
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("crypto: init aead: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("crypto: token too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypt: %w", err)
	}
	return string(plain), nil
}
