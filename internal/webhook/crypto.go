// Package webhook encrypts subscription secrets at rest, signs outbound
// delivery payloads, and drains broker-delivered webhook deliveries,
// implementing spec.md §4.5 and the at-rest encryption resolved in
// SPEC_FULL.md §5.3.
package webhook

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher encrypts and decrypts webhook subscription URLs and auth headers
// with a single broker-wide key (config.Broker.EncryptionKey), so the store
// never holds plaintext destinations or credentials.
type Cipher struct {
	aead chacha20poly1305.AEAD
}

// NewCipher builds a Cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("webhook: build cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext, returning (ciphertext, nonce). An empty
// plaintext (no auth header configured) seals to an empty ciphertext
// without error; callers should skip storing the nonce/ciphertext pair in
// that case.
func (c *Cipher) Seal(plaintext string) (ciphertext, nonce []byte, err error) {
	if plaintext == "" {
		return nil, nil, nil
	}
	nonce = make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("webhook: generate nonce: %w", err)
	}
	ciphertext = c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return ciphertext, nonce, nil
}

// Open decrypts a (ciphertext, nonce) pair produced by Seal.
func (c *Cipher) Open(ciphertext, nonce []byte) (string, error) {
	if len(ciphertext) == 0 {
		return "", nil
	}
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("webhook: decrypt: %w", err)
	}
	return string(plaintext), nil
}
