// Package auditlog provides the encrypted, bounded audit trail attached to
// each secure remote-control session.
//
// Entries are sealed with XChaCha20-Poly1305 under a per-session key and a
// fresh random nonce per entry. Neither keys nor plaintext entries are ever
// written to disk; the trail lives and dies with the session record.
package auditlog

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the session key length in bytes (256-bit).
const KeySize = chacha20poly1305.KeySize

var ErrDecrypt = errors.New("audit entry decrypt failed")

// NewKey generates a fresh session key.
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate audit key: %w", err)
	}
	return key, nil
}

// Encrypt marshals v to JSON and seals it under key. The random nonce is
// prepended to the returned ciphertext so Decrypt needs no extra state.
func Encrypt(key []byte, v any) ([]byte, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal audit entry: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("audit cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt and returns the entry JSON.
// Failures (wrong key, truncated or tampered ciphertext) are reported as
// ErrDecrypt; an unreadable historical entry must never block new session
// activity, so callers treat this as a null decode, not a fault.
func Decrypt(key, ciphertext []byte) (json.RawMessage, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("audit cipher: %w", err)
	}

	if len(ciphertext) < aead.NonceSize() {
		return nil, ErrDecrypt
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return json.RawMessage(plaintext), nil
}
