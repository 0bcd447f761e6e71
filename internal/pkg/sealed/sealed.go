// Package sealed implements envelope encryption for stored credentials.
//
// Each record gets its own random data key: the data key encrypts the
// plaintext, the process master key encrypts the data key, and both
// ciphertexts are stored together. Rotating the master key only requires
// re-wrapping data keys, never touching payload ciphertext. Callers that
// unseal a credential own the returned buffer and must Zero it when done.
package sealed

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const prefix = "v1:"

var (
	// ErrNotSealed is returned when Open is given a value without the
	// sealed prefix.
	ErrNotSealed = errors.New("sealed: value is not a sealed blob")

	// ErrCorrupt is returned when a blob fails to decode or authenticate.
	ErrCorrupt = errors.New("sealed: blob is corrupt or key mismatch")
)

// Box seals and opens credentials with a process-held master key.
type Box struct {
	masterKey [32]byte
}

// New derives the master key from the configured secret. Any non-empty
// string works; it is stretched to 32 bytes with SHA-256.
func New(masterSecret string) (*Box, error) {
	if masterSecret == "" {
		return nil, errors.New("sealed: master secret is empty")
	}
	return &Box{masterKey: sha256.Sum256([]byte(masterSecret))}, nil
}

// Seal encrypts plaintext under a fresh data key and returns the storable
// blob: "v1:" + base64(wrappedDataKey) + ":" + base64(ciphertext).
func (b *Box) Seal(plaintext []byte) (string, error) {
	dataKey := make([]byte, 32)
	if _, err := rand.Read(dataKey); err != nil {
		return "", fmt.Errorf("sealed: data key: %w", err)
	}
	defer Zero(dataKey)

	ct, err := gcmSeal(dataKey, plaintext)
	if err != nil {
		return "", err
	}
	wrapped, err := gcmSeal(b.masterKey[:], dataKey)
	if err != nil {
		return "", err
	}

	return prefix +
		base64.StdEncoding.EncodeToString(wrapped) + ":" +
		base64.StdEncoding.EncodeToString(ct), nil
}

// SealString seals a string credential.
func (b *Box) SealString(plaintext string) (string, error) {
	return b.Seal([]byte(plaintext))
}

// Open decrypts a sealed blob. The returned buffer holds the live secret;
// the caller must Zero it as soon as the secret has been used.
func (b *Box) Open(blob string) ([]byte, error) {
	if !IsSealed(blob) {
		return nil, ErrNotSealed
	}
	parts := strings.SplitN(strings.TrimPrefix(blob, prefix), ":", 2)
	if len(parts) != 2 {
		return nil, ErrCorrupt
	}
	wrapped, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrCorrupt
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrCorrupt
	}

	dataKey, err := gcmOpen(b.masterKey[:], wrapped)
	if err != nil {
		return nil, ErrCorrupt
	}
	defer Zero(dataKey)

	plaintext, err := gcmOpen(dataKey, ct)
	if err != nil {
		return nil, ErrCorrupt
	}
	return plaintext, nil
}

// OpenString decrypts a sealed blob into a string. Prefer Open + Zero for
// credentials that should not linger; strings cannot be zeroed.
func (b *Box) OpenString(blob string) (string, error) {
	pt, err := b.Open(blob)
	if err != nil {
		return "", err
	}
	s := string(pt)
	Zero(pt)
	return s, nil
}

// IsSealed reports whether the value carries the sealed prefix. Lets
// migrations distinguish legacy plaintext rows from sealed ones.
func IsSealed(v string) bool {
	return strings.HasPrefix(v, prefix)
}

// Zero overwrites a secret buffer.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// gcmSeal encrypts with AES-256-GCM, prepending the random nonce.
func gcmSeal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("sealed: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("sealed: gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("sealed: nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// gcmOpen reverses gcmSeal.
func gcmOpen(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, ErrCorrupt
	}
	nonce, ct := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ct, nil)
}
