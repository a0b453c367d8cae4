package util

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	saltSize  = 16
	nonceSize = 24
)

// deriveKey stretches the configured secret into a secretbox key
func deriveKey(secret string, salt []byte) (*[32]byte, error) {
	raw, err := scrypt.Key([]byte(secret), salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// Seal encrypts plaintext with a key derived from the configured
// secret. Used for actor private keys at rest; output layout is
// base64(salt || nonce || box).
func Seal(plaintext string, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("encryption secret is not configured")
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := deriveKey(secret, salt)
	if err != nil {
		return "", err
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+nonceSize+len(plaintext)+secretbox.Overhead)
	out = append(out, salt...)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, []byte(plaintext), &nonce, key)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal
func Open(encoded string, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("encryption secret is not configured")
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode sealed value: %w", err)
	}
	if len(raw) < saltSize+nonceSize+secretbox.Overhead {
		return "", fmt.Errorf("sealed value too short")
	}

	key, err := deriveKey(secret, raw[:saltSize])
	if err != nil {
		return "", err
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[saltSize:saltSize+nonceSize])

	plain, ok := secretbox.Open(nil, raw[saltSize+nonceSize:], &nonce, key)
	if !ok {
		return "", fmt.Errorf("failed to decrypt sealed value")
	}

	return string(plain), nil
}
