// Package secrets seals values with AES-256-GCM before they are persisted.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
)

var (
	// ErrKey reports an unusable key configuration.
	ErrKey = errors.New("secrets: invalid key")
	// ErrOpen reports ciphertext that fails authentication.
	ErrOpen = errors.New("secrets: open failed")
)

// KeyConfig configures key derivation.
// Provide either MasterKey (raw 32 bytes) or Passphrase + Salt.
type KeyConfig struct {
	MasterKey  []byte // raw 32-byte key (takes priority)
	Passphrase string // derive key via PBKDF2
	Salt       []byte // salt for PBKDF2 (required with Passphrase)
	Iterations int    // PBKDF2 iterations (default 100_000)
}

// Empty reports whether no key material was supplied.
func (c KeyConfig) Empty() bool {
	return len(c.MasterKey) == 0 && c.Passphrase == ""
}

// Sealer encrypts and authenticates values. Safe for concurrent use.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the key described by cfg.
func NewSealer(cfg KeyConfig) (*Sealer, error) {
	key, err := deriveKey(cfg)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

func deriveKey(cfg KeyConfig) ([]byte, error) {
	if len(cfg.MasterKey) > 0 {
		if len(cfg.MasterKey) != 32 {
			return nil, fmt.Errorf("%w: master key must be 32 bytes, got %d", ErrKey, len(cfg.MasterKey))
		}
		return cfg.MasterKey, nil
	}
	if cfg.Passphrase == "" {
		return nil, fmt.Errorf("%w: either master key or passphrase is required", ErrKey)
	}
	if len(cfg.Salt) == 0 {
		return nil, fmt.Errorf("%w: salt is required with passphrase", ErrKey)
	}
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = 100_000
	}
	return pbkdf2.Key(sha256.New, cfg.Passphrase, cfg.Salt, iterations, 32)
}

// Seal encrypts plaintext. additional is authenticated but not encrypted and
// must be passed unchanged to Open.
func (s *Sealer) Seal(plaintext, additional []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, additional), nil
}

// Open reverses Seal.
func (s *Sealer) Open(ciphertext, additional []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrOpen)
	}
	nonce := ciphertext[:nonceSize]
	ct := ciphertext[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ct, additional)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrOpen, err.Error())
	}
	return plaintext, nil
}

// NewSalt returns size random bytes for passphrase derivation.
func NewSalt(size int) ([]byte, error) {
	salt := make([]byte, size)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}
