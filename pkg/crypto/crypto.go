// Package crypto seals individual vault records for backends that have no
// protection of their own (the single-file SQLite vault).
//
// Records are sealed with AES-256-GCM under a key derived from a passphrase
// with Argon2id. The nonce is prepended to the ciphertext so a sealed record is
// self-contained:
//
//	sealed = nonce(12) || ciphertext || tag(16)
//
// The record name is bound as additional authenticated data, so a sealed value
// copied under a different name fails to open.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters following OWASP recommendations.
const (
	Argon2Memory  = 64 * 1024 // KiB
	Argon2Time    = 3
	Argon2Threads = 4

	// KeyLength is the length of sealing keys in bytes (256 bits).
	KeyLength = 32

	// SaltLength is the length of the key derivation salt in bytes.
	SaltLength = 16

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12
)

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrSealedTooShort indicates the sealed value cannot hold a nonce and tag.
	ErrSealedTooShort = errors.New("crypto: sealed value too short")

	// ErrOpenFailed indicates authentication failed: wrong key, wrong record
	// name, or a tampered value.
	ErrOpenFailed = errors.New("crypto: failed to open sealed value")
)

// NewSalt returns SaltLength bytes of random salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives a 256-bit sealing key from a passphrase using Argon2id.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, Argon2Time, Argon2Memory, Argon2Threads, KeyLength)
}

// Sealer seals and opens records with a fixed key.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer returns a Sealer for key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return &Sealer{aead: gcm}, nil
}

// Seal encrypts plaintext bound to name.
func (s *Sealer) Seal(name string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceLength, NonceLength+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, []byte(name)), nil
}

// Open decrypts a value produced by Seal for the same name.
func (s *Sealer) Open(name string, sealed []byte) ([]byte, error) {
	if len(sealed) < NonceLength+s.aead.Overhead() {
		return nil, ErrSealedTooShort
	}
	nonce, ciphertext := sealed[:NonceLength], sealed[NonceLength:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte(name))
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}

// SecureWipe overwrites b with zeros.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// keep b reachable so the stores are not elided
	runtime.KeepAlive(b)
}
