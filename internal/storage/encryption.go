package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	// EncryptionMagicHeader is prepended to sealed library exports.
	EncryptionMagicHeader = "CVLTENC1"

	// Default Argon2 parameters (RFC 9106 recommendations)
	defaultArgon2Time    = 1
	defaultArgon2Memory  = 64 * 1024 // 64 MB
	defaultArgon2Threads = 4
	defaultArgon2KeyLen  = 32 // AES-256

	saltLength = 32
)

// EncryptionConfig holds configuration for encryption operations.
type EncryptionConfig struct {
	Password string

	// Argon2 cost parameters. Zero values fall back to the defaults.
	Argon2Time    uint32
	Argon2Memory  uint32 // KiB
	Argon2Threads uint8
}

// DefaultEncryptionConfig returns encryption config with secure defaults.
func DefaultEncryptionConfig(password string) *EncryptionConfig {
	return &EncryptionConfig{
		Password:      password,
		Argon2Time:    defaultArgon2Time,
		Argon2Memory:  defaultArgon2Memory,
		Argon2Threads: defaultArgon2Threads,
	}
}

// deriveKey derives an AES key from the password using Argon2id.
func deriveKey(salt []byte, config *EncryptionConfig) []byte {
	t, mem, threads := config.Argon2Time, config.Argon2Memory, config.Argon2Threads
	if t == 0 {
		t = defaultArgon2Time
	}
	if mem == 0 {
		mem = defaultArgon2Memory
	}
	if threads == 0 {
		threads = defaultArgon2Threads
	}
	return argon2.IDKey([]byte(config.Password), salt, t, mem, threads, defaultArgon2KeyLen)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext with AES-256-GCM.
// Output format: magic header || salt || nonce || ciphertext (includes auth tag).
func Seal(plaintext []byte, config *EncryptionConfig) ([]byte, error) {
	if config == nil || config.Password == "" {
		return nil, fmt.Errorf("encryption config with password required")
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := newGCM(deriveKey(salt, config))
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, len(EncryptionMagicHeader)+len(salt)+len(nonce)+len(ciphertext))
	out = append(out, EncryptionMagicHeader...)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// Unseal decrypts data produced by Seal.
func Unseal(sealed []byte, config *EncryptionConfig) ([]byte, error) {
	if config == nil || config.Password == "" {
		return nil, fmt.Errorf("encryption config with password required")
	}
	if !IsSealed(sealed) {
		return nil, fmt.Errorf("data is not encrypted or has wrong format")
	}
	data := sealed[len(EncryptionMagicHeader):]

	// salt + nonce (12 bytes) + GCM tag (16 bytes)
	if len(data) < saltLength+12+16 {
		return nil, fmt.Errorf("encrypted data too short")
	}

	salt := data[:saltLength]
	data = data[saltLength:]

	gcm, err := newGCM(deriveKey(salt, config))
	if err != nil {
		return nil, err
	}

	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong password or corrupted data): %w", err)
	}

	return plaintext, nil
}

// IsSealed reports whether data starts with the encryption magic header.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, []byte(EncryptionMagicHeader))
}
