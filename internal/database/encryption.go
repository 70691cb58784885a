package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize    = 32     // AES-256
	nonceSize  = 12     // GCM standard nonce size
	iterations = 100000 // PBKDF2 iterations

	encryptionSalt = "kirimkan-webhook-config-v1"
)

// Environment variables controlling at-rest encryption of callback URLs
const (
	envEnableEncryption = "KIRIMKAN_ENABLE_ENCRYPTION"
	envEncryptionSecret = "KIRIMKAN_ENCRYPTION_SECRET"
)

type encryptor struct {
	gcm cipher.AEAD
}

func NewEncryptor() (*encryptor, error) {
	// If encryption is disabled, return a nil encryptor
	if !isEncryptionEnabled() {
		return &encryptor{gcm: nil}, nil
	}

	key, err := deriveKey()
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &encryptor{gcm: gcm}, nil
}

func (e *encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || e.gcm == nil {
		return plaintext, nil
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	// Prepend nonce to ciphertext for storage
	result := append(nonce, ciphertext...)
	return base64.StdEncoding.EncodeToString(result), nil
}

func (e *encryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" || e.gcm == nil {
		return ciphertext, nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, payload := data[:nonceSize], data[nonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, payload, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

func (e *encryptor) EncryptIfEnabled(plaintext string) (string, error) {
	if !isEncryptionEnabled() {
		return plaintext, nil
	}
	return e.Encrypt(plaintext)
}

func (e *encryptor) DecryptIfEnabled(ciphertext string) (string, error) {
	if !isEncryptionEnabled() {
		return ciphertext, nil
	}
	return e.Decrypt(ciphertext)
}

func deriveKey() ([]byte, error) {
	secret := os.Getenv(envEncryptionSecret)
	if secret == "" {
		return nil, fmt.Errorf("%s environment variable is required when encryption is enabled", envEncryptionSecret)
	}

	if len(secret) < 32 {
		return nil, fmt.Errorf("encryption secret must be at least 32 characters long")
	}

	key := pbkdf2.Key([]byte(secret), []byte(encryptionSalt), iterations, keySize, sha256.New)
	return key, nil
}

func isEncryptionEnabled() bool {
	return os.Getenv(envEnableEncryption) == "true"
}
