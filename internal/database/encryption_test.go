package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptor_DisabledIsPassthrough(t *testing.T) {
	t.Setenv(envEnableEncryption, "")

	enc, err := NewEncryptor()
	require.NoError(t, err)

	out, err := enc.EncryptIfEnabled(`["https://hooks.example.com/wa"]`)
	require.NoError(t, err)
	assert.Equal(t, `["https://hooks.example.com/wa"]`, out)
}

func TestEncryptor_RoundTrip(t *testing.T) {
	t.Setenv(envEnableEncryption, "true")
	t.Setenv(envEncryptionSecret, "an-adequately-long-test-secret-value-123")

	enc, err := NewEncryptor()
	require.NoError(t, err)

	plaintext := `["https://hooks.example.com/wa?token=s3cret"]`
	ciphertext, err := enc.EncryptIfEnabled(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := enc.DecryptIfEnabled(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncryptor_NonDeterministic(t *testing.T) {
	t.Setenv(envEnableEncryption, "true")
	t.Setenv(envEncryptionSecret, "an-adequately-long-test-secret-value-123")

	enc, err := NewEncryptor()
	require.NoError(t, err)

	a, err := enc.Encrypt("same input")
	require.NoError(t, err)
	b, err := enc.Encrypt("same input")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestNewEncryptor_RequiresSecret(t *testing.T) {
	t.Setenv(envEnableEncryption, "true")
	t.Setenv(envEncryptionSecret, "")

	_, err := NewEncryptor()
	assert.Error(t, err)
}

func TestNewEncryptor_RejectsShortSecret(t *testing.T) {
	t.Setenv(envEnableEncryption, "true")
	t.Setenv(envEncryptionSecret, "too-short")

	_, err := NewEncryptor()
	assert.Error(t, err)
}

func TestDecrypt_RejectsGarbage(t *testing.T) {
	t.Setenv(envEnableEncryption, "true")
	t.Setenv(envEncryptionSecret, "an-adequately-long-test-secret-value-123")

	enc, err := NewEncryptor()
	require.NoError(t, err)

	_, err = enc.Decrypt("not base64!!!")
	assert.Error(t, err)

	_, err = enc.Decrypt("c2hvcnQ=")
	assert.Error(t, err)
}
