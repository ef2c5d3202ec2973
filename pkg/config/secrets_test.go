package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	dir := t.TempDir()
	secrets := map[string]string{
		"EXECUTOR_API_KEY": "sk-test-123",
		"OTHER_TOKEN":      "abc",
	}

	require.NoError(t, EncryptSecretsFile(dir, "correct horse", secrets))

	path := filepath.Join(dir, ProjectConfigDir, secretsFileName)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	decrypted, err := DecryptSecretsFile(dir, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, secrets, decrypted)
}

func TestDecryptWrongPassword(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EncryptSecretsFile(dir, "right", map[string]string{"K": "v"}))

	_, err := DecryptSecretsFile(dir, "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decryption failed")
}

func TestDecryptTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	configDir := filepath.Join(dir, ProjectConfigDir)
	require.NoError(t, os.MkdirAll(configDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, secretsFileName), []byte("short"), 0600))

	_, err := DecryptSecretsFile(dir, "any")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupted")
}

func TestDecryptFixesLoosePermissions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EncryptSecretsFile(dir, "pw", map[string]string{"K": "v"}))

	path := filepath.Join(dir, ProjectConfigDir, secretsFileName)
	require.NoError(t, os.Chmod(path, 0644))

	_, err := DecryptSecretsFile(dir, "pw")
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestSecretsFileExists(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, SecretsFileExists(dir))

	require.NoError(t, EncryptSecretsFile(dir, "pw", map[string]string{}))
	assert.True(t, SecretsFileExists(dir))
}

func TestGetSecretPrecedence(t *testing.T) {
	SetDecryptedSecrets(map[string]string{"FROM_FILE": "file-value"})
	defer SetDecryptedSecrets(nil)

	value, err := GetSecret("FROM_FILE")
	require.NoError(t, err)
	assert.Equal(t, "file-value", value)

	t.Setenv("FROM_ENV_ONLY", "env-value")
	value, err = GetSecret("FROM_ENV_ONLY")
	require.NoError(t, err)
	assert.Equal(t, "env-value", value)

	_, err = GetSecret("MISSING_EVERYWHERE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSetAndDeleteSecret(t *testing.T) {
	defer SetDecryptedSecrets(nil)

	require.NoError(t, SetSecret("EPHEMERAL", "v1"))
	value, err := GetSecret("EPHEMERAL")
	require.NoError(t, err)
	assert.Equal(t, "v1", value)

	assert.Contains(t, GetDecryptedSecretNames(), "EPHEMERAL")

	require.NoError(t, DeleteSecret("EPHEMERAL"))
	_, err = GetSecret("EPHEMERAL")
	require.Error(t, err)
}

func TestLoadSecrets(t *testing.T) {
	dir := t.TempDir()
	defer SetDecryptedSecrets(nil)

	// No secrets file is fine.
	require.NoError(t, LoadSecrets(dir))

	require.NoError(t, EncryptSecretsFile(dir, "pass", map[string]string{"LOADED": "yes"}))

	// File present but no passphrase in the environment.
	t.Setenv(SecretsKeyEnv, "")
	err := LoadSecrets(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), SecretsKeyEnv)

	t.Setenv(SecretsKeyEnv, "pass")
	require.NoError(t, LoadSecrets(dir))

	value, err := GetSecret("LOADED")
	require.NoError(t, err)
	assert.Equal(t, "yes", value)
}
