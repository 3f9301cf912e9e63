package keycustody_test

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinto-dian/issuer/internal/crypto"
	"github.com/tinto-dian/issuer/internal/domain"
	"github.com/tinto-dian/issuer/internal/domain/entity"
	"github.com/tinto-dian/issuer/internal/keycustody"
)

func writeMasterKeyFile(t *testing.T, systemKey, material []byte) (path string) {
	t.Helper()
	encrypted, err := crypto.EncryptGCM(systemKey, material)
	require.NoError(t, err)
	path = filepath.Join(t.TempDir(), "master.key")
	require.NoError(t, os.WriteFile(path, []byte(encrypted), 0o600))
	return path
}

// TestLoadMasterKey_ConsoleGate is scenario E6: no console-access
// discriminator means immediate failure and no filesystem access.
func TestLoadMasterKey_ConsoleGate(t *testing.T) {
	t.Setenv(keycustody.ConsoleDiscriminatorEnv, "")

	_, err := keycustody.LoadMasterKey(filepath.Join(t.TempDir(), "does-not-exist.key"), "TINTO_SYSTEM_KEY")
	require.Error(t, err)

	var domainErr *domain.Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.CategoryAuth, domainErr.Category)
	assert.Equal(t, domain.AuthConsoleOnly, domainErr.AuthKind)
}

func TestLoadMasterKey_Success(t *testing.T) {
	systemKey := make([]byte, 32)
	for i := range systemKey {
		systemKey[i] = byte(i)
	}
	material := make([]byte, 32)
	for i := range material {
		material[i] = byte(255 - i)
	}
	path := writeMasterKeyFile(t, systemKey, material)

	t.Setenv(keycustody.ConsoleDiscriminatorEnv, "1")
	t.Setenv("TINTO_SYSTEM_KEY", base64.StdEncoding.EncodeToString(systemKey))

	mk, err := keycustody.LoadMasterKey(path, "TINTO_SYSTEM_KEY")
	require.NoError(t, err)
	assert.Equal(t, material, mk.Material())
}

func TestDeriveApiKey_FingerprintIsStableAndUnique(t *testing.T) {
	systemKey := make([]byte, 32)
	material := make([]byte, 32)
	for i := range material {
		material[i] = byte(i * 3)
	}
	path := writeMasterKeyFile(t, systemKey, material)
	t.Setenv(keycustody.ConsoleDiscriminatorEnv, "1")
	t.Setenv("TINTO_SYSTEM_KEY", base64.StdEncoding.EncodeToString(systemKey))
	mk, err := keycustody.LoadMasterKey(path, "TINTO_SYSTEM_KEY")
	require.NoError(t, err)

	raw1, key1, err := mk.DeriveApiKey("ops-1", entity.RoleOperator, 1700000000000)
	require.NoError(t, err)
	raw2, key2, err := mk.DeriveApiKey("ops-1", entity.RoleOperator, 1700000000000)
	require.NoError(t, err)
	assert.Equal(t, raw1, raw2)
	assert.Equal(t, key1.Fingerprint, key2.Fingerprint)
	assert.Len(t, raw1, 64)

	_, key3, err := mk.DeriveApiKey("ops-2", entity.RoleOperator, 1700000000000)
	require.NoError(t, err)
	assert.NotEqual(t, key1.Fingerprint, key3.Fingerprint)

	decrypted, err := mk.DecryptApiKeySecret(key1)
	require.NoError(t, err)
	assert.Equal(t, raw1, decrypted)
}
