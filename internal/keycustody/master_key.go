// Package keycustody implements §4.2: loading the process-wide master key
// under a console-access gate, and deriving per-operator API keys from it.
package keycustody

import (
	"encoding/base64"
	"os"
	"strings"
	"time"

	"github.com/tinto-dian/issuer/internal/crypto"
	"github.com/tinto-dian/issuer/internal/domain"
	"github.com/tinto-dian/issuer/internal/domain/entity"
)

// ConsoleDiscriminatorEnv is the environment variable that must be set to
// indicate direct console access before any master-key operation runs.
const ConsoleDiscriminatorEnv = "TINTO_CONSOLE_ACCESS"

// MasterKey is the single process-wide root credential. It is loaded once
// at startup and never persisted in plaintext or exposed over the network.
type MasterKey struct {
	material []byte // 32-byte AES key, held only in memory
}

// LoadMasterKey implements the §4.2 loading algorithm: refuses to run
// unless ConsoleDiscriminatorEnv is set, then reads and decrypts the
// master-key file using a system key from systemKeyEnv.
//
// No filesystem access is attempted before the console-access check (E6).
func LoadMasterKey(keyFilePath, systemKeyEnv string) (*MasterKey, error) {
	if strings.TrimSpace(os.Getenv(ConsoleDiscriminatorEnv)) == "" {
		return nil, domain.NewAuth(domain.AuthConsoleOnly, "master key operations require direct console access")
	}

	systemKeyB64 := os.Getenv(systemKeyEnv)
	if systemKeyB64 == "" {
		return nil, domain.NewCrypto(nil, "system key material (%s) not set", systemKeyEnv)
	}
	systemKey, err := base64.StdEncoding.DecodeString(systemKeyB64)
	if err != nil || len(systemKey) != 32 {
		return nil, domain.NewCrypto(err, "system key material must decode to 32 bytes")
	}

	encrypted, err := os.ReadFile(keyFilePath)
	if err != nil {
		return nil, domain.NewCrypto(err, "reading master key file %s", keyFilePath)
	}

	plaintext, err := crypto.DecryptGCM(systemKey, strings.TrimSpace(string(encrypted)))
	if err != nil {
		return nil, domain.NewCrypto(err, "decrypting master key file")
	}
	if len(plaintext) != 32 {
		return nil, domain.NewCrypto(nil, "decrypted master key material must be 32 bytes, got %d", len(plaintext))
	}
	return &MasterKey{material: plaintext}, nil
}

// Material returns the 32-byte AES key. Callers must not retain it beyond
// the operation at hand.
func (m *MasterKey) Material() []byte { return m.material }

// DeriveApiKey implements §4.2's derivation: the raw secret is the first
// 64 hex chars of SHA-512(master || ":" || name || ":" || role || ":" ||
// epochMs); the fingerprint is SHA-512(raw); the encrypted blob stores raw
// under the master key so it can be surfaced exactly once at creation.
//
// derivationEpochMs is supplied by the caller rather than read from a
// clock, so the same inputs always derive the same key; production code
// stamps it once at creation time.
func (m *MasterKey) DeriveApiKey(name string, role entity.Role, derivationEpochMs int64) (raw string, key *entity.ApiKey, err error) {
	concat := string(m.material) + ":" + name + ":" + string(role) + ":" + itoa64(derivationEpochMs)
	digest := crypto.SHA512Hex([]byte(concat))
	raw = digest[:64]
	fingerprint := crypto.SHA512Hex([]byte(raw))

	encryptedRaw, err := crypto.EncryptGCM(m.material, []byte(raw))
	if err != nil {
		return "", nil, domain.NewCrypto(err, "encrypting derived API key blob")
	}

	key = &entity.ApiKey{
		Name:         name,
		Role:         role,
		Fingerprint:  fingerprint,
		EncryptedRaw: encryptedRaw,
		Active:       true,
	}
	return raw, key, nil
}

// DecryptBlob decrypts any at-rest blob sealed under the master key,
// satisfying the Decrypter port CertSource depends on.
func (m *MasterKey) DecryptBlob(encrypted string) ([]byte, error) {
	plaintext, err := crypto.DecryptGCM(m.material, encrypted)
	if err != nil {
		return nil, domain.NewCrypto(err, "decrypting blob under master key")
	}
	return plaintext, nil
}

// Encrypt seals plaintext under the master key, satisfying the
// orchestrator's Cipher port for every encrypted-at-rest blob in §4.10
// (UBL, signed XML, submission ZIP, DIAN response).
func (m *MasterKey) Encrypt(plaintext []byte) (string, error) {
	ciphertext, err := crypto.EncryptGCM(m.material, plaintext)
	if err != nil {
		return "", domain.NewCrypto(err, "encrypting blob under master key")
	}
	return ciphertext, nil
}

// DecryptApiKeySecret recovers the raw secret of a previously derived key,
// for administrative display only — never logged.
func (m *MasterKey) DecryptApiKeySecret(key *entity.ApiKey) (string, error) {
	plaintext, err := crypto.DecryptGCM(m.material, key.EncryptedRaw)
	if err != nil {
		return "", domain.NewCrypto(err, "decrypting API key secret")
	}
	return string(plaintext), nil
}

func itoa64(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// EpochMillis converts a clock reading into the millisecond epoch
// DeriveApiKey takes as its derivation time.
func EpochMillis(t time.Time) int64 { return t.UnixMilli() }
