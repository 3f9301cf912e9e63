package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinto-dian/issuer/internal/auth"
	"github.com/tinto-dian/issuer/internal/crypto"
	"github.com/tinto-dian/issuer/internal/domain"
	"github.com/tinto-dian/issuer/internal/domain/entity"
)

type fakeKeys struct {
	byFingerprint map[string]*entity.ApiKey
}

func (f *fakeKeys) FindApiKeyByFingerprint(_ context.Context, fingerprint string) (*entity.ApiKey, error) {
	k, ok := f.byFingerprint[fingerprint]
	if !ok {
		return nil, errors.New("not found")
	}
	return k, nil
}

type fakeReplay struct {
	seen map[string]bool
}

func newFakeReplay() *fakeReplay { return &fakeReplay{seen: map[string]bool{}} }

func (f *fakeReplay) InsertIfAbsent(_ context.Context, signature string, _ time.Time) (bool, error) {
	if f.seen[signature] {
		return false, nil
	}
	f.seen[signature] = true
	return true, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func setup(t *testing.T, rawKey string, role entity.Role) (*auth.Verifier, *entity.ApiKey) {
	t.Helper()
	fingerprint := crypto.SHA512Hex([]byte(rawKey))
	key := &entity.ApiKey{ID: "key-1", Role: role, Fingerprint: fingerprint, Active: true}
	keys := &fakeKeys{byFingerprint: map[string]*entity.ApiKey{fingerprint: key}}
	replay := newFakeReplay()
	v := auth.NewVerifier(keys, replay)
	return v, key
}

func TestVerifier_Authenticate_Success(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	v, _ := setup(t, "raw-secret", entity.RoleOperator)
	v.Now = fixedClock(now)

	ts := now.Format(time.RFC3339)
	sig := auth.Sign("raw-secret", "POST", "/invoices", ts, []byte(`{}`))

	key, err := v.Authenticate(context.Background(), auth.Request{
		RawKey: "raw-secret", Signature: sig, Timestamp: ts,
		Method: "POST", Path: "/invoices", Body: []byte(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, entity.RoleOperator, key.Role)
}

func TestVerifier_Authenticate_RejectsStaleTimestamp(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	v, _ := setup(t, "raw-secret", entity.RoleOperator)
	v.Now = fixedClock(now)

	ts := now.Add(-10 * time.Minute).Format(time.RFC3339)
	sig := auth.Sign("raw-secret", "POST", "/invoices", ts, nil)

	_, err := v.Authenticate(context.Background(), auth.Request{
		RawKey: "raw-secret", Signature: sig, Timestamp: ts, Method: "POST", Path: "/invoices",
	})
	require.Error(t, err)
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.AuthExpired, derr.AuthKind)
}

func TestVerifier_Authenticate_RejectsBadSignature(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	v, _ := setup(t, "raw-secret", entity.RoleOperator)
	v.Now = fixedClock(now)

	ts := now.Format(time.RFC3339)
	_, err := v.Authenticate(context.Background(), auth.Request{
		RawKey: "raw-secret", Signature: "not-the-real-signature", Timestamp: ts, Method: "GET", Path: "/x",
	})
	require.Error(t, err)
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.AuthBadSignature, derr.AuthKind)
}

func TestVerifier_Authenticate_RejectsReplay(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	v, _ := setup(t, "raw-secret", entity.RoleOperator)
	v.Now = fixedClock(now)

	ts := now.Format(time.RFC3339)
	sig := auth.Sign("raw-secret", "GET", "/x", ts, nil)
	req := auth.Request{RawKey: "raw-secret", Signature: sig, Timestamp: ts, Method: "GET", Path: "/x"}

	_, err := v.Authenticate(context.Background(), req)
	require.NoError(t, err)

	_, err = v.Authenticate(context.Background(), req)
	require.Error(t, err)
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.AuthReplay, derr.AuthKind)
}

func TestVerifier_Authenticate_RejectsUnknownKey(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	v, _ := setup(t, "raw-secret", entity.RoleOperator)
	v.Now = fixedClock(now)

	ts := now.Format(time.RFC3339)
	sig := auth.Sign("some-other-key", "GET", "/x", ts, nil)
	_, err := v.Authenticate(context.Background(), auth.Request{
		RawKey: "some-other-key", Signature: sig, Timestamp: ts, Method: "GET", Path: "/x",
	})
	require.Error(t, err)
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.AuthUnknownKey, derr.AuthKind)
}

func TestVerifier_Authenticate_RejectsMissingHeaders(t *testing.T) {
	v, _ := setup(t, "raw-secret", entity.RoleOperator)
	_, err := v.Authenticate(context.Background(), auth.Request{})
	require.Error(t, err)
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.AuthMissing, derr.AuthKind)
}

func TestAuthorize_RoleCapabilityTable(t *testing.T) {
	cases := []struct {
		role    entity.Role
		cap     entity.Capability
		allowed bool
	}{
		{entity.RoleAdmin, entity.CapabilityManageIssuers, true},
		{entity.RoleOperator, entity.CapabilityManageIssuers, false},
		{entity.RoleOperator, entity.CapabilityIssueToDIAN, true},
		{entity.RoleAuditor, entity.CapabilityIssueToDIAN, false},
		{entity.RoleAuditor, entity.CapabilityReadInvoices, true},
	}
	for _, tc := range cases {
		key := &entity.ApiKey{Role: tc.role}
		err := auth.Authorize(key, tc.cap)
		if tc.allowed {
			assert.NoError(t, err)
		} else {
			require.Error(t, err)
			var derr *domain.Error
			require.ErrorAs(t, err, &derr)
			assert.Equal(t, domain.AuthRoleDenied, derr.AuthKind)
		}
	}
}
