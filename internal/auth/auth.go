// Package auth implements §4.3: validating the three headers every
// authenticated external request carries (API key, signature, timestamp)
// against the replay-nonce set and the role capability table.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/tinto-dian/issuer/internal/crypto"
	"github.com/tinto-dian/issuer/internal/domain"
	"github.com/tinto-dian/issuer/internal/domain/entity"
)

const (
	// clockSkewBehind and clockSkewAhead bound V1's acceptance window.
	clockSkewBehind = 5 * time.Minute
	clockSkewAhead  = 1 * time.Minute
)

// KeyLookup resolves an API key by its SHA-512 fingerprint. Implementations
// live in the persistence layer.
type KeyLookup interface {
	FindApiKeyByFingerprint(ctx context.Context, fingerprint string) (*entity.ApiKey, error)
}

// ReplayGuard records (signature, timestamp) pairs with insert-if-absent
// atomicity (V3). InsertIfAbsent returns false when the pair was already
// recorded — a replay.
type ReplayGuard interface {
	InsertIfAbsent(ctx context.Context, signature string, timestamp time.Time) (inserted bool, err error)
}

// Request is the inbound data needed to authenticate a call.
type Request struct {
	RawKey    string // the API key as presented, not yet hashed
	Signature string
	Timestamp string // ISO-8601 UTC
	Method    string
	Path      string
	Body      []byte
}

// Verifier ties key lookup and replay tracking together to run the full
// V1-V5 validation policy.
type Verifier struct {
	Keys   KeyLookup
	Replay ReplayGuard
	Now    func() time.Time
}

// NewVerifier builds a Verifier with a real clock.
func NewVerifier(keys KeyLookup, replay ReplayGuard) *Verifier {
	return &Verifier{Keys: keys, Replay: replay, Now: time.Now}
}

// Authenticate runs V1 through V4 and returns the resolved key. Callers
// that need V5 (capability check) call Authorize separately once they know
// which capability the operation requires.
func (v *Verifier) Authenticate(ctx context.Context, req Request) (*entity.ApiKey, error) {
	if req.RawKey == "" || req.Signature == "" || req.Timestamp == "" {
		return nil, domain.NewAuth(domain.AuthMissing, "request is missing one or more auth headers")
	}

	ts, err := time.Parse(time.RFC3339, req.Timestamp)
	if err != nil {
		return nil, domain.NewAuth(domain.AuthBadFormat, "timestamp header is not a valid ISO-8601 UTC value")
	}

	now := v.Now()
	if ts.Before(now.Add(-clockSkewBehind)) || ts.After(now.Add(clockSkewAhead)) {
		return nil, domain.NewAuth(domain.AuthExpired, "timestamp %s is outside the acceptance window", req.Timestamp)
	}

	fingerprint := crypto.SHA512Hex([]byte(req.RawKey))
	key, err := v.Keys.FindApiKeyByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, domain.NewAuth(domain.AuthUnknownKey, "no active key matches the presented credential")
	}
	if key == nil || !key.Usable(now) {
		return nil, domain.NewAuth(domain.AuthUnknownKey, "no active key matches the presented credential")
	}

	expected := expectedSignature(req.RawKey, req.Method, req.Path, req.Timestamp, req.Body)
	if !crypto.ConstantTimeEqual(expected, req.Signature) {
		return nil, domain.NewAuth(domain.AuthBadSignature, "signature does not match expected value")
	}

	inserted, err := v.Replay.InsertIfAbsent(ctx, req.Signature, ts)
	if err != nil {
		return nil, domain.NewUpstream(err, "recording replay-nonce entry")
	}
	if !inserted {
		return nil, domain.NewAuth(domain.AuthReplay, "signature %s already used", req.Signature)
	}

	return key, nil
}

// Authorize implements V5: the key's role must grant the capability.
func Authorize(key *entity.ApiKey, cap entity.Capability) error {
	if !key.Role.Allows(cap) {
		return domain.NewAuth(domain.AuthRoleDenied, "role %s does not grant %s", key.Role, cap)
	}
	return nil
}

// Sign computes the expected signature for a request, used by both the
// server side (validation) and any internal caller issuing signed
// requests to itself (tests, admin tooling).
func Sign(rawKey, method, path, timestamp string, body []byte) string {
	return expectedSignature(rawKey, method, path, timestamp, body)
}

func expectedSignature(rawKey, method, path, timestamp string, body []byte) string {
	payload := fmt.Sprintf("%s:%s:%s:%s:%s", rawKey, method, path, timestamp, body)
	return crypto.SHA512Hex([]byte(payload))
}
