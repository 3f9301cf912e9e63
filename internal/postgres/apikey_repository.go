package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tinto-dian/issuer/internal/domain/entity"
	"github.com/tinto-dian/issuer/internal/domain/repository"
)

var _ repository.ApiKeyRepository = (*ApiKeyRepo)(nil)

// ApiKeyRepo implements repository.ApiKeyRepository (§4.2, §4.3).
type ApiKeyRepo struct {
	q Querier
}

func NewApiKeyRepository(q Querier) *ApiKeyRepo {
	return &ApiKeyRepo{q: q}
}

func (r *ApiKeyRepo) FindByFingerprint(ctx context.Context, fingerprint string) (*entity.ApiKey, error) {
	const query = `
		SELECT id, name, role, fingerprint, encrypted_raw, expires_at, last_used_at, active, master_key_ref, created_at
		FROM api_keys WHERE fingerprint = $1`
	var k entity.ApiKey
	var roleStr string
	err := r.q.QueryRow(ctx, query, fingerprint).Scan(
		&k.ID, &k.Name, &roleStr, &k.Fingerprint, &k.EncryptedRaw,
		&k.ExpiresAt, &k.LastUsedAt, &k.Active, &k.MasterKeyRef, &k.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: find api key by fingerprint: %w", err)
	}
	k.Role = entity.Role(roleStr)
	return &k, nil
}

func (r *ApiKeyRepo) Insert(ctx context.Context, key *entity.ApiKey) error {
	query := `
		INSERT INTO api_keys (id, name, role, fingerprint, encrypted_raw, expires_at, last_used_at, active, master_key_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.q.Exec(ctx, query,
		key.ID, key.Name, string(key.Role), key.Fingerprint, key.EncryptedRaw,
		key.ExpiresAt, key.LastUsedAt, key.Active, key.MasterKeyRef, key.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: api key fingerprint already exists: %w", err)
		}
		return fmt.Errorf("postgres: insert api key: %w", err)
	}
	return nil
}

func (r *ApiKeyRepo) Touch(ctx context.Context, id string, usedAt time.Time) error {
	_, err := r.q.Exec(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, usedAt)
	if err != nil {
		return fmt.Errorf("postgres: touch api key: %w", err)
	}
	return nil
}
