package postgres

import (
	"context"
	"fmt"

	"github.com/tinto-dian/issuer/internal/domain/entity"
	"github.com/tinto-dian/issuer/internal/domain/repository"
)

var _ repository.ReplayGuardRepository = (*ReplayGuardRepo)(nil)

// ReplayGuardRepo implements repository.ReplayGuardRepository by leaning
// on a unique constraint over (signature_digest, request_timestamp): the
// insert itself is the replay check, so there is no read-then-write race
// window (P6).
type ReplayGuardRepo struct {
	q Querier
}

func NewReplayGuardRepository(q Querier) *ReplayGuardRepo {
	return &ReplayGuardRepo{q: q}
}

func (r *ReplayGuardRepo) InsertIfAbsent(ctx context.Context, sig *entity.RequestSignature) (bool, error) {
	query := `
		INSERT INTO request_signatures (api_key_id, signature_digest, method, path, request_timestamp)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (signature_digest, request_timestamp) DO NOTHING`
	tag, err := r.q.Exec(ctx, query,
		sig.ApiKeyID, sig.SignatureDigest, sig.Method, sig.Path, sig.RequestTimestamp,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: insert request signature: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
