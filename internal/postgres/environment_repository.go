package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tinto-dian/issuer/internal/domain/entity"
	"github.com/tinto-dian/issuer/internal/domain/repository"
)

var _ repository.EnvironmentRepository = (*EnvironmentRepo)(nil)

// EnvironmentRepo implements repository.EnvironmentRepository. The table
// is a small, essentially static catalog (habilitacion/produccion) seeded
// once per deployment rather than written by the application.
type EnvironmentRepo struct {
	q Querier
}

func NewEnvironmentRepository(q Querier) *EnvironmentRepo {
	return &EnvironmentRepo{q: q}
}

func (r *EnvironmentRepo) GetByName(ctx context.Context, name entity.EnvironmentName) (*entity.Environment, error) {
	const query = `SELECT id, name, soap_url, production FROM environments WHERE name = $1`
	var env entity.Environment
	var envName string
	err := r.q.QueryRow(ctx, query, string(name)).Scan(&env.ID, &envName, &env.SOAPURL, &env.Production)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get environment by name: %w", err)
	}
	env.Name = entity.EnvironmentName(envName)
	return &env, nil
}
