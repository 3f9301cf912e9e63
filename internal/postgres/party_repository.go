package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tinto-dian/issuer/internal/domain/entity"
	"github.com/tinto-dian/issuer/internal/domain/repository"
)

var _ repository.IssuerRepository = (*IssuerRepo)(nil)
var _ repository.CustomerRepository = (*CustomerRepo)(nil)

// IssuerRepo implements repository.IssuerRepository.
type IssuerRepo struct {
	q Querier
}

func NewIssuerRepository(q Querier) *IssuerRepo {
	return &IssuerRepo{q: q}
}

const issuerColumns = `
	id, identification_type, tax_id, legal_name, address, locality, contact,
	COALESCE(encrypted_certificate_blob, ''), certificate_expires_at,
	COALESCE(fiscal_responsibility_codes, '{}'), created_at, updated_at`

func (r *IssuerRepo) GetByID(ctx context.Context, id string) (*entity.Issuer, error) {
	iss, err := scanIssuer(r.q.QueryRow(ctx, `SELECT `+issuerColumns+` FROM issuers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get issuer: %w", err)
	}
	return iss, nil
}

func (r *IssuerRepo) GetByTaxID(ctx context.Context, taxID string) (*entity.Issuer, error) {
	iss, err := scanIssuer(r.q.QueryRow(ctx, `SELECT `+issuerColumns+` FROM issuers WHERE tax_id = $1`, taxID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get issuer by tax id: %w", err)
	}
	return iss, nil
}

func scanIssuer(row row) (*entity.Issuer, error) {
	var iss entity.Issuer
	var idType string
	if err := row.Scan(
		&iss.ID, &idType, &iss.TaxID, &iss.LegalName, &iss.Address, &iss.Locality, &iss.Contact,
		&iss.EncryptedCertificateBlob, &iss.CertificateExpiresAt,
		&iss.FiscalResponsibilityCodes, &iss.CreatedAt, &iss.UpdatedAt,
	); err != nil {
		return nil, err
	}
	iss.IdentificationType = entity.IdentificationType(idType)
	return &iss, nil
}

// CustomerRepo implements repository.CustomerRepository.
type CustomerRepo struct {
	q Querier
}

func NewCustomerRepository(q Querier) *CustomerRepo {
	return &CustomerRepo{q: q}
}

const customerColumns = `
	id, identification_type, tax_id, legal_name, address, locality, contact,
	created_at, updated_at`

func (r *CustomerRepo) GetByID(ctx context.Context, id string) (*entity.Customer, error) {
	c, err := scanCustomer(r.q.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get customer: %w", err)
	}
	return c, nil
}

func (r *CustomerRepo) GetByTaxID(ctx context.Context, idType entity.IdentificationType, taxID string) (*entity.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE identification_type = $1 AND tax_id = $2`
	c, err := scanCustomer(r.q.QueryRow(ctx, query, string(idType), taxID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get customer by tax id: %w", err)
	}
	return c, nil
}

func scanCustomer(row row) (*entity.Customer, error) {
	var c entity.Customer
	var idType string
	if err := row.Scan(
		&c.ID, &idType, &c.TaxID, &c.LegalName, &c.Address, &c.Locality, &c.Contact,
		&c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.IdentificationType = entity.IdentificationType(idType)
	return &c, nil
}
