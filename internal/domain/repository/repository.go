// Package repository defines the persistence port (§4.10): the typed
// storage operations the orchestrator depends on, with no assumption about
// the backing store. Concrete adapters live under internal/postgres.
package repository

import (
	"context"
	"time"

	"github.com/tinto-dian/issuer/internal/domain/entity"
)

// InvoiceRepository upserts invoices and their line items and hands out the
// atomic per-(issuer,prefix) numbering sequence.
type InvoiceRepository interface {
	Upsert(ctx context.Context, inv *entity.Invoice) error
	GetByID(ctx context.Context, id string) (*entity.Invoice, error)
	ListByIssuerTaxID(ctx context.Context, issuerTaxID string) ([]*entity.Invoice, error)

	InsertLineItem(ctx context.Context, item *entity.LineItem) error
	ListLineItems(ctx context.Context, invoiceID string) ([]*entity.LineItem, error)

	// NextNumber returns max(number)+1 scoped to (issuerID, prefix), atomic
	// against concurrent callers (§4.10, §5 ordering).
	NextNumber(ctx context.Context, issuerID, prefix string) (int64, error)

	// ExistsByNumbering reports whether an invoice already occupies
	// (issuerID, prefix, number) — the uniqueness check behind E4.
	ExistsByNumbering(ctx context.Context, issuerID, prefix string, number int64) (bool, error)
}

// SubmissionRepository persists submission attempts with an optimistic
// compare-and-set on Status so two concurrent writers cannot both advance
// the same row (§5 ordering guarantees).
type SubmissionRepository interface {
	Insert(ctx context.Context, sub *entity.Submission) error

	// LatestNonTerminal returns the most recent non-terminal submission for
	// an invoice, or nil if none exists — the idempotency check in submit's
	// step 1.
	LatestNonTerminal(ctx context.Context, invoiceID string) (*entity.Submission, error)

	GetByID(ctx context.Context, id string) (*entity.Submission, error)

	// CompareAndSetStatus updates sub's row only if the stored status still
	// equals expectedStatus, returning false without error when another
	// writer already moved it.
	CompareAndSetStatus(ctx context.Context, sub *entity.Submission, expectedStatus entity.SubmissionStatus) (bool, error)
}

// ReplayGuardRepository inserts request signatures with a unique
// constraint on (signature, timestamp); an insertion collision is the
// replay signal for P6.
type ReplayGuardRepository interface {
	InsertIfAbsent(ctx context.Context, sig *entity.RequestSignature) (bool, error)
}

// ApiKeyRepository looks up derived credentials by fingerprint (§4.3).
type ApiKeyRepository interface {
	FindByFingerprint(ctx context.Context, fingerprint string) (*entity.ApiKey, error)
	Insert(ctx context.Context, key *entity.ApiKey) error
	Touch(ctx context.Context, id string, usedAt time.Time) error
}

// IssuerRepository and CustomerRepository back the party lookups invoice
// intake needs before a CUFE can be computed.
type IssuerRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Issuer, error)
	GetByTaxID(ctx context.Context, taxID string) (*entity.Issuer, error)
}

type CustomerRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Customer, error)
	GetByTaxID(ctx context.Context, idType entity.IdentificationType, taxID string) (*entity.Customer, error)
}

// EnvironmentRepository resolves the habilitación/producción selector to
// its SOAP endpoint and production flag.
type EnvironmentRepository interface {
	GetByName(ctx context.Context, name entity.EnvironmentName) (*entity.Environment, error)
}
