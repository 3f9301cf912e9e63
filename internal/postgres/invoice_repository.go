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

var _ repository.InvoiceRepository = (*InvoiceRepo)(nil)

// InvoiceRepo implements repository.InvoiceRepository over a Querier
// (pool or transaction), grounded on the teacher's InvoiceRepo.
type InvoiceRepo struct {
	q Querier
}

// NewInvoiceRepository builds the adapter. Pass a pool or a tx (Querier).
func NewInvoiceRepository(q Querier) *InvoiceRepo {
	return &InvoiceRepo{q: q}
}

// Upsert writes the invoice header and its tax lines, replacing the tax
// rows wholesale since the CUFE-bearing set is small and rewritten
// together every time the invoice advances (§4.9, §4.10).
func (r *InvoiceRepo) Upsert(ctx context.Context, inv *entity.Invoice) error {
	query := `
		INSERT INTO invoices (
			id, issuer_id, customer_id, environment_id, doc_type, prefix, number,
			issue_date, issue_time_seconds, due_date, currency,
			subtotal, tax_total, total, fingerprint, status,
			encrypted_ubl_blob, encrypted_signed_xml_blob,
			created_at, updated_at, creator_key_ref
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21
		)
		ON CONFLICT (id) DO UPDATE SET
			issuer_id = EXCLUDED.issuer_id,
			customer_id = EXCLUDED.customer_id,
			environment_id = EXCLUDED.environment_id,
			doc_type = EXCLUDED.doc_type,
			prefix = EXCLUDED.prefix,
			number = EXCLUDED.number,
			issue_date = EXCLUDED.issue_date,
			issue_time_seconds = EXCLUDED.issue_time_seconds,
			due_date = EXCLUDED.due_date,
			currency = EXCLUDED.currency,
			subtotal = EXCLUDED.subtotal,
			tax_total = EXCLUDED.tax_total,
			total = EXCLUDED.total,
			fingerprint = EXCLUDED.fingerprint,
			status = EXCLUDED.status,
			encrypted_ubl_blob = EXCLUDED.encrypted_ubl_blob,
			encrypted_signed_xml_blob = EXCLUDED.encrypted_signed_xml_blob,
			updated_at = EXCLUDED.updated_at`
	var dueDate any
	if inv.DueDate != nil {
		dueDate = *inv.DueDate
	}
	_, err := r.q.Exec(ctx, query,
		inv.ID, inv.IssuerID, inv.CustomerID, inv.EnvironmentID, string(inv.Type),
		nullIfEmpty(inv.Prefix), inv.Number, inv.IssueDate, int64(inv.IssueTime.Seconds()),
		dueDate, inv.Currency, inv.Subtotal, inv.TaxTotal, inv.Total,
		nullIfEmpty(inv.Fingerprint), string(inv.Status),
		nullIfEmpty(inv.EncryptedUBLBlob), nullIfEmpty(inv.EncryptedSignedXMLBlob),
		inv.CreatedAt, inv.UpdatedAt, nullIfEmpty(inv.CreatorKeyRef),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: invoice numbering collision: %w", err)
		}
		return fmt.Errorf("postgres: upsert invoice: %w", err)
	}
	return r.replaceTaxes(ctx, inv)
}

func (r *InvoiceRepo) replaceTaxes(ctx context.Context, inv *entity.Invoice) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM invoice_taxes WHERE invoice_id = $1`, inv.ID); err != nil {
		return fmt.Errorf("postgres: clear invoice taxes: %w", err)
	}
	for _, t := range inv.Taxes {
		_, err := r.q.Exec(ctx, `
			INSERT INTO invoice_taxes (invoice_id, kind, amount, taxable_base)
			VALUES ($1, $2, $3, $4)`,
			inv.ID, string(t.Kind), t.Amount, t.TaxableBase,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert invoice tax: %w", err)
		}
	}
	return nil
}

func (r *InvoiceRepo) GetByID(ctx context.Context, id string) (*entity.Invoice, error) {
	const query = `
		SELECT id, issuer_id, customer_id, environment_id, doc_type, prefix, number,
		       issue_date, issue_time_seconds, due_date, currency,
		       subtotal, tax_total, total,
		       COALESCE(fingerprint, ''), status,
		       COALESCE(encrypted_ubl_blob, ''), COALESCE(encrypted_signed_xml_blob, ''),
		       created_at, updated_at, COALESCE(creator_key_ref, '')
		FROM invoices WHERE id = $1`
	inv, err := r.scanInvoice(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get invoice: %w", err)
	}
	taxes, err := r.loadTaxes(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	inv.Taxes = taxes
	return inv, nil
}

func (r *InvoiceRepo) ListByIssuerTaxID(ctx context.Context, issuerTaxID string) ([]*entity.Invoice, error) {
	const query = `
		SELECT i.id, i.issuer_id, i.customer_id, i.environment_id, i.doc_type, i.prefix, i.number,
		       i.issue_date, i.issue_time_seconds, i.due_date, i.currency,
		       i.subtotal, i.tax_total, i.total,
		       COALESCE(i.fingerprint, ''), i.status,
		       COALESCE(i.encrypted_ubl_blob, ''), COALESCE(i.encrypted_signed_xml_blob, ''),
		       i.created_at, i.updated_at, COALESCE(i.creator_key_ref, '')
		FROM invoices i
		JOIN issuers iss ON iss.id = i.issuer_id
		WHERE iss.tax_id = $1
		ORDER BY i.created_at DESC`
	rows, err := r.q.Query(ctx, query, issuerTaxID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list invoices by issuer: %w", err)
	}
	defer rows.Close()

	var out []*entity.Invoice
	for rows.Next() {
		inv, err := r.scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan invoice row: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list invoices by issuer: %w", err)
	}
	for _, inv := range out {
		taxes, err := r.loadTaxes(ctx, inv.ID)
		if err != nil {
			return nil, err
		}
		inv.Taxes = taxes
	}
	return out, nil
}

// row is satisfied by both pgx.Row and pgx.Rows, letting scanInvoice back
// both GetByID and ListByIssuerTaxID.
type row interface {
	Scan(dest ...any) error
}

func (r *InvoiceRepo) scanInvoice(row row) (*entity.Invoice, error) {
	var inv entity.Invoice
	var prefix *string
	var dueDate *time.Time
	var docType, status string
	var issueTimeSeconds int64
	if err := row.Scan(
		&inv.ID, &inv.IssuerID, &inv.CustomerID, &inv.EnvironmentID, &docType,
		&prefix, &inv.Number, &inv.IssueDate, &issueTimeSeconds, &dueDate, &inv.Currency,
		&inv.Subtotal, &inv.TaxTotal, &inv.Total,
		&inv.Fingerprint, &status,
		&inv.EncryptedUBLBlob, &inv.EncryptedSignedXMLBlob,
		&inv.CreatedAt, &inv.UpdatedAt, &inv.CreatorKeyRef,
	); err != nil {
		return nil, err
	}
	inv.Type = entity.DocumentType(docType)
	inv.Status = entity.Status(status)
	inv.Prefix = emptyIfNil(prefix)
	inv.IssueTime = secondsToDuration(issueTimeSeconds)
	inv.DueDate = dueDate
	return &inv, nil
}

func (r *InvoiceRepo) loadTaxes(ctx context.Context, invoiceID string) ([]entity.InvoiceTax, error) {
	rows, err := r.q.Query(ctx, `
		SELECT kind, amount, taxable_base FROM invoice_taxes WHERE invoice_id = $1 ORDER BY kind`,
		invoiceID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: load invoice taxes: %w", err)
	}
	defer rows.Close()

	var taxes []entity.InvoiceTax
	for rows.Next() {
		var t entity.InvoiceTax
		var kind string
		if err := rows.Scan(&kind, &t.Amount, &t.TaxableBase); err != nil {
			return nil, fmt.Errorf("postgres: scan invoice tax: %w", err)
		}
		t.Kind = entity.TaxKind(kind)
		taxes = append(taxes, t)
	}
	return taxes, rows.Err()
}

func (r *InvoiceRepo) InsertLineItem(ctx context.Context, item *entity.LineItem) error {
	query := `
		INSERT INTO invoice_line_items (
			id, invoice_id, line_number, description, quantity, unit_price,
			line_total, tax_rate, tax_amount, product_code, unit_code
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.q.Exec(ctx, query,
		item.ID, item.InvoiceID, item.LineNumber, item.Description,
		item.Quantity, item.UnitPrice, item.LineTotal,
		item.TaxRate, item.TaxAmount, nullIfEmpty(item.ProductCode), item.UnitCode,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert line item: %w", err)
	}
	return nil
}

func (r *InvoiceRepo) ListLineItems(ctx context.Context, invoiceID string) ([]*entity.LineItem, error) {
	const query = `
		SELECT id, invoice_id, line_number, description, quantity, unit_price,
		       line_total, tax_rate, tax_amount, COALESCE(product_code, ''), unit_code
		FROM invoice_line_items WHERE invoice_id = $1 ORDER BY line_number`
	rows, err := r.q.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list line items: %w", err)
	}
	defer rows.Close()

	var out []*entity.LineItem
	for rows.Next() {
		var item entity.LineItem
		if err := rows.Scan(
			&item.ID, &item.InvoiceID, &item.LineNumber, &item.Description,
			&item.Quantity, &item.UnitPrice, &item.LineTotal,
			&item.TaxRate, &item.TaxAmount, &item.ProductCode, &item.UnitCode,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan line item: %w", err)
		}
		out = append(out, &item)
	}
	return out, rows.Err()
}

// NextNumber increments a per-(issuer,prefix) counter row in
// invoice_numbering with a single INSERT ... ON CONFLICT DO UPDATE ...
// RETURNING, so concurrent callers serialize on the same numbering lane
// (§4.10, §5 ordering). The counter does not read the invoices table:
// numbers stored on invoices without going through NextNumber are not
// taken into account.
func (r *InvoiceRepo) NextNumber(ctx context.Context, issuerID, prefix string) (int64, error) {
	var next int64
	query := `
		INSERT INTO invoice_numbering (issuer_id, prefix, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (issuer_id, prefix) DO UPDATE
			SET last_number = invoice_numbering.last_number + 1
		RETURNING last_number`
	err := r.q.QueryRow(ctx, query, issuerID, prefix).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("postgres: next invoice number: %w", err)
	}
	return next, nil
}

func (r *InvoiceRepo) ExistsByNumbering(ctx context.Context, issuerID, prefix string, number int64) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM invoices WHERE issuer_id = $1 AND COALESCE(prefix, '') = $2 AND number = $3
		)`, issuerID, prefix, number,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: exists by numbering: %w", err)
	}
	return exists, nil
}
