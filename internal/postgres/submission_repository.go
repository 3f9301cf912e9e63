package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tinto-dian/issuer/internal/domain/entity"
	"github.com/tinto-dian/issuer/internal/domain/repository"
)

var _ repository.SubmissionRepository = (*SubmissionRepo)(nil)

// SubmissionRepo implements repository.SubmissionRepository, grounded on
// the teacher's invoice status-update pattern but split into its own
// table since one invoice can accumulate several submission attempts
// (§3 Submission, §4.9).
type SubmissionRepo struct {
	q Querier
}

func NewSubmissionRepository(q Querier) *SubmissionRepo {
	return &SubmissionRepo{q: q}
}

func (r *SubmissionRepo) Insert(ctx context.Context, sub *entity.Submission) error {
	query := `
		INSERT INTO submissions (
			id, invoice_id, environment_id, track_id, status,
			encrypted_request_zip_blob, encrypted_response_blob,
			error_code, error_message, submitted_at, processed_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.q.Exec(ctx, query,
		sub.ID, sub.InvoiceID, sub.EnvironmentID, nullIfEmpty(sub.TrackID), string(sub.Status),
		nullIfEmpty(sub.EncryptedRequestZipBlob), nullIfEmpty(sub.EncryptedResponseBlob),
		nullIfEmpty(sub.ErrorCode), nullIfEmpty(sub.ErrorMessage),
		sub.SubmittedAt, sub.ProcessedAt, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert submission: %w", err)
	}
	return nil
}

func (r *SubmissionRepo) LatestNonTerminal(ctx context.Context, invoiceID string) (*entity.Submission, error) {
	const query = `
		SELECT id, invoice_id, environment_id, COALESCE(track_id, ''), status,
		       COALESCE(encrypted_request_zip_blob, ''), COALESCE(encrypted_response_blob, ''),
		       COALESCE(error_code, ''), COALESCE(error_message, ''),
		       submitted_at, processed_at, created_at, updated_at
		FROM submissions
		WHERE invoice_id = $1 AND status NOT IN ('ACCEPTED', 'REJECTED', 'ERROR')
		ORDER BY created_at DESC
		LIMIT 1`
	sub, err := scanSubmission(r.q.QueryRow(ctx, query, invoiceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: latest non-terminal submission: %w", err)
	}
	return sub, nil
}

func (r *SubmissionRepo) GetByID(ctx context.Context, id string) (*entity.Submission, error) {
	const query = `
		SELECT id, invoice_id, environment_id, COALESCE(track_id, ''), status,
		       COALESCE(encrypted_request_zip_blob, ''), COALESCE(encrypted_response_blob, ''),
		       COALESCE(error_code, ''), COALESCE(error_message, ''),
		       submitted_at, processed_at, created_at, updated_at
		FROM submissions WHERE id = $1`
	sub, err := scanSubmission(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get submission: %w", err)
	}
	return sub, nil
}

// CompareAndSetStatus is the optimistic CAS backing P8: the UPDATE only
// takes effect if the row's status still matches expectedStatus, so a
// concurrent poller that already advanced the row loses silently instead
// of clobbering a newer state.
func (r *SubmissionRepo) CompareAndSetStatus(ctx context.Context, sub *entity.Submission, expectedStatus entity.SubmissionStatus) (bool, error) {
	query := `
		UPDATE submissions SET
			track_id = COALESCE($3, track_id),
			status = $4,
			encrypted_request_zip_blob = COALESCE($5, encrypted_request_zip_blob),
			encrypted_response_blob = COALESCE($6, encrypted_response_blob),
			error_code = $7,
			error_message = $8,
			submitted_at = COALESCE($9, submitted_at),
			processed_at = COALESCE($10, processed_at),
			updated_at = $11
		WHERE id = $1 AND status = $2`
	tag, err := r.q.Exec(ctx, query,
		sub.ID, string(expectedStatus),
		nullIfEmpty(sub.TrackID), string(sub.Status),
		nullIfEmpty(sub.EncryptedRequestZipBlob), nullIfEmpty(sub.EncryptedResponseBlob),
		nullIfEmpty(sub.ErrorCode), nullIfEmpty(sub.ErrorMessage),
		sub.SubmittedAt, sub.ProcessedAt, sub.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: compare-and-set submission status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanSubmission(row row) (*entity.Submission, error) {
	var sub entity.Submission
	var status string
	if err := row.Scan(
		&sub.ID, &sub.InvoiceID, &sub.EnvironmentID, &sub.TrackID, &status,
		&sub.EncryptedRequestZipBlob, &sub.EncryptedResponseBlob,
		&sub.ErrorCode, &sub.ErrorMessage,
		&sub.SubmittedAt, &sub.ProcessedAt, &sub.CreatedAt, &sub.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sub.Status = entity.SubmissionStatus(status)
	return &sub, nil
}
