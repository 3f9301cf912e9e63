package postgres

import (
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func secondsToDuration(s int64) time.Duration {
	return time.Duration(s) * time.Second
}

// isUniqueViolation reports whether err is a unique-constraint violation
// (23505), the signal InvoiceRepo.Upsert (numbering collision) and
// ApiKeyRepo.Insert (duplicate fingerprint) key their conflict handling on.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "23505")
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func emptyIfNil(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
