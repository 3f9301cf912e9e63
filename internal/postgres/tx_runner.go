package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRunner runs a callback with repository adapters bound to a single
// PostgreSQL transaction, grounded on the teacher's TxRunner (Run/
// RunBilling) but generalized to the invoice/submission pair this domain
// needs to write together — e.g. an invoice header-plus-tax-lines rewrite
// that must not be observed half-applied (§4.10).
type TxRunner struct {
	pool *pgxpool.Pool
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// TxRepos bundles the repository adapters handed to a TxRunner.Run
// callback, all bound to the same in-flight transaction.
type TxRepos struct {
	Invoices    *InvoiceRepo
	Submissions *SubmissionRepo
}

// Run begins a transaction, invokes fn with repos bound to it, and commits
// only if fn returns nil; any error rolls back.
func (r *TxRunner) Run(ctx context.Context, fn func(TxRepos) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	repos := TxRepos{
		Invoices:    NewInvoiceRepository(tx),
		Submissions: NewSubmissionRepository(tx),
	}
	if err := fn(repos); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit transaction: %w", err)
	}
	return nil
}
