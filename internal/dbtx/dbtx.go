// Package dbtx carries an ambient *sql.Tx through a context so that
// operations spanning multiple storage-backed packages (accounts, names,
// transactions) can share one commit boundary without those packages
// importing each other.
//
// Money operations (internal/money) open the transaction and stash it in
// ctx; each Postgres store picks it up via From and falls back to its
// own *sql.DB when no transaction is present, so the same store methods
// work standalone or as part of a larger atomic sequence.
package dbtx

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/kromer-go/kromer/internal/retry"
)

// Executor is satisfied by both *sql.DB and *sql.Tx.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// WithTx returns a context carrying tx, to be picked up by From(ctx, db).
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// FromContext returns the transaction stashed in ctx, if any.
func FromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}

// From returns the ambient transaction in ctx, or db if none is present.
func From(ctx context.Context, db *sql.DB) Executor {
	if tx, ok := FromContext(ctx); ok {
		return tx
	}
	return db
}

// Run executes fn within a new transaction on db, committing on success and
// rolling back on error or panic. If ctx already carries a transaction
// (nested call), fn runs within that transaction instead of opening a new
// one — this keeps money operations composable without double-commits.
//
// Two addresses can lock their rows in opposite order when two transfers
// cross (A->B and B->A land on the same pair concurrently), so Postgres
// occasionally reports a deadlock or serialization failure here; those are
// retried, everything else is treated as permanent.
func Run(ctx context.Context, db *sql.DB, fn func(ctx context.Context) error) error {
	if _, ok := FromContext(ctx); ok {
		return fn(ctx)
	}

	return retry.Do(ctx, 3, 20*time.Millisecond, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		defer tx.Rollback()

		if err := fn(WithTx(ctx, tx)); err != nil {
			if isRetryable(err) {
				return err
			}
			return retry.Permanent(err)
		}

		if err := tx.Commit(); err != nil {
			if isRetryable(err) {
				return err
			}
			return retry.Permanent(err)
		}
		return nil
	})
}

// isRetryable reports whether err is a transient Postgres condition worth
// retrying the whole transaction for: serialization_failure (40001) or
// deadlock_detected (40P01).
func isRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}
