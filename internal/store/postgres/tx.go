// Package postgres implements the engine's four stores (CommandStore,
// InboxStore, OutboxStore, DlqStore) against pgx/pgxpool, the way
// join-service/internal/infrastructure/postgres implements its single
// Repository: one struct per concern, SQL inlined per operation. The stores
// hold no connection of their own; every method takes its DB handle (a pool
// or an ambient transaction) as an argument.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the minimal pgx surface every store operation needs. *pgxpool.Pool,
// pgx.Tx and *Tx all satisfy it, so a store method takes a DB and runs
// inside whatever ambient transaction the caller is already holding open
// (spec.md §4.1: "all operations join the ambient transaction when one is
// active"); call it with a pool directly to get the single-statement
// fallback.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Tx is the ambient-transaction handle threaded explicitly through the
// Command Bus and Executor call chains. It is the "transaction
// synchronization seam" spec.md §9 asks for: RegisterAfterCommit queues a
// callback that runs only once Commit has returned without error, and runs
// strictly after the transaction has ended — never inside it, never on a
// hidden thread-local.
type Tx struct {
	pgx.Tx
	afterCommit []func()
}

// RegisterAfterCommit queues fn to run after this transaction commits. If
// the transaction rolls back, fn never runs.
func (t *Tx) RegisterAfterCommit(fn func()) {
	t.afterCommit = append(t.afterCommit, fn)
}

// Begin opens a new ambient transaction against pool.
func Begin(ctx context.Context, pool *pgxpool.Pool) (*Tx, error) {
	pgxTx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: pgxTx}, nil
}

// Commit commits the underlying transaction and, only on success, runs the
// queued after-commit callbacks in registration order.
func (t *Tx) Commit(ctx context.Context) error {
	if err := t.Tx.Commit(ctx); err != nil {
		return err
	}
	for _, fn := range t.afterCommit {
		fn()
	}
	return nil
}

// WithTx runs fn inside a fresh transaction on pool, committing on success
// (firing after-commit hooks) and rolling back on error or panic. This is
// the unit-of-work helper used by the Command Bus and Executor; both of
// their public operations are "one transaction, several store calls, arm
// the fast path, commit".
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx *Tx) error) error {
	tx, err := Begin(ctx, pool)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
