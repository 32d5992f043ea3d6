package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/baechuer/reliable-command-engine/internal/enginerr"
	"github.com/baechuer/reliable-command-engine/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// CommandStore owns all mutation of the command table.
type CommandStore struct{}

// NewCommandStore constructs a CommandStore. It carries no state of its own
// (unlike join-service's Repository) because every method takes its DB
// handle explicitly, so the ambient transaction is always the caller's.
func NewCommandStore() *CommandStore { return &CommandStore{} }

// SavePending inserts a new PENDING command row. It fails with
// enginerr.ErrDuplicateIdempotency or enginerr.ErrDuplicateBusiness if the
// corresponding unique constraint fires.
func (s *CommandStore) SavePending(ctx context.Context, db DB, name, idempotencyKey, businessKey string, payload, replyJSON json.RawMessage) (uuid.UUID, error) {
	id := uuid.New()
	now := time.Now().UTC()

	_, err := db.Exec(ctx, `
		INSERT INTO command (id, name, business_key, payload, idempotency_key, status, retries, reply, requested_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $8)
	`, id, name, businessKey, payload, idempotencyKey, model.CommandPending, replyJSON, now)
	if err != nil {
		if isUniqueViolation(err, "command_idempotency_key_key", "idempotency_key") {
			return uuid.Nil, enginerr.ErrDuplicateIdempotency
		}
		if isUniqueViolation(err, "command_name_business_key_key", "business_key") {
			return uuid.Nil, enginerr.ErrDuplicateBusiness
		}
		return uuid.Nil, err
	}
	return id, nil
}

// Find performs a point read. The bool return reports whether the row
// exists (Option<record> per spec.md §4.1).
func (s *CommandStore) Find(ctx context.Context, db DB, id uuid.UUID) (model.Command, bool, error) {
	var c model.Command
	var lease *time.Time
	var lastErr *string
	err := db.QueryRow(ctx, `
		SELECT id, name, business_key, payload, idempotency_key, status, retries,
		       processing_lease_until, last_error, reply, requested_at, updated_at
		FROM command WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.BusinessKey, &c.Payload, &c.IdempotencyKey, &c.Status, &c.Retries,
		&lease, &lastErr, &c.Reply, &c.RequestedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Command{}, false, nil
	}
	if err != nil {
		return model.Command{}, false, err
	}
	c.ProcessingLeaseUntil = lease
	if lastErr != nil {
		c.LastError = *lastErr
	}
	return c, true, nil
}

// ExistsByIdempotencyKey reports whether a command with this idempotency
// key has already been accepted.
func (s *CommandStore) ExistsByIdempotencyKey(ctx context.Context, db DB, key string) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM command WHERE idempotency_key = $1)`, key).Scan(&exists)
	return exists, err
}

// MarkRunning transitions PENDING/RUNNING -> RUNNING, stamping the
// processing lease.
func (s *CommandStore) MarkRunning(ctx context.Context, db DB, id uuid.UUID, leaseUntil time.Time) error {
	_, err := db.Exec(ctx, `
		UPDATE command SET status = $2, processing_lease_until = $3, updated_at = $4
		WHERE id = $1
	`, id, model.CommandRunning, leaseUntil, time.Now().UTC())
	return err
}

// MarkSucceeded transitions RUNNING -> SUCCEEDED.
func (s *CommandStore) MarkSucceeded(ctx context.Context, db DB, id uuid.UUID) error {
	_, err := db.Exec(ctx, `
		UPDATE command SET status = $2, updated_at = $3 WHERE id = $1
	`, id, model.CommandSucceeded, time.Now().UTC())
	return err
}

// MarkFailed transitions RUNNING -> FAILED, recording the permanent error.
func (s *CommandStore) MarkFailed(ctx context.Context, db DB, id uuid.UUID, errMsg string) error {
	_, err := db.Exec(ctx, `
		UPDATE command SET status = $2, last_error = $3, updated_at = $4 WHERE id = $1
	`, id, model.CommandFailed, errMsg, time.Now().UTC())
	return err
}

// MarkTimedOut transitions RUNNING -> TIMED_OUT (used by the out-of-core
// lease recovery task spec.md §5 reserves the schema for).
func (s *CommandStore) MarkTimedOut(ctx context.Context, db DB, id uuid.UUID, reason string) error {
	_, err := db.Exec(ctx, `
		UPDATE command SET status = $2, last_error = $3, updated_at = $4 WHERE id = $1
	`, id, model.CommandTimedOut, reason, time.Now().UTC())
	return err
}

// BumpRetry increments retries and records the transient/retryable-business
// error without changing status. The Executor calls it against the pool
// after the attempt's transaction has rolled back, so the increment is not
// undone by that rollback.
func (s *CommandStore) BumpRetry(ctx context.Context, db DB, id uuid.UUID, errMsg string) error {
	_, err := db.Exec(ctx, `
		UPDATE command SET retries = retries + 1, last_error = $2, updated_at = $3 WHERE id = $1
	`, id, errMsg, time.Now().UTC())
	return err
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (23505) on the named constraint, falling back to a substring match on the
// column name for drivers/mocks that don't populate ConstraintName.
func isUniqueViolation(err error, constraint, columnHint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if pgErr.ConstraintName == constraint {
			return true
		}
		return strings.Contains(pgErr.ConstraintName, columnHint)
	}
	return false
}
