package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/baechuer/reliable-command-engine/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// OutboxStore owns all mutation of the outbox table. Grounded on
// join-service/internal/infrastructure/postgres/outbox_worker.go's claim
// query (FOR UPDATE SKIP LOCKED) and repository.go's inline outbox inserts,
// generalized into a standalone store with an explicit claim/publish/
// reschedule API instead of the inline-insert-plus-background-goroutine
// shape the teacher uses.
type OutboxStore struct{}

// NewOutboxStore constructs an OutboxStore.
func NewOutboxStore() *OutboxStore { return &OutboxStore{} }

// AddReturningId inserts row with status NEW and returns its assigned id.
func (s *OutboxStore) AddReturningId(ctx context.Context, db DB, row model.OutboxRow) (uuid.UUID, error) {
	id := uuid.New()
	headers, err := json.Marshal(row.Headers)
	if err != nil {
		return uuid.Nil, err
	}
	_, err = db.Exec(ctx, `
		INSERT INTO outbox (id, category, topic, key, type, payload, headers, status, attempts, next_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $9)
	`, id, row.Category, row.Topic, row.Key, row.Type, row.Payload, headers, model.OutboxNew, time.Now().UTC())
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// ClaimOne conditionally flips id from NEW to CLAIMED and returns the row.
// If the row isn't NEW (already claimed, published, or doesn't exist), it
// returns ok=false. Used by the fast path's single-row publish.
func (s *OutboxStore) ClaimOne(ctx context.Context, db DB, id uuid.UUID, claimer string) (row model.OutboxRow, ok bool, err error) {
	var headers []byte
	err = db.QueryRow(ctx, `
		UPDATE outbox
		SET status = $3, claimed_by = $2
		WHERE id = $1 AND status = $4
		RETURNING id, category, topic, key, type, payload, headers, status, attempts, next_at, claimed_by, created_at, published_at, COALESCE(last_error, '')
	`, id, claimer, model.OutboxClaimed, model.OutboxNew).Scan(
		&row.ID, &row.Category, &row.Topic, &row.Key, &row.Type, &row.Payload, &headers,
		&row.Status, &row.Attempts, &row.NextAt, &row.ClaimedBy, &row.CreatedAt, &row.PublishedAt, &row.LastError,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.OutboxRow{}, false, nil
	}
	if err != nil {
		return model.OutboxRow{}, false, err
	}
	_ = json.Unmarshal(headers, &row.Headers)
	return row, true, nil
}

// Claim atomically selects up to max eligible NEW rows (next_at <= now, or
// null), in created_at order, skipping rows another worker already holds,
// flips them to CLAIMED stamped with claimer, and returns them. This is the
// batch sweep primitive; FOR UPDATE SKIP LOCKED is what makes concurrent
// claims from distinct workers disjoint.
func (s *OutboxStore) Claim(ctx context.Context, db DB, max int, claimer string) ([]model.OutboxRow, error) {
	rows, err := db.Query(ctx, `
		WITH claimed AS (
			SELECT id FROM outbox
			WHERE status = $1 AND (next_at IS NULL OR next_at <= NOW())
			ORDER BY created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox o
		SET status = $3, claimed_by = $4
		FROM claimed
		WHERE o.id = claimed.id
		RETURNING o.id, o.category, o.topic, o.key, o.type, o.payload, o.headers, o.status,
		          o.attempts, o.next_at, o.claimed_by, o.created_at, o.published_at, COALESCE(o.last_error, '')
	`, model.OutboxNew, max, model.OutboxClaimed, claimer)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.OutboxRow
	for rows.Next() {
		var row model.OutboxRow
		var headers []byte
		if err := rows.Scan(&row.ID, &row.Category, &row.Topic, &row.Key, &row.Type, &row.Payload, &headers,
			&row.Status, &row.Attempts, &row.NextAt, &row.ClaimedBy, &row.CreatedAt, &row.PublishedAt, &row.LastError); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(headers, &row.Headers)
		out = append(out, row)
	}
	return out, rows.Err()
}

// MarkPublished transitions a claimed (or still-NEW, see spec.md §7 for the
// fast-path/sweep race) row to PUBLISHED.
func (s *OutboxStore) MarkPublished(ctx context.Context, db DB, id uuid.UUID) error {
	_, err := db.Exec(ctx, `
		UPDATE outbox SET status = $2, published_at = $3 WHERE id = $1 AND status != $2
	`, id, model.OutboxPublished, time.Now().UTC())
	return err
}

// Reschedule transitions CLAIMED back to NEW with an exponential backoff
// delay, incrementing attempts and recording the publish error.
func (s *OutboxStore) Reschedule(ctx context.Context, db DB, id uuid.UUID, backoff time.Duration, errMsg string) error {
	nextAt := time.Now().UTC().Add(backoff)
	_, err := db.Exec(ctx, `
		UPDATE outbox
		SET status = $2, attempts = attempts + 1, next_at = $3, last_error = $4
		WHERE id = $1
	`, id, model.OutboxNew, nextAt, errMsg)
	return err
}
