package postgres

import (
	"context"
	"strings"
)

// InboxStore owns the inbox table: the idempotency fence on the consume
// path. Grounded directly on
// join-service/internal/infrastructure/postgres/processed_messages.go.
type InboxStore struct{}

// NewInboxStore constructs an InboxStore.
func NewInboxStore() *InboxStore { return &InboxStore{} }

// MarkIfAbsent attempts to insert (messageID, handler). ok=true means this
// is the first time handler has seen messageID; ok=false means the pair
// already existed (duplicate delivery) and nothing was written.
func (s *InboxStore) MarkIfAbsent(ctx context.Context, db DB, messageID, handler string) (ok bool, err error) {
	messageID = strings.TrimSpace(messageID)
	handler = strings.TrimSpace(handler)
	if handler == "" {
		handler = "unknown"
	}

	tag, err := db.Exec(ctx, `
		INSERT INTO inbox (message_id, handler, processed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT DO NOTHING
	`, messageID, handler)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
