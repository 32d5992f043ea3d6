package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/baechuer/reliable-command-engine/internal/model"
	"github.com/google/uuid"
)

// DlqStore owns the command_dlq table: insert-only parking for
// permanently-failed commands.
type DlqStore struct{}

// NewDlqStore constructs a DlqStore.
func NewDlqStore() *DlqStore { return &DlqStore{} }

// Park inserts a dead-letter entry for commandID. Must be called in the
// same transaction that writes the command's FAILED status (spec.md §3
// invariant: presence of a DLQ entry implies the command is FAILED, written
// at the same commit boundary).
func (s *DlqStore) Park(ctx context.Context, db DB, commandID uuid.UUID, name, businessKey string, payload json.RawMessage, failedStatus model.CommandStatus, errorClass, errorMessage string, attempts int, parkedBy string) error {
	_, err := db.Exec(ctx, `
		INSERT INTO command_dlq (id, command_id, command_name, business_key, payload, failed_status, error_class, error_message, attempts, parked_by, parked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, uuid.New(), commandID, name, businessKey, payload, failedStatus, errorClass, errorMessage, attempts, parkedBy, time.Now().UTC())
	return err
}
