// Package commandbus implements the ingest path (spec.md §4.5): enforce
// idempotency, write the command row, write the outbound command outbox
// row, arm the fast path — all in one transaction. Grounded on the
// idempotency-key-then-insert probe in
// join-service/internal/infrastructure/postgres/repository.go's JoinEvent.
package commandbus

import (
	"context"
	"encoding/json"

	"github.com/baechuer/reliable-command-engine/internal/enginerr"
	"github.com/baechuer/reliable-command-engine/internal/model"
	"github.com/baechuer/reliable-command-engine/internal/outbox"
	"github.com/baechuer/reliable-command-engine/internal/relay"
	"github.com/baechuer/reliable-command-engine/internal/store/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CommandBus is the single public ingest operation.
type CommandBus struct {
	pool     *pgxpool.Pool
	commands *postgres.CommandStore
	outboxes *postgres.OutboxStore
	fastPath *relay.FastPath
	naming   outbox.Naming
}

// New constructs a CommandBus with its collaborators injected explicitly
// (spec.md §9: "no DI container").
func New(pool *pgxpool.Pool, commands *postgres.CommandStore, outboxes *postgres.OutboxStore, fastPath *relay.FastPath, naming outbox.Naming) *CommandBus {
	return &CommandBus{pool: pool, commands: commands, outboxes: outboxes, fastPath: fastPath, naming: naming}
}

// Accept runs the four-step ingest transaction from spec.md §4.5 and
// returns the new command id. The fast path only fires once this
// transaction actually commits.
func (b *CommandBus) Accept(ctx context.Context, name, idempotencyKey, businessKey string, payload json.RawMessage, replyMeta model.ReplyMeta) (uuid.UUID, error) {
	var commandID uuid.UUID
	replyJSON, _ := json.Marshal(replyMeta)

	err := postgres.WithTx(ctx, b.pool, func(tx *postgres.Tx) error {
		exists, err := b.commands.ExistsByIdempotencyKey(ctx, tx, idempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return enginerr.ErrDuplicateIdempotency
		}

		id, err := b.commands.SavePending(ctx, tx, name, idempotencyKey, businessKey, payload, replyJSON)
		if err != nil {
			return err
		}
		commandID = id

		row := b.naming.RowCommandRequested(name, commandID, businessKey, payload, replyMeta)
		outboxID, err := b.outboxes.AddReturningId(ctx, tx, row)
		if err != nil {
			return err
		}

		b.fastPath.Arm(tx, outboxID)
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return commandID, nil
}
