// Package executor implements the consume path (spec.md §4.6): dedupe by
// message id, invoke the handler, write the reply/event outbox rows, arm
// fast paths, and branch on the handler's failure kind. Grounded on
// join-service/internal/infrastructure/rabbitmq/consumer.go's
// ProcessOnce-wrapped handleDelivery/applySnapshotTx, generalized from a
// single hardcoded snapshot-apply into a handler-table dispatch.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/baechuer/reliable-command-engine/internal/enginerr"
	"github.com/baechuer/reliable-command-engine/internal/handler"
	"github.com/baechuer/reliable-command-engine/internal/logx"
	"github.com/baechuer/reliable-command-engine/internal/model"
	"github.com/baechuer/reliable-command-engine/internal/outbox"
	"github.com/baechuer/reliable-command-engine/internal/relay"
	"github.com/baechuer/reliable-command-engine/internal/store/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
)

const handlerName = "CommandExecutor"

// Executor is the single public consume operation.
type Executor struct {
	pool     *pgxpool.Pool
	commands *postgres.CommandStore
	inbox    *postgres.InboxStore
	outboxes *postgres.OutboxStore
	dlq      *postgres.DlqStore
	fastPath *relay.FastPath
	naming   outbox.Naming
	handlers handler.Table
	lease    time.Duration
}

// New constructs an Executor with its collaborators injected explicitly.
func New(pool *pgxpool.Pool, commands *postgres.CommandStore, inbox *postgres.InboxStore, outboxes *postgres.OutboxStore, dlq *postgres.DlqStore, fastPath *relay.FastPath, naming outbox.Naming, handlers handler.Table, lease time.Duration) *Executor {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &Executor{
		pool: pool, commands: commands, inbox: inbox, outboxes: outboxes, dlq: dlq,
		fastPath: fastPath, naming: naming, handlers: handlers, lease: lease,
	}
}

// Process runs the full consume path for one inbound delivery.
//
// Duplicate deliveries return nil silently (spec.md §7 DUPLICATE_DELIVERY).
// Permanent failures commit normally with the command parked in the DLQ
// (the "swallow" semantics spec.md §9 calls the intended behavior).
// Retryable-business and transient failures propagate the error so the
// caller's message layer rolls back and redelivers.
func (e *Executor) Process(ctx context.Context, env model.Envelope) error {
	h, ok := e.handlers[env.Name]
	if !ok {
		return enginerr.ErrNoHandler
	}

	var retryMsg string
	err := postgres.WithTx(ctx, e.pool, func(tx *postgres.Tx) error {
		first, err := e.inbox.MarkIfAbsent(ctx, tx, env.MessageID, handlerName)
		if err != nil {
			return err
		}
		if !first {
			// Duplicate delivery: the first delivery's outcome stands.
			return nil
		}

		leaseUntil := time.Now().UTC().Add(e.lease)
		if err := e.commands.MarkRunning(ctx, tx, env.CommandID, leaseUntil); err != nil {
			return err
		}

		result, invokeErr := h.Invoke(ctx, env.Name, env.Payload)

		var failure *handler.Failure
		if invokeErr != nil && errors.As(invokeErr, &failure) {
			switch failure.Kind {
			case handler.Permanent:
				return e.handlePermanent(ctx, tx, env, failure)
			case handler.RetryableBusiness, handler.Transient:
				// Propagate so the caller rolls back and redelivers; the retry
				// count is bumped once that rollback is done (below).
				retryMsg = failure.Error()
				return failure
			}
		}
		if invokeErr != nil {
			// Unclassified errors are treated as transient: redeliver rather
			// than silently succeeding or permanently parking unexamined state.
			retryMsg = invokeErr.Error()
			return invokeErr
		}

		return e.handleSuccess(ctx, tx, env, result)
	})

	if retryMsg != "" {
		// Bumped against the pool after WithTx has rolled back: the rollback
		// released tx's lock on the command row, and the retry count survives
		// because it is written outside the rolled-back transaction.
		if bumpErr := e.commands.BumpRetry(ctx, e.pool, env.CommandID, retryMsg); bumpErr != nil {
			logx.Logger.Error().Err(bumpErr).Str("command_id", env.CommandID.String()).Msg("bump retry failed")
		}
	}
	return err
}

func (e *Executor) handleSuccess(ctx context.Context, tx *postgres.Tx, env model.Envelope, result json.RawMessage) error {
	if err := e.commands.MarkSucceeded(ctx, tx, env.CommandID); err != nil {
		return err
	}

	replyRow := e.naming.RowReply(env, "CommandCompleted", result)
	replyID, err := e.outboxes.AddReturningId(ctx, tx, replyRow)
	if err != nil {
		return err
	}

	eventRow := outbox.RowEvent(e.naming.EventTopicFor(env.Name), env.Key, "CommandCompleted", result)
	eventID, err := e.outboxes.AddReturningId(ctx, tx, eventRow)
	if err != nil {
		return err
	}

	e.fastPath.Arm(tx, replyID)
	e.fastPath.Arm(tx, eventID)
	return nil
}

func (e *Executor) handlePermanent(ctx context.Context, tx *postgres.Tx, env model.Envelope, failure *handler.Failure) error {
	if err := e.commands.MarkFailed(ctx, tx, env.CommandID, failure.Error()); err != nil {
		return err
	}

	cmd, found, err := e.commands.Find(ctx, tx, env.CommandID)
	if err != nil {
		return err
	}
	businessKey := ""
	if found {
		businessKey = cmd.BusinessKey
	}

	if err := e.dlq.Park(ctx, tx, env.CommandID, env.Name, businessKey, env.Payload, model.CommandFailed, "Permanent", failure.Error(), cmd.Retries, "executor"); err != nil {
		return err
	}

	failurePayload, _ := json.Marshal(map[string]string{"error": failure.Error()})

	replyRow := e.naming.RowReply(env, "CommandFailed", failurePayload)
	replyID, err := e.outboxes.AddReturningId(ctx, tx, replyRow)
	if err != nil {
		return err
	}

	eventRow := outbox.RowEvent(e.naming.EventTopicFor(env.Name), env.Key, "CommandFailed", failurePayload)
	eventID, err := e.outboxes.AddReturningId(ctx, tx, eventRow)
	if err != nil {
		return err
	}

	e.fastPath.Arm(tx, replyID)
	e.fastPath.Arm(tx, eventID)

	// The transaction commits normally: the failure IS the recorded state.
	// Returning nil here (rather than the failure) is what makes the
	// surrounding WithTx commit instead of rolling back the DLQ away.
	logx.Logger.Warn().Str("command_id", env.CommandID.String()).Str("name", env.Name).Msg("command parked to DLQ")
	return nil
}
