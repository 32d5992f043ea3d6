// Package relay implements the dispatcher that drains the outbox: the
// fast-path single-row publish and the periodic batch sweep, both funneling
// through sendAndMark. Grounded on
// join-service/internal/infrastructure/postgres/outbox_worker.go
// (StartOutboxWorker / processOutboxBatch / failOutbox), generalized from a
// single hardcoded AMQP exchange into the two transports spec.md §4.3 and
// §6 require (CommandQueue for categories command/reply, EventPublisher for
// category event).
package relay

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/baechuer/reliable-command-engine/internal/logx"
	"github.com/baechuer/reliable-command-engine/internal/model"
	"github.com/baechuer/reliable-command-engine/internal/store/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CommandQueue is the point-to-point broker abstraction for categories
// "command" and "reply" (spec.md §6).
type CommandQueue interface {
	Send(ctx context.Context, queue string, body []byte, headers model.Headers) error
}

// EventPublisher is the broadcast abstraction for category "event"
// (spec.md §6). key is the routing key and must survive unchanged.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte, headers model.Headers) error
}

// Config bounds the Relay's batch size and backoff cap.
type Config struct {
	BatchSize  int
	MaxBackoff time.Duration
	Claimer    string
}

// Relay dispatches outbox rows to the correct transport and advances their
// status.
type Relay struct {
	pool     *pgxpool.Pool
	outbox   *postgres.OutboxStore
	commands CommandQueue
	events   EventPublisher
	cfg      Config
}

// New constructs a Relay.
func New(pool *pgxpool.Pool, outbox *postgres.OutboxStore, commands CommandQueue, events EventPublisher, cfg Config) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	if cfg.Claimer == "" {
		cfg.Claimer = "relay"
	}
	return &Relay{pool: pool, outbox: outbox, commands: commands, events: events, cfg: cfg}
}

// PublishNow is the fast path's best-effort single-row publish: claim id,
// and if this process wins the claim, dispatch it immediately.
func (r *Relay) PublishNow(ctx context.Context, id uuid.UUID) {
	row, ok, err := r.outbox.ClaimOne(ctx, r.pool, id, r.cfg.Claimer)
	if err != nil {
		logx.Logger.Warn().Err(err).Str("outbox_id", id.String()).Msg("fast path: claim failed")
		return
	}
	if !ok {
		// Already claimed/published by the sweep or another fast-path call.
		return
	}
	r.sendAndMark(ctx, row)
}

// Sweep claims up to BatchSize eligible rows and dispatches each. It is the
// crash-recovery and transient-failure backstop for the fast path.
func (r *Relay) Sweep(ctx context.Context) (int, error) {
	rows, err := r.outbox.Claim(ctx, r.pool, r.cfg.BatchSize, r.cfg.Claimer)
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		r.sendAndMark(ctx, row)
	}
	return len(rows), nil
}

// sendAndMark dispatches row by category and advances its status. It never
// leaks a transport error past this call: publish failures reschedule the
// row with exponential backoff instead.
func (r *Relay) sendAndMark(ctx context.Context, row model.OutboxRow) {
	headers := model.Headers{}
	for k, v := range row.Headers {
		headers[k] = v
	}
	if row.Type != "" {
		headers["type"] = row.Type
	}

	var err error
	switch row.Category {
	case model.CategoryCommand, model.CategoryReply:
		err = r.commands.Send(ctx, row.Topic, row.Payload, headers)
	case model.CategoryEvent:
		err = r.events.Publish(ctx, row.Topic, row.Key, row.Payload, headers)
	default:
		// Unknown category is a programmer error: the factory never emits
		// anything else, so this indicates a corrupted row.
		panic(fmt.Sprintf("relay: unknown outbox category %q for row %s", row.Category, row.ID))
	}

	if err != nil {
		backoff := ComputeBackoff(row.Attempts, r.cfg.MaxBackoff)
		if rescheduleErr := r.outbox.Reschedule(ctx, r.pool, row.ID, backoff, err.Error()); rescheduleErr != nil {
			logx.Logger.Error().Err(rescheduleErr).Str("outbox_id", row.ID.String()).Msg("reschedule after publish failure also failed")
		} else {
			logx.Logger.Warn().Err(err).Str("outbox_id", row.ID.String()).Dur("retry_in", backoff).Msg("publish failed; rescheduled")
		}
		return
	}

	if markErr := r.outbox.MarkPublished(ctx, r.pool, row.ID); markErr != nil {
		logx.Logger.Error().Err(markErr).Str("outbox_id", row.ID.String()).Msg("mark published failed")
	}
}

// ComputeBackoff implements spec.md §7's backoff law exactly:
// delay = min(maxBackoff, 2^max(1, attempts+1) * 1s).
func ComputeBackoff(attempts int, maxBackoff time.Duration) time.Duration {
	exp := attempts + 1
	if exp < 1 {
		exp = 1
	}
	d := time.Duration(math.Pow(2, float64(exp))) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
