//go:build integration
// +build integration

// Package internal_test exercises the full command pipeline end to end
// against a real Postgres instance, the way
// join-service/internal/infrastructure/postgres/repository_test.go drives
// its join flow against TEST_DB_DSN. These scenarios correspond one to one
// with the testable end-to-end properties: happy path, permanent failure,
// transient-then-success, duplicate idempotency key, crash-before-fast-path
// recovery via sweep, and a flaky-broker backoff/recovery cycle.
package internal_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/baechuer/reliable-command-engine/internal/commandbus"
	"github.com/baechuer/reliable-command-engine/internal/executor"
	"github.com/baechuer/reliable-command-engine/internal/handler"
	"github.com/baechuer/reliable-command-engine/internal/model"
	"github.com/baechuer/reliable-command-engine/internal/outbox"
	"github.com/baechuer/reliable-command-engine/internal/relay"
	"github.com/baechuer/reliable-command-engine/internal/store/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// fakeCommandQueue and fakeEventPublisher record every send/publish call
// in memory so assertions don't need a real broker; a toggle lets tests
// simulate a broker outage for S6.
type fakeCommandQueue struct {
	down bool
	sent []string
}

func (q *fakeCommandQueue) Send(ctx context.Context, queue string, body []byte, headers model.Headers) error {
	if q.down {
		return errNotAvailable
	}
	q.sent = append(q.sent, queue)
	return nil
}

type fakeEventPublisher struct {
	published []string
}

func (p *fakeEventPublisher) Publish(ctx context.Context, topic, key string, value []byte, headers model.Headers) error {
	p.published = append(p.published, topic)
	return nil
}

var errNotAvailable = &brokerDownError{}

type brokerDownError struct{}

func (e *brokerDownError) Error() string { return "broker unavailable" }

func setupEngine(t *testing.T) (*pgxpool.Pool, *commandbus.CommandBus, *executor.Executor, *fakeCommandQueue, *fakeEventPublisher) {
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("skipping integration test: TEST_DB_DSN not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)

	_, err = pool.Exec(context.Background(), "TRUNCATE TABLE command, inbox, outbox, command_dlq RESTART IDENTITY CASCADE")
	require.NoError(t, err)

	commands := postgres.NewCommandStore()
	inboxStore := postgres.NewInboxStore()
	outboxes := postgres.NewOutboxStore()
	dlq := postgres.NewDlqStore()
	naming := outbox.DefaultNaming()

	cq := &fakeCommandQueue{}
	ep := &fakeEventPublisher{}

	r := relay.New(pool, outboxes, cq, ep, relay.Config{BatchSize: 100, MaxBackoff: time.Second, Claimer: "test"})
	fastPath := relay.NewFastPath(r)

	bus := commandbus.New(pool, commands, outboxes, fastPath, naming)

	handlers := handler.Table{
		"CreateUser": handler.Func(func(ctx context.Context, name string, payload json.RawMessage) (json.RawMessage, error) {
			var req struct {
				Username      string `json:"username"`
				FailPermanent bool   `json:"failPermanent"`
				FailTransient bool   `json:"failTransient"`
			}
			_ = json.Unmarshal(payload, &req)
			if req.FailPermanent {
				return nil, handler.NewPermanent(&brokerDownError{})
			}
			if req.FailTransient {
				return nil, handler.NewTransient(&brokerDownError{})
			}
			return json.Marshal(map[string]string{"username": req.Username})
		}),
	}
	exec := executor.New(pool, commands, inboxStore, outboxes, dlq, fastPath, naming, handlers, 30*time.Second)

	return pool, bus, exec, cq, ep
}

// S1 — happy path.
func TestS1_HappyPath(t *testing.T) {
	pool, bus, exec, cq, ep := setupEngine(t)
	ctx := context.Background()

	commandID, err := bus.Accept(ctx, "CreateUser", "k1", "alice", json.RawMessage(`{"username":"alice"}`), model.ReplyMeta{})
	require.NoError(t, err)

	env := model.Envelope{
		MessageID: "msg-1",
		Name:      "CreateUser",
		CommandID: commandID,
		Headers:   model.Headers{},
		Payload:   json.RawMessage(`{"username":"alice"}`),
	}
	require.NoError(t, exec.Process(ctx, env))

	var status string
	require.NoError(t, pool.QueryRow(ctx, "SELECT status FROM command WHERE id = $1", commandID).Scan(&status))
	require.Equal(t, "SUCCEEDED", status)

	// The command row and the reply row both go through the CommandQueue.
	require.Len(t, cq.sent, 2)
	require.Len(t, ep.published, 1)

	var dlqCount int
	require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM command_dlq WHERE command_id = $1", commandID).Scan(&dlqCount))
	require.Zero(t, dlqCount)
}

// S2 — permanent failure parks the command to the DLQ and commits normally.
func TestS2_PermanentFailure(t *testing.T) {
	pool, bus, exec, _, _ := setupEngine(t)
	ctx := context.Background()

	commandID, err := bus.Accept(ctx, "CreateUser", "k2", "bob", json.RawMessage(`{"failPermanent":true}`), model.ReplyMeta{})
	require.NoError(t, err)

	env := model.Envelope{
		MessageID: "msg-2",
		Name:      "CreateUser",
		CommandID: commandID,
		Headers:   model.Headers{},
		Payload:   json.RawMessage(`{"failPermanent":true}`),
	}
	require.NoError(t, exec.Process(ctx, env))

	var status, lastError string
	require.NoError(t, pool.QueryRow(ctx, "SELECT status, last_error FROM command WHERE id = $1", commandID).Scan(&status, &lastError))
	require.Equal(t, "FAILED", status)

	var dlqCount int
	require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM command_dlq WHERE command_id = $1", commandID).Scan(&dlqCount))
	require.Equal(t, 1, dlqCount)
}

// S3 — transient failure twice then a good redelivery succeeds.
func TestS3_TransientThenSuccess(t *testing.T) {
	pool, bus, exec, _, _ := setupEngine(t)
	ctx := context.Background()

	commandID, err := bus.Accept(ctx, "CreateUser", "k3", "carol", json.RawMessage(`{"failTransient":true}`), model.ReplyMeta{})
	require.NoError(t, err)

	failingEnv := model.Envelope{
		MessageID: "msg-3",
		Name:      "CreateUser",
		CommandID: commandID,
		Headers:   model.Headers{},
		Payload:   json.RawMessage(`{"failTransient":true}`),
	}
	require.Error(t, exec.Process(ctx, failingEnv))
	require.Error(t, exec.Process(ctx, failingEnv))

	goodEnv := failingEnv
	goodEnv.Payload = json.RawMessage(`{"username":"carol"}`)
	require.NoError(t, exec.Process(ctx, goodEnv))

	var status string
	var retries int
	require.NoError(t, pool.QueryRow(ctx, "SELECT status, retries FROM command WHERE id = $1", commandID).Scan(&status, &retries))
	require.Equal(t, "SUCCEEDED", status)
	require.GreaterOrEqual(t, retries, 2)
}

// S4 — duplicate idempotency key: exactly one command row, one success.
func TestS4_DuplicateIdempotencyKey(t *testing.T) {
	pool, bus, _, _, _ := setupEngine(t)
	ctx := context.Background()

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := bus.Accept(ctx, "CreateUser", "k4", "dave", json.RawMessage(`{"username":"dave"}`), model.ReplyMeta{})
			errs <- err
		}()
	}
	err1, err2 := <-errs, <-errs

	require.True(t, (err1 == nil) != (err2 == nil), "exactly one of the two concurrent accepts must fail")

	var count int
	require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM command WHERE idempotency_key = $1", "k4").Scan(&count))
	require.Equal(t, 1, count)
}

// S5 — crash before fast path: the sweep claims and publishes the row the
// fast path never got to, simulated here by skipping PublishNow entirely
// and calling Sweep directly.
func TestS5_SweepRecoversUnpublishedRow(t *testing.T) {
	pool, _, _, cq, ep := setupEngine(t)
	ctx := context.Background()

	// A fresh relay/outbox pair sharing the same pool and fake transports,
	// standing in for "the fast path never fired": the command outbox row is
	// committed without arming the fast path.
	outboxes := postgres.NewOutboxStore()
	commandID := uuid.New()
	row := outbox.DefaultNaming().RowCommandRequested("CreateUser", commandID, "erin", json.RawMessage(`{"username":"erin"}`), model.ReplyMeta{})
	require.NoError(t, postgres.WithTx(ctx, pool, func(tx *postgres.Tx) error {
		_, err := outboxes.AddReturningId(ctx, tx, row)
		return err
	}))
	require.Empty(t, cq.sent)

	r := relay.New(pool, outboxes, cq, ep, relay.Config{BatchSize: 100, MaxBackoff: time.Second, Claimer: "sweeper"})
	n, err := r.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"APP.CMD.CreateUser.Q"}, cq.sent)

	var status string
	require.NoError(t, pool.QueryRow(ctx, "SELECT status FROM outbox WHERE key = $1 AND category = 'command'", commandID.String()).Scan(&status))
	require.Equal(t, "PUBLISHED", status)
}

// S6 — broker down then up: rows back off and eventually publish once the
// broker recovers, never publishing twice.
func TestS6_BrokerDownThenRecovers(t *testing.T) {
	pool, bus, _, cq, _ := setupEngine(t)
	ctx := context.Background()

	cq.down = true
	commandID, err := bus.Accept(ctx, "CreateUser", "k6", "frank", json.RawMessage(`{"username":"frank"}`), model.ReplyMeta{})
	require.NoError(t, err)

	// Fast path attempted and failed; the row should be back to NEW with a
	// future next_at and attempts >= 1.
	require.Eventually(t, func() bool {
		var attempts int
		var status string
		_ = pool.QueryRow(ctx, "SELECT status, attempts FROM outbox WHERE key = $1 AND category = 'command'", commandID.String()).Scan(&status, &attempts)
		return status == "NEW" && attempts >= 1
	}, time.Second, 10*time.Millisecond)

	cq.down = false

	outboxes := postgres.NewOutboxStore()
	r := relay.New(pool, outboxes, cq, &fakeEventPublisher{}, relay.Config{BatchSize: 100, MaxBackoff: time.Second, Claimer: "recovery"})

	require.Eventually(t, func() bool {
		n, err := r.Sweep(ctx)
		require.NoError(t, err)
		return n > 0 || len(cq.sent) >= 1
	}, 4*time.Second, 100*time.Millisecond)

	require.LessOrEqual(t, len(cq.sent), 1, "the command row must never publish more than once")
}
