// Package rabbitmq implements relay.CommandQueue over a single AMQP 0-9-1
// channel with publisher confirms, grounded on
// email-service/internal/infrastructure/messaging/rabbitmq/retry_publisher.go's
// Confirm/NotifyPublish/NotifyReturn wait loop.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/baechuer/reliable-command-engine/internal/model"
	amqp "github.com/rabbitmq/amqp091-go"
)

const confirmWait = 2 * time.Second

// CommandQueue publishes point-to-point command and reply messages to
// per-queue AMQP destinations, satisfying relay.CommandQueue.
type CommandQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	confirmCh <-chan amqp.Confirmation
	returnCh  <-chan amqp.Return
}

// Dial connects to RabbitMQ and opens a confirm-mode channel.
func Dial(url string) (*CommandQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq confirm mode: %w", err)
	}

	q := &CommandQueue{conn: conn, ch: ch}
	q.confirmCh = ch.NotifyPublish(make(chan amqp.Confirmation, 32))
	q.returnCh = ch.NotifyReturn(make(chan amqp.Return, 32))
	return q, nil
}

// Close tears down the channel and connection.
func (q *CommandQueue) Close() error {
	chErr := q.ch.Close()
	connErr := q.conn.Close()
	if chErr != nil {
		return chErr
	}
	return connErr
}

// Send publishes body to queue, declaring it durable and idempotent if
// missing. Headers carrying "correlationId" and "replyTo" (set by
// internal/outbox's factory) map onto the AMQP envelope's CorrelationId and
// ReplyTo fields so a downstream consumer can route its own reply.
func (q *CommandQueue) Send(ctx context.Context, queue string, body []byte, headers model.Headers) error {
	if _, err := q.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq declare queue %q: %w", queue, err)
	}

	table := amqp.Table{}
	for k, v := range headers {
		table[k] = v
	}

	pub := amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now(),
		Headers:       table,
		CorrelationId: headers["correlationId"],
		ReplyTo:       headers["replyTo"],
	}

	if err := q.ch.PublishWithContext(ctx, "", queue, true, false, pub); err != nil {
		return fmt.Errorf("rabbitmq publish to %q: %w", queue, err)
	}
	return q.waitAckOrReturn(ctx, queue)
}

func (q *CommandQueue) waitAckOrReturn(ctx context.Context, queue string) error {
	timer := time.NewTimer(confirmWait)
	defer timer.Stop()

	select {
	case r := <-q.returnCh:
		return fmt.Errorf("rabbitmq publish returned: reply=%d text=%q queue=%q", r.ReplyCode, r.ReplyText, queue)
	case c := <-q.confirmCh:
		if !c.Ack {
			return fmt.Errorf("rabbitmq publish nacked by broker (queue=%q)", queue)
		}
		return nil
	case <-timer.C:
		return errors.New("rabbitmq publish wait timeout (no confirm/return)")
	case <-ctx.Done():
		return ctx.Err()
	}
}
