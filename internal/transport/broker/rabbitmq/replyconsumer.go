package rabbitmq

import (
	"context"
	"encoding/json"

	"github.com/baechuer/reliable-command-engine/internal/logx"
	"github.com/baechuer/reliable-command-engine/internal/syncwait"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ReplyConsumer drains the engine's own reply queue and resolves the
// Response Registry slot for each correlation id, letting a blocked HTTP
// handler return synchronously when the reply arrives in time. Grounded on
// join-service/internal/infrastructure/rabbitmq/consumer.go's Start/Consume
// delivery loop, simplified since replies never need DB dedupe — resolving
// a registry slot is naturally idempotent (a second resolve is a no-op).
type ReplyConsumer struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	queue    string
	registry *syncwait.Registry
}

// DialReplyConsumer connects to RabbitMQ and declares the reply queue.
func DialReplyConsumer(url, queue string, registry *syncwait.Registry) (*ReplyConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &ReplyConsumer{conn: conn, ch: ch, queue: queue, registry: registry}, nil
}

// Close tears down the channel and connection.
func (c *ReplyConsumer) Close() error {
	chErr := c.ch.Close()
	connErr := c.conn.Close()
	if chErr != nil {
		return chErr
	}
	return connErr
}

// Start begins consuming replies in a background goroutine until ctx is
// canceled.
func (c *ReplyConsumer) Start(ctx context.Context) error {
	deliveries, err := c.ch.Consume(c.queue, "reply-consumer", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				c.handle(d)
				_ = d.Ack(false)
			}
		}
	}()

	logx.Logger.Info().Str("queue", c.queue).Msg("reply consumer started")
	return nil
}

func (c *ReplyConsumer) handle(d amqp.Delivery) {
	correlationID := d.CorrelationId
	if correlationID == "" {
		if v, ok := d.Headers["correlationId"].(string); ok {
			correlationID = v
		}
	}
	commandID, err := uuid.Parse(correlationID)
	if err != nil {
		logx.Logger.Warn().Str("correlation_id", correlationID).Msg("reply consumer: unparseable correlation id; dropping")
		return
	}

	msgType, _ := d.Headers["type"].(string)
	if msgType == "CommandFailed" {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(d.Body, &body)
		c.registry.Fail(commandID, body.Error)
		return
	}
	c.registry.Complete(commandID, json.RawMessage(d.Body))
}
