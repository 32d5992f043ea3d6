package rabbitmq

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/baechuer/reliable-command-engine/internal/logx"
	"github.com/baechuer/reliable-command-engine/internal/model"
	"github.com/baechuer/reliable-command-engine/internal/outbox"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Executor is the subset of *executor.Executor the consumer needs.
type Executor interface {
	Process(ctx context.Context, env model.Envelope) error
}

// CommandConsumer drains one queue per registered handler name and feeds
// each delivery to the Executor, nacking with requeue on any error it
// returns (retryable-business, transient, or a store failure) and acking
// once Process returns nil (success or a permanently-parked, "swallowed"
// failure). Grounded on
// join-service/internal/infrastructure/rabbitmq/consumer.go's Start/Consume
// loop, generalized from one fixed queue into one queue per command name.
type CommandConsumer struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	naming   outbox.Naming
	executor Executor
}

// DialCommandConsumer connects to RabbitMQ and opens a channel with a
// modest prefetch, matching join-service's Qos(10, 0, false).
func DialCommandConsumer(url string, naming outbox.Naming, executor Executor) (*CommandConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Qos(10, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &CommandConsumer{conn: conn, ch: ch, naming: naming, executor: executor}, nil
}

// Close tears down the channel and connection.
func (c *CommandConsumer) Close() error {
	chErr := c.ch.Close()
	connErr := c.conn.Close()
	if chErr != nil {
		return chErr
	}
	return connErr
}

// StartAll declares and consumes the command queue for each name, one
// background goroutine per queue.
func (c *CommandConsumer) StartAll(ctx context.Context, names []string) error {
	for _, name := range names {
		queue := c.naming.CommandQueueName(name)
		if _, err := c.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return err
		}
		deliveries, err := c.ch.Consume(queue, "command-consumer:"+name, false, false, false, false, nil)
		if err != nil {
			return err
		}
		go c.loop(ctx, queue, deliveries)
	}
	return nil
}

func (c *CommandConsumer) loop(ctx context.Context, queue string, deliveries <-chan amqp.Delivery) {
	logx.Logger.Info().Str("queue", queue).Msg("command consumer started")
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			if err := c.executor.Process(ctx, envelopeFromDelivery(d)); err != nil {
				logx.Logger.Warn().Err(err).Str("queue", queue).Msg("command processing failed; requeueing")
				_ = d.Nack(false, true)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func envelopeFromDelivery(d amqp.Delivery) model.Envelope {
	headers := model.Headers{}
	for k, v := range d.Headers {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}

	messageID := strings.TrimSpace(d.MessageId)
	if messageID == "" {
		h := sha256.Sum256(append([]byte(d.RoutingKey+"\n"), d.Body...))
		messageID = "hash:" + hex.EncodeToString(h[:])
	}

	commandID, _ := uuid.Parse(headers["commandId"])

	return model.Envelope{
		MessageID:     messageID,
		Name:          headers["commandName"],
		CommandID:     commandID,
		CorrelationID: headers["correlationId"],
		Key:           headers["commandId"],
		Headers:       headers,
		Payload:       d.Body,
	}
}
