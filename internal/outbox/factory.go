// Package outbox holds the pure row-shaping functions for the three outbox
// categories. Lifted out of the inline row-construction blocks
// join-service/internal/infrastructure/postgres/repository.go builds ad hoc
// per call site (JoinEvent, CancelJoin, HandleEventCanceledTx) into a
// standalone, side-effect-free factory, per spec.md §4.2.
package outbox

import (
	"encoding/json"
	"strings"

	"github.com/baechuer/reliable-command-engine/internal/model"
	"github.com/google/uuid"
)

// Naming is the configurable naming convention spec.md §4.2 calls for:
// command queue = CommandPrefix + name + QueueSuffix, event topic =
// EventPrefix + name, default reply queue = ReplyQueue. Both the Command
// Bus and the Executor must use the same Naming so the broker-side topic
// strings agree on both ends of the fence.
type Naming struct {
	CommandPrefix string
	QueueSuffix   string
	ReplyQueue    string
	EventPrefix   string
}

// DefaultNaming matches spec.md §4.2's defaults.
func DefaultNaming() Naming {
	return Naming{
		CommandPrefix: "APP.CMD.",
		QueueSuffix:   ".Q",
		ReplyQueue:    "APP.CMD.REPLY.Q",
		EventPrefix:   "events.",
	}
}

// CommandQueueName derives the destination queue for an outbound command
// request, e.g. "APP.CMD.CreateUser.Q".
func (n Naming) CommandQueueName(name string) string {
	return n.CommandPrefix + name + n.QueueSuffix
}

// EventTopicName derives the broadcast topic for a command name, e.g.
// "events.CreateUser".
func (n Naming) EventTopicName(name string) string {
	return n.EventPrefix + name
}

// RowCommandRequested shapes the outbound "command" category row the
// Command Bus inserts next to the new Command row, in the same
// transaction.
func (n Naming) RowCommandRequested(name string, commandID uuid.UUID, businessKey string, payload json.RawMessage, replyMeta model.ReplyMeta) model.OutboxRow {
	headers := model.Headers{}
	for k, v := range replyMeta.Headers {
		headers[k] = v
	}
	headers["commandId"] = commandID.String()
	headers["commandName"] = name
	headers["businessKey"] = businessKey
	if replyMeta.ReplyTo != "" {
		headers["replyTo"] = replyMeta.ReplyTo
	}
	if replyMeta.CorrelationID != "" {
		headers["correlationId"] = replyMeta.CorrelationID
	}

	return model.OutboxRow{
		Category: model.CategoryCommand,
		Topic:    n.CommandQueueName(name),
		Key:      commandID.String(),
		Type:     "CommandRequested",
		Payload:  payload,
		Headers:  headers,
	}
}

// RowReply shapes a point-to-point reply row, routed to the envelope's
// replyTo header (or the default reply queue when absent).
func (n Naming) RowReply(envelope model.Envelope, msgType string, payload json.RawMessage) model.OutboxRow {
	topic := envelope.Headers["replyTo"]
	if strings.TrimSpace(topic) == "" {
		topic = n.ReplyQueue
	}

	headers := model.Headers{}
	for k, v := range envelope.Headers {
		headers[k] = v
	}
	correlationID := envelope.CorrelationID
	if correlationID == "" {
		correlationID = envelope.CommandID.String()
	}
	headers["correlationId"] = correlationID
	headers["commandId"] = envelope.CommandID.String()

	return model.OutboxRow{
		Category: model.CategoryReply,
		Topic:    topic,
		Key:      envelope.CommandID.String(),
		Type:     msgType,
		Payload:  payload,
		Headers:  headers,
	}
}

// RowEvent shapes a broadcast event row. key is preserved verbatim (spec.md
// §6: "key is the routing key; it must survive unchanged").
func RowEvent(topic, key, msgType string, payload json.RawMessage) model.OutboxRow {
	return model.OutboxRow{
		Category: model.CategoryEvent,
		Topic:    topic,
		Key:      key,
		Type:     msgType,
		Payload:  payload,
		Headers:  model.Headers{},
	}
}

// EventTopicFor is a small convenience used by the Executor to name the
// outcome event for a command, e.g. "events.CreateUser".
func (n Naming) EventTopicFor(commandName string) string {
	return n.EventTopicName(commandName)
}
