// Package model holds the wire/row shapes shared by the store, relay,
// command bus and executor. Payloads stay opaque JSON; only headers and
// status fields are structured.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CommandStatus is the lifecycle state of a Command row.
type CommandStatus string

const (
	CommandPending   CommandStatus = "PENDING"
	CommandRunning   CommandStatus = "RUNNING"
	CommandSucceeded CommandStatus = "SUCCEEDED"
	CommandFailed    CommandStatus = "FAILED"
	CommandTimedOut  CommandStatus = "TIMED_OUT"
)

// Command is a durably recorded business request.
type Command struct {
	ID                   uuid.UUID
	Name                 string
	BusinessKey          string
	Payload              json.RawMessage
	IdempotencyKey       string
	Status               CommandStatus
	Retries              int
	ProcessingLeaseUntil *time.Time
	LastError            string
	Reply                json.RawMessage
	RequestedAt          time.Time
	UpdatedAt            time.Time
}

// OutboxCategory distinguishes the three outbound dispatch shapes.
type OutboxCategory string

const (
	CategoryCommand OutboxCategory = "command"
	CategoryReply   OutboxCategory = "reply"
	CategoryEvent   OutboxCategory = "event"
)

// OutboxStatus is the lifecycle state of an OutboxRow.
type OutboxStatus string

const (
	OutboxNew       OutboxStatus = "NEW"
	OutboxClaimed   OutboxStatus = "CLAIMED"
	OutboxPublished OutboxStatus = "PUBLISHED"
)

// Headers is a string->string header map, JSON-encoded in storage.
type Headers map[string]string

// OutboxRow is a pending (or already dispatched) outbound message.
type OutboxRow struct {
	ID          uuid.UUID
	Category    OutboxCategory
	Topic       string
	Key         string
	Type        string
	Payload     json.RawMessage
	Headers     Headers
	Status      OutboxStatus
	Attempts    int
	NextAt      *time.Time
	ClaimedBy   string
	CreatedAt   time.Time
	PublishedAt *time.Time
	LastError   string
}

// InboxEntry records that (MessageID, Handler) has already been processed.
type InboxEntry struct {
	MessageID   string
	Handler     string
	ProcessedAt time.Time
}

// DlqEntry is a permanently failed command parked for operator inspection.
type DlqEntry struct {
	ID           uuid.UUID
	CommandID    uuid.UUID
	CommandName  string
	BusinessKey  string
	Payload      json.RawMessage
	FailedStatus CommandStatus
	ErrorClass   string
	ErrorMessage string
	Attempts     int
	ParkedBy     string
	ParkedAt     time.Time
}

// ReplyMeta is the caller-supplied echo metadata threaded through a command's
// eventual reply (destination queue, correlation id, arbitrary headers).
type ReplyMeta struct {
	ReplyTo       string
	CorrelationID string
	Headers       Headers
}

// Envelope is what the Executor receives for a single inbound delivery.
type Envelope struct {
	MessageID     string
	Name          string
	CommandID     uuid.UUID
	CorrelationID string
	Key           string
	Headers       Headers
	Payload       json.RawMessage
}
