// Package enginerr holds the sentinel errors shared across the command bus,
// executor and stores, mirrored on the domain.Err* convention used
// throughout the pack this engine was built from.
package enginerr

import "errors"

var (
	// ErrDuplicateIdempotency is returned by the command bus when
	// idempotency_key already exists.
	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
	// ErrDuplicateBusiness is returned when (name, business_key) already exists.
	ErrDuplicateBusiness = errors.New("duplicate business key")
	// ErrCommandNotFound names a missing command row. CommandStore.Find does
	// not return it; Find reports a missing row through its bool result.
	ErrCommandNotFound = errors.New("command not found")
	// ErrNoHandler is returned by the Executor when no handler is registered
	// for a command name.
	ErrNoHandler = errors.New("no handler registered for command")
	// ErrOutboxRowNotClaimable names an outbox row that is not NEW (already
	// claimed or published). OutboxStore.ClaimOne does not return it; ClaimOne
	// reports that case through its ok=false result.
	ErrOutboxRowNotClaimable = errors.New("outbox row not claimable")
	// ErrUnknownCategory is a programmer error: an outbox row was inserted
	// with a category the Relay does not know how to dispatch.
	ErrUnknownCategory = errors.New("unknown outbox category")
)
