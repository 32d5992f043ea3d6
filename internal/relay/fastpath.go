package relay

import (
	"context"

	"github.com/baechuer/reliable-command-engine/internal/store/postgres"
	"github.com/google/uuid"
)

// FastPath registers a post-commit hook on the ambient transaction that
// triggers Relay.PublishNow for a specific outbox row immediately after
// commit (spec.md §4.4). If no transaction is active the contract tolerates
// a no-op, but callers of this package always have one.
type FastPath struct {
	relay *Relay
}

// NewFastPath constructs a FastPath bound to relay.
func NewFastPath(relay *Relay) *FastPath {
	return &FastPath{relay: relay}
}

// Arm schedules PublishNow(outboxID) to run after tx commits. Any error the
// publish attempt raises is swallowed at this seam — the sweep is the
// backstop, and the fast path's only job is to shave latency, never to
// guarantee delivery.
func (f *FastPath) Arm(tx *postgres.Tx, outboxID uuid.UUID) {
	if tx == nil {
		return
	}
	tx.RegisterAfterCommit(func() {
		defer func() {
			_ = recover() // a panicking transport must never take the process down from this seam
		}()
		f.relay.PublishNow(context.Background(), outboxID)
	})
}
