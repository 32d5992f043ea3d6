// Package syncwait implements the Response Registry (spec.md §4.7): a
// process-wide, self-expiring map from command id to a one-shot completion
// slot, used to emulate a synchronous HTTP reply over the otherwise fully
// asynchronous command/reply flow. It has no direct teacher analog; it is
// grounded on the general bounded, self-evicting, concurrency-safe state
// idiom join-service's rate limiter middleware uses, built here with the
// standard library only (sync.Map + channel + time.AfterFunc) since no
// pack dependency offers a closer-fitting one-shot completion primitive
// (see DESIGN.md).
package syncwait

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome is what a slot resolves to: either a successful reply payload or
// an error message.
type Outcome struct {
	Payload json.RawMessage
	Err     string
}

type slot struct {
	ch        chan Outcome
	once      sync.Once
	completed bool
	mu        sync.Mutex
}

func (s *slot) complete(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return
	}
	s.completed = true
	s.once.Do(func() { s.ch <- o })
}

// Registry is the process-wide slot map.
type Registry struct {
	ttl   time.Duration
	slots sync.Map // uuid.UUID -> *slot
}

// New constructs a Registry with the given default slot TTL.
func New(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &Registry{ttl: ttl}
}

// Register inserts a new slot for commandID and schedules its removal after
// ttl, whether or not it ever completes. It returns a channel the caller
// waits on (bounded by the caller's own select/timeout) and a cancel func
// the caller should invoke once it stops waiting.
func (r *Registry) Register(commandID uuid.UUID) (wait <-chan Outcome, cancel func()) {
	s := &slot{ch: make(chan Outcome, 1)}
	r.slots.Store(commandID, s)

	timer := time.AfterFunc(r.ttl, func() {
		r.slots.Delete(commandID)
	})

	return s.ch, func() {
		timer.Stop()
		r.slots.Delete(commandID)
	}
}

// Complete resolves commandID's slot with a successful payload, if the slot
// still exists and hasn't already completed. Otherwise it's a silent no-op
// — the synchronous-wait window already lapsed and the command completed
// in the background, which is not a correctness concern.
func (r *Registry) Complete(commandID uuid.UUID, payload json.RawMessage) {
	r.resolve(commandID, Outcome{Payload: payload})
}

// Fail resolves commandID's slot with an error message.
func (r *Registry) Fail(commandID uuid.UUID, errMsg string) {
	r.resolve(commandID, Outcome{Err: errMsg})
}

func (r *Registry) resolve(commandID uuid.UUID, o Outcome) {
	v, ok := r.slots.Load(commandID)
	if !ok {
		return
	}
	v.(*slot).complete(o)
}
