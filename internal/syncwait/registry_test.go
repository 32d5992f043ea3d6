package syncwait

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CompleteResolvesWaiter(t *testing.T) {
	r := New(time.Second)
	id := uuid.New()

	wait, cancel := r.Register(id)
	defer cancel()

	payload := json.RawMessage(`{"ok":true}`)
	r.Complete(id, payload)

	select {
	case out := <-wait:
		require.Equal(t, payload, out.Payload)
		require.Empty(t, out.Err)
	case <-time.After(time.Second):
		t.Fatal("expected outcome before timeout")
	}
}

func TestRegistry_FailResolvesWaiterWithError(t *testing.T) {
	r := New(time.Second)
	id := uuid.New()

	wait, cancel := r.Register(id)
	defer cancel()

	r.Fail(id, "boom")

	select {
	case out := <-wait:
		require.Equal(t, "boom", out.Err)
	case <-time.After(time.Second):
		t.Fatal("expected outcome before timeout")
	}
}

func TestRegistry_UnregisteredCompleteIsNoop(t *testing.T) {
	r := New(time.Second)
	require.NotPanics(t, func() {
		r.Complete(uuid.New(), json.RawMessage(`{}`))
	})
}

func TestRegistry_SlotExpiresWithoutCompletion(t *testing.T) {
	r := New(30 * time.Millisecond)
	id := uuid.New()

	wait, cancel := r.Register(id)
	defer cancel()

	select {
	case <-wait:
		t.Fatal("did not expect an outcome")
	case <-time.After(100 * time.Millisecond):
	}

	// after TTL expiry the slot is gone; completing it is a silent no-op.
	require.NotPanics(t, func() {
		r.Complete(id, json.RawMessage(`{}`))
	})
}

func TestRegistry_DoubleCompleteKeepsFirstOutcome(t *testing.T) {
	r := New(time.Second)
	id := uuid.New()

	wait, cancel := r.Register(id)
	defer cancel()

	r.Complete(id, json.RawMessage(`{"first":true}`))
	r.Complete(id, json.RawMessage(`{"second":true}`))

	out := <-wait
	require.JSONEq(t, `{"first":true}`, string(out.Payload))
}
