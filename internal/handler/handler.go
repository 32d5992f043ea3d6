// Package handler defines the polymorphic capability the Executor invokes
// for each command name, and the closed set of failure kinds a handler may
// raise. Grounded on domain.JoinRepository's interface-as-capability-table
// style and on spec.md §4.8/§9 ("model the handler set as a table from
// command name to a function value ... do not rely on inheritance").
package handler

import (
	"context"
	"encoding/json"
)

// Kind is the closed set of ways a handler invocation can fail.
type Kind int

const (
	// Permanent means a business invariant was violated; do not retry.
	Permanent Kind = iota
	// RetryableBusiness means a business-level retry is allowed.
	RetryableBusiness
	// Transient means an infrastructure-level retry is allowed.
	Transient
)

func (k Kind) String() string {
	switch k {
	case Permanent:
		return "Permanent"
	case RetryableBusiness:
		return "RetryableBusiness"
	case Transient:
		return "Transient"
	default:
		return "Unknown"
	}
}

// Failure is the tagged-variant error a Handler returns instead of a bare
// error, so the Executor can branch on Kind rather than on exception types.
type Failure struct {
	Kind Kind
	Err  error
}

func (f *Failure) Error() string { return f.Err.Error() }

func (f *Failure) Unwrap() error { return f.Err }

// NewPermanent wraps err as a Permanent failure.
func NewPermanent(err error) *Failure { return &Failure{Kind: Permanent, Err: err} }

// NewRetryableBusiness wraps err as a RetryableBusiness failure.
func NewRetryableBusiness(err error) *Failure { return &Failure{Kind: RetryableBusiness, Err: err} }

// NewTransient wraps err as a Transient failure.
func NewTransient(err error) *Failure { return &Failure{Kind: Transient, Err: err} }

// Handler is the capability the Executor invokes for a command name.
// Non-failure return values are opaque JSON strings (spec.md §4.8); the
// core never parses them.
type Handler interface {
	Invoke(ctx context.Context, name string, payload json.RawMessage) (json.RawMessage, error)
}

// Func adapts a plain function to Handler, the way the pack's handler
// tables are usually populated at startup from literal function values
// rather than named types.
type Func func(ctx context.Context, name string, payload json.RawMessage) (json.RawMessage, error)

// Invoke implements Handler.
func (f Func) Invoke(ctx context.Context, name string, payload json.RawMessage) (json.RawMessage, error) {
	return f(ctx, name, payload)
}

// Table is the command-name -> Handler lookup populated at startup,
// spec.md §9's "do not rely on inheritance" handler model.
type Table map[string]Handler
