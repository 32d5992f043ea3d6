package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/baechuer/reliable-command-engine/internal/handler"
)

// createUserRequest is the demo handler's payload shape. failPermanent and
// failTransient let integration tests drive each of the three failure
// kinds without a second handler.
type createUserRequest struct {
	Username      string `json:"username"`
	FailPermanent bool   `json:"failPermanent"`
	FailTransient bool   `json:"failTransient"`
}

type createUserResult struct {
	Username string `json:"username"`
	Created  bool   `json:"created"`
}

// newCreateUserHandler returns the reference handler for the "CreateUser"
// command, exercising all three handler.Kind branches on demand.
func newCreateUserHandler() handler.Func {
	return func(ctx context.Context, name string, payload json.RawMessage) (json.RawMessage, error) {
		var req createUserRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, handler.NewPermanent(errors.New("invalid payload"))
		}
		if req.FailPermanent {
			return nil, handler.NewPermanent(errors.New("Invariant broken"))
		}
		if req.FailTransient {
			return nil, handler.NewTransient(errors.New("downstream dependency unavailable"))
		}
		if req.Username == "" {
			return nil, handler.NewRetryableBusiness(errors.New("username required"))
		}

		result, err := json.Marshal(createUserResult{Username: req.Username, Created: true})
		if err != nil {
			return nil, handler.NewPermanent(err)
		}
		return result, nil
	}
}
