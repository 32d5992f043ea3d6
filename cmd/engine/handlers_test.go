package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/baechuer/reliable-command-engine/internal/handler"
	"github.com/stretchr/testify/require"
)

func TestCreateUserHandler_Success(t *testing.T) {
	h := newCreateUserHandler()

	out, err := h.Invoke(context.Background(), "CreateUser", json.RawMessage(`{"username":"alice"}`))
	require.NoError(t, err)

	var result createUserResult
	require.NoError(t, json.Unmarshal(out, &result))
	require.Equal(t, "alice", result.Username)
	require.True(t, result.Created)
}

func TestCreateUserHandler_FailPermanent(t *testing.T) {
	h := newCreateUserHandler()

	_, err := h.Invoke(context.Background(), "CreateUser", json.RawMessage(`{"failPermanent":true}`))
	require.Error(t, err)

	var failure *handler.Failure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, handler.Permanent, failure.Kind)
	require.Contains(t, failure.Error(), "Invariant")
}

func TestCreateUserHandler_FailTransient(t *testing.T) {
	h := newCreateUserHandler()

	_, err := h.Invoke(context.Background(), "CreateUser", json.RawMessage(`{"failTransient":true}`))
	require.Error(t, err)

	var failure *handler.Failure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, handler.Transient, failure.Kind)
}

func TestCreateUserHandler_MissingUsernameIsRetryableBusiness(t *testing.T) {
	h := newCreateUserHandler()

	_, err := h.Invoke(context.Background(), "CreateUser", json.RawMessage(`{}`))
	require.Error(t, err)

	var failure *handler.Failure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, handler.RetryableBusiness, failure.Kind)
}

func TestCreateUserHandler_InvalidPayloadIsPermanent(t *testing.T) {
	h := newCreateUserHandler()

	_, err := h.Invoke(context.Background(), "CreateUser", json.RawMessage(`not-json`))
	require.Error(t, err)

	var failure *handler.Failure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, handler.Permanent, failure.Kind)
}
