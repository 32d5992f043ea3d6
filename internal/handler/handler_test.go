package handler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFailure_KindConstructors(t *testing.T) {
	cases := []struct {
		failure *Failure
		want    Kind
	}{
		{NewPermanent(errors.New("x")), Permanent},
		{NewRetryableBusiness(errors.New("x")), RetryableBusiness},
		{NewTransient(errors.New("x")), Transient},
	}
	for _, c := range cases {
		require.Equal(t, c.want, c.failure.Kind)
	}
}

func TestFailure_UnwrapAndError(t *testing.T) {
	cause := errors.New("root cause")
	f := NewTransient(cause)

	require.Equal(t, "root cause", f.Error())
	require.ErrorIs(t, f, cause)
}

func TestKind_String(t *testing.T) {
	require.Equal(t, "Permanent", Permanent.String())
	require.Equal(t, "RetryableBusiness", RetryableBusiness.String())
	require.Equal(t, "Transient", Transient.String())
	require.Equal(t, "Unknown", Kind(99).String())
}

func TestFunc_AdaptsToHandler(t *testing.T) {
	var h Handler = Func(func(ctx context.Context, name string, payload json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"echo":true}`), nil
	})

	out, err := h.Invoke(context.Background(), "Anything", json.RawMessage(`{}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"echo":true}`, string(out))
}

func TestTable_LookupMissingHandler(t *testing.T) {
	table := Table{}
	_, ok := table["DoesNotExist"]
	require.False(t, ok)
}
