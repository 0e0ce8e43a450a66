package errutil

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConstructorKeepsCause(t *testing.T) {
	err := NotFound("wallet not found", io.EOF, WithDetail("participant_id", "p-1"))

	require.ErrorIs(t, err, io.EOF)
	require.True(t, HasStatus(err, StatusNotFound))
	require.Contains(t, err.Error(), "wallet not found: EOF")

	var be BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, "p-1", be.Fields()["participant_id"])
}

func TestStatusOfPlainError(t *testing.T) {
	require.Equal(t, CoreStatus(""), StatusOf(errors.New("boom")))
	require.True(t, StatusNotFound.Fatal())
	require.False(t, StatusTimeout.Fatal())
}
