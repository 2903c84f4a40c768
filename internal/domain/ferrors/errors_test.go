package ferrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorIsComparesByCodeOnly(t *testing.T) {
	a := New(CodeConfig, "first message")
	b := New(CodeConfig, "second message")
	c := New(CodeTransport, "first message")

	require.True(t, errors.Is(a, b))
	require.False(t, errors.Is(a, c))
}

func TestErrorUnwrapExposesCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	wrapped := Wrap(CodeTransport, "connecting to host", cause)

	require.ErrorIs(t, wrapped, cause)
	require.Contains(t, wrapped.Error(), "connecting to host")
	require.Contains(t, wrapped.Error(), "refused")
}

func TestErrorWithContextMergesWithoutMutatingOriginal(t *testing.T) {
	base := New(CodeExec, "command failed").WithContext(map[string]interface{}{"host": "h1"})
	extended := base.WithContext(map[string]interface{}{"manifest": "m1"})

	require.Equal(t, map[string]interface{}{"host": "h1"}, base.Context)
	require.Equal(t, map[string]interface{}{"host": "h1", "manifest": "m1"}, extended.Context)
}

func TestAggregateCollectsAndReportsErrors(t *testing.T) {
	var agg Aggregate
	require.Nil(t, agg.ErrOrNil())

	agg.Add(New(CodeLog, "manifest m1 failed on host h1"))
	agg.Add(errors.New("plain error"))

	require.Equal(t, 2, agg.Len())
	err := agg.ErrOrNil()
	require.Error(t, err)
	require.Contains(t, err.Error(), "2 task(s) failed")
	require.Contains(t, err.Error(), "manifest m1 failed on host h1")
}

func TestAggregateAddIgnoresNil(t *testing.T) {
	var agg Aggregate
	agg.Add(nil)
	require.Equal(t, 0, agg.Len())
	require.Nil(t, agg.ErrOrNil())
}
