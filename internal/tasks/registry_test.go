package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(context.Context, Invocation) (Result, error) {
	return Result{}, nil
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Register("a.b.c", Registration{Handler: noopHandler}))

	got, err := reg.Lookup("a.b.c")
	require.NoError(t, err)
	assert.NotNil(t, got.Handler)
	assert.Nil(t, got.LockKey)

	_, err = reg.Lookup("a.b.missing")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("a.b.c", Registration{Handler: noopHandler}))
	assert.Error(t, reg.Register("a.b.c", Registration{Handler: noopHandler}))
}

func TestRegistry_Validation(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register("", Registration{Handler: noopHandler}))
	assert.Error(t, reg.Register("a.b.c", Registration{}))
}

func TestRegistry_TasksSorted(t *testing.T) {
	reg := NewRegistry()
	for _, task := range []string{"z.last", "a.first", "m.middle"} {
		require.NoError(t, reg.Register(task, Registration{Handler: noopHandler}))
	}
	assert.Equal(t, []string{"a.first", "m.middle", "z.last"}, reg.Tasks())
}

func TestInvocation_IntKwarg(t *testing.T) {
	inv := Invocation{Kwargs: map[string]any{
		"float": float64(7), // JSON numbers decode as float64
		"int":   3,
		"text":  "nope",
	}}
	assert.Equal(t, 7, inv.IntKwarg("float", 0))
	assert.Equal(t, 3, inv.IntKwarg("int", 0))
	assert.Equal(t, 9, inv.IntKwarg("text", 9))
	assert.Equal(t, 9, inv.IntKwarg("absent", 9))
}
