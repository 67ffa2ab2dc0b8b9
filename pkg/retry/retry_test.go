package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsFirstTry(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), 3, Exponential(time.Millisecond), func(context.Context) error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_EventualSuccess(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), 5, Exponential(time.Millisecond), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_ReturnsLastError(t *testing.T) {
	attempts := 0
	want := errors.New("persistent")
	err := Do(context.Background(), 3, Constant(time.Millisecond), func(context.Context) error {
		attempts++
		return want
	})
	assert.Equal(t, want, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_InvalidMaxAttempts(t *testing.T) {
	err := Do(context.Background(), 0, nil, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
}

func TestDo_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, 10, Constant(time.Hour), func(context.Context) error {
		attempts++
		cancel()
		return errors.New("boom")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestExponential(t *testing.T) {
	b := Exponential(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, b(1))
	assert.Equal(t, 200*time.Millisecond, b(2))
	assert.Equal(t, 400*time.Millisecond, b(3))
}
