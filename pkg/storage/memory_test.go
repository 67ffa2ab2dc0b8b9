package storage

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, "kb/a.txt", []byte("hello"), "text/plain"))

	rc, size, err := s.Get(ctx, "kb/a.txt")
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "hello", string(data))
	assert.EqualValues(t, 5, size)

	require.NoError(t, s.Remove(ctx, "kb/a.txt"))
	_, _, err = s.Get(ctx, "kb/a.txt")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
