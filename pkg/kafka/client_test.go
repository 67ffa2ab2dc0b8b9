package kafka

import (
	"testing"

	"pai-kb-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeSnapshot(t *testing.T) {
	snap := model.TaskSnapshot{TaskID: "t1", Total: 3, Processed: 1, Percentage: 33, Errors: []model.FileError{}}
	msg, err := EncodeSnapshot("node-a", snap)
	require.NoError(t, err)
	assert.Equal(t, []byte("t1"), msg.Key)

	got, origin, err := DecodeSnapshot(msg)
	require.NoError(t, err)
	assert.Equal(t, "node-a", origin)
	assert.Equal(t, 33, got.Percentage)
	assert.Equal(t, "t1", got.TaskID)
}
