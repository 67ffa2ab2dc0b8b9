package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"pai-kb-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandFlags(t *testing.T) {
	t.Run("ingest requires owner and title", func(t *testing.T) {
		err := newCLI().Run([]string{"kbctl", "ingest", "a.txt"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "owner")
	})

	t.Run("search requires kb", func(t *testing.T) {
		err := newCLI().Run([]string{"kbctl", "search", "what"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "kb")
	})
}

func TestReadFiles(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(p, []byte("# notes"), 0o600))

	files, err := readFiles([]string{p})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "notes.md", files[0].Name)
	assert.Equal(t, "# notes", string(files[0].Data))
	assert.Empty(t, files[0].MimeType)

	_, err = readFiles([]string{filepath.Join(dir, "missing.txt")})
	assert.Error(t, err)
}

func TestFormatSnapshot(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "[ 50%] 1/2", formatSnapshot(model.TaskSnapshot{Percentage: 50, Processed: 1, Total: 2}))
	assert.Equal(t, "[100%] 2/2 errors=1 completed", formatSnapshot(model.TaskSnapshot{
		Percentage: 100, Processed: 2, Total: 2, IsCompleted: true, CompletedAt: &now,
		Errors: []model.FileError{{FileName: "x", Message: "bad"}},
	}))
}
