package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"pai-kb-go/internal/apperr"
	"pai-kb-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTaskState_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTaskStateRepository(time.Minute, nil)
	require.NoError(t, repo.Create(ctx, model.TaskSnapshot{TaskID: "t", Total: 50}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Update(ctx, "t", func(s *model.TaskSnapshot) { s.Processed++ })
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	snap, err := repo.Get(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, 50, snap.Processed)
}

func TestMemoryTaskState_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTaskStateRepository(time.Minute, nil)
	require.NoError(t, repo.Create(ctx, model.TaskSnapshot{TaskID: "t", Total: 1}))

	snap, err := repo.Update(ctx, "t", func(s *model.TaskSnapshot) {
		s.Errors = append(s.Errors, model.FileError{FileName: "a", Message: "x"})
	})
	require.NoError(t, err)
	snap.Errors[0].Message = "mutated"

	again, err := repo.Get(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, "x", again.Errors[0].Message)
}

func TestMemoryTaskState_ExpiresAfterCompletion(t *testing.T) {
	ctx := context.Background()
	expired := make(chan string, 1)
	repo := NewMemoryTaskStateRepository(20*time.Millisecond, func(id string) { expired <- id })
	require.NoError(t, repo.Create(ctx, model.TaskSnapshot{TaskID: "t", Total: 1}))

	_, err := repo.Update(ctx, "t", func(s *model.TaskSnapshot) { s.IsCompleted = true })
	require.NoError(t, err)

	select {
	case id := <-expired:
		assert.Equal(t, "t", id)
	case <-time.After(2 * time.Second):
		t.Fatal("task was not expired")
	}
	_, err = repo.Get(ctx, "t")
	assert.ErrorIs(t, err, apperr.ErrTaskNotFound)
}

func TestMemoryTaskState_UnknownTask(t *testing.T) {
	repo := NewMemoryTaskStateRepository(time.Minute, nil)
	_, err := repo.Update(context.Background(), "missing", func(*model.TaskSnapshot) {})
	assert.ErrorIs(t, err, apperr.ErrTaskNotFound)
}

func TestMemoryTokenBlacklist(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryTokenBlacklist()

	require.NoError(t, b.Add(ctx, "t1", time.Minute))
	require.NoError(t, b.Add(ctx, "expired", -time.Second))

	ok, err := b.Contains(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Contains(ctx, "expired")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Add(ctx, "short", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	ok, err = b.Contains(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)
}
