package progress

import (
	"testing"
	"time"

	"pai-kb-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishToSubscribers(t *testing.T) {
	h := NewHub(4)
	a := h.Subscribe("t1")
	b := h.Subscribe("t1")
	other := h.Subscribe("t2")

	h.Publish("t1", model.TaskSnapshot{TaskID: "t1", Percentage: 50})

	assert.Equal(t, 50, (<-a.Events()).Percentage)
	assert.Equal(t, 50, (<-b.Events()).Percentage)
	select {
	case <-other.Events():
		t.Fatal("t2 subscriber should not receive t1 events")
	default:
	}
}

func TestHub_FullBufferDropsOldest(t *testing.T) {
	h := NewHub(2)
	sub := h.Subscribe("t")
	for i := 1; i <= 5; i++ {
		h.Publish("t", model.TaskSnapshot{TaskID: "t", Processed: i})
	}
	first := <-sub.Events()
	second := <-sub.Events()
	assert.Equal(t, 4, first.Processed)
	assert.Equal(t, 5, second.Processed)
}

func TestHub_CloseEndsSubscriptions(t *testing.T) {
	h := NewHub(2)
	sub := h.Subscribe("t")
	h.Close("t")
	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.Zero(t, h.Subscribers("t"))

	// 重复取消订阅不会 panic
	h.Unsubscribe(sub)
}

func TestHub_CloseAfter(t *testing.T) {
	h := NewHub(2)
	sub := h.Subscribe("t")
	h.CloseAfter("t", 10*time.Millisecond)

	select {
	case _, ok := <-sub.Events():
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel was not closed")
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub(2)
	sub := h.Subscribe("t")
	h.Unsubscribe(sub)
	assert.Zero(t, h.Subscribers("t"))
	h.Publish("t", model.TaskSnapshot{TaskID: "t"})
	_, ok := <-sub.Events()
	assert.False(t, ok)
}
