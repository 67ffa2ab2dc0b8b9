package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"pai-kb-go/internal/config"
	"pai-kb-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	chunks []string
}

func (c *collector) WriteChunk(content string) error {
	c.chunks = append(c.chunks, content)
	return nil
}

func TestStreamChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n"))
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	c := NewStreamClient(config.LLMConfig{BaseURL: srv.URL, Model: "m"})
	w := &collector{}
	full, err := c.StreamChat(context.Background(), []model.ChatMessage{{Role: model.RoleUser, Content: "hi"}}, w)
	require.NoError(t, err)
	assert.Equal(t, "Hello", full)
	assert.Equal(t, []string{"Hel", "lo"}, w.chunks)
}

func TestStreamChat_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewStreamClient(config.LLMConfig{BaseURL: srv.URL})
	_, err := c.StreamChat(context.Background(), nil, &collector{})
	assert.Error(t, err)
}
