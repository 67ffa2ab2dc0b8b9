package es

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"pai-kb-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBulkBody(t *testing.T) {
	body, err := BuildBulkBody([]model.EsChunkDocument{
		{ChunkID: "c1", KnowledgeBaseID: "kb", TextContent: "a"},
		{ChunkID: "c2", KnowledgeBaseID: "kb", TextContent: "b"},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 4)
	assert.JSONEq(t, `{"index":{"_id":"c1"}}`, lines[0])
	assert.Contains(t, lines[3], `"chunk_id":"c2"`)
}

func TestBuildKNNQuery(t *testing.T) {
	q := BuildKNNQuery([]string{"kb1", "kb2"}, []float32{0.1}, 5)
	raw, err := json.Marshal(q)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"num_candidates":100`)
	assert.Contains(t, string(raw), `"knowledge_base_id":["kb1","kb2"]`)
}

func TestDecodeKNNHits(t *testing.T) {
	raw := `{"hits":{"hits":[
		{"_score":1.0,"_source":{"chunk_id":"a","knowledge_base_id":"kb","text_content":"x"}},
		{"_score":0.75,"_source":{"chunk_id":"b","knowledge_base_id":"kb","text_content":"y"}}
	]}}`
	hits, err := DecodeKNNHits(bytes.NewReader([]byte(raw)))
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.InDelta(t, 0.0, hits[0].Distance, 1e-9)
	assert.InDelta(t, 0.5, hits[1].Distance, 1e-9)
	assert.Equal(t, "y", hits[1].Content)
}
