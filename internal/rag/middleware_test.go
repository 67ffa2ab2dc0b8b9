package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"pai-kb-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompleter struct {
	replies map[string]string
	err     error
	calls   []string
}

func (s *stubCompleter) Complete(_ context.Context, system, prompt string) (string, error) {
	s.calls = append(s.calls, system)
	if s.err != nil {
		return "", s.err
	}
	for prefix, reply := range s.replies {
		if strings.HasPrefix(system, prefix) {
			return reply, nil
		}
	}
	return "", nil
}

type stubResolver struct {
	ids []string
	err error
}

func (r stubResolver) KnowledgeBaseIDs(context.Context, string) ([]string, error) {
	return r.ids, r.err
}

type stubEmbedder struct {
	seen []string
}

func (e *stubEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	e.seen = append(e.seen, text)
	return []float32{1, 0}, nil
}

type stubSearcher struct {
	hits  []model.ChunkHit
	err   error
	kbIDs []string
	k     int
}

func (s *stubSearcher) Search(_ context.Context, kbIDs []string, _ []float32, k int) ([]model.ChunkHit, error) {
	s.kbIDs = kbIDs
	s.k = k
	return s.hits, s.err
}

func newStubLLM(category string) *stubCompleter {
	return &stubCompleter{replies: map[string]string{
		"classify":                  category,
		"Answer the users question": "Paris is the capital of France.",
	}}
}

func questionRequest() ChatRequest {
	return ChatRequest{
		Messages: []model.ChatMessage{
			{Role: model.RoleUser, Content: "hi"},
			{Role: model.RoleAssistant, Content: "hello"},
			{Role: model.RoleUser, Content: "What is the capital of France?"},
		},
		Metadata: map[string]string{MetadataChatID: "chat-1"},
	}
}

func newMiddleware(llm *stubCompleter, resolver KnowledgeBaseResolver, emb *stubEmbedder, s *stubSearcher) *Middleware {
	return NewMiddleware(NewQueryClassifier(llm), NewHypotheticalAnswerGenerator(llm), resolver, emb, s, 5)
}

func TestTransform_AugmentsQuestion(t *testing.T) {
	llm := newStubLLM("question")
	emb := &stubEmbedder{}
	searcher := &stubSearcher{hits: []model.ChunkHit{
		{ID: "c1", Content: "France's capital is Paris.", Distance: 0.1},
		{ID: "c2", Content: "Paris has the Eiffel Tower.", Distance: 0.2},
	}}
	m := newMiddleware(llm, stubResolver{ids: []string{"kb1"}}, emb, searcher)

	req := questionRequest()
	ctx := WithUserID(context.Background(), 1)
	out := m.Transform(ctx, req)

	require.Len(t, out.Messages, 3)
	last := out.Messages[2].Content
	assert.True(t, strings.HasPrefix(last, "What is the capital of France?"))
	assert.Contains(t, last, "\n\n"+ContextPrefix)
	assert.Contains(t, last, "France's capital is Paris.")
	assert.Contains(t, last, "Paris has the Eiffel Tower.")
	assert.Equal(t, "hi", out.Messages[0].Content)
	assert.Equal(t, "hello", out.Messages[1].Content)

	// 嵌入的是假设答案而不是问题
	assert.Equal(t, []string{"Paris is the capital of France."}, emb.seen)
	assert.Equal(t, []string{"kb1"}, searcher.kbIDs)
	assert.Equal(t, 5, searcher.k)

	// 原请求不被修改
	assert.Equal(t, "What is the capital of France?", req.Messages[2].Content)
}

func TestTransform_NoKnowledgeBases(t *testing.T) {
	llm := newStubLLM("question")
	emb := &stubEmbedder{}
	m := newMiddleware(llm, stubResolver{}, emb, &stubSearcher{})

	req := questionRequest()
	out := m.Transform(WithUserID(context.Background(), 1), req)
	assert.Equal(t, req.Messages, out.Messages)
	assert.Empty(t, emb.seen)
}

func TestTransform_NonQuestionPassesThrough(t *testing.T) {
	for _, category := range []string{"statement", "other", "I am not sure"} {
		llm := newStubLLM(category)
		emb := &stubEmbedder{}
		m := newMiddleware(llm, stubResolver{ids: []string{"kb1"}}, emb, &stubSearcher{})

		req := questionRequest()
		out := m.Transform(WithUserID(context.Background(), 1), req)
		assert.Equal(t, req.Messages, out.Messages, category)
		assert.Len(t, llm.calls, 1, category)
	}
}

func TestTransform_PassThroughPreconditions(t *testing.T) {
	llm := newStubLLM("question")
	m := newMiddleware(llm, stubResolver{ids: []string{"kb1"}}, &stubEmbedder{}, &stubSearcher{})
	authed := WithUserID(context.Background(), 1)

	req := questionRequest()
	assert.Equal(t, req, m.Transform(context.Background(), req), "no user")

	noChat := questionRequest()
	noChat.Metadata = nil
	assert.Equal(t, noChat, m.Transform(authed, noChat), "no chat id")

	empty := ChatRequest{Metadata: map[string]string{MetadataChatID: "c"}}
	assert.Equal(t, empty, m.Transform(authed, empty), "no messages")

	assistantLast := questionRequest()
	assistantLast.Messages = assistantLast.Messages[:2]
	assert.Equal(t, assistantLast, m.Transform(authed, assistantLast), "last is assistant")

	blank := questionRequest()
	blank.Messages[2].Content = "   "
	assert.Equal(t, blank, m.Transform(authed, blank), "blank user message")

	assert.Empty(t, llm.calls)
}

func TestTransform_ErrorsFallBack(t *testing.T) {
	authed := WithUserID(context.Background(), 1)

	failingLLM := &stubCompleter{err: errors.New("llm down")}
	m := newMiddleware(failingLLM, stubResolver{ids: []string{"kb1"}}, &stubEmbedder{}, &stubSearcher{})
	req := questionRequest()
	assert.Equal(t, req, m.Transform(authed, req))

	m = newMiddleware(newStubLLM("question"), stubResolver{err: errors.New("db down")}, &stubEmbedder{}, &stubSearcher{})
	assert.Equal(t, req, m.Transform(authed, req))

	m = newMiddleware(newStubLLM("question"), stubResolver{ids: []string{"kb1"}}, &stubEmbedder{}, &stubSearcher{err: errors.New("es down")})
	assert.Equal(t, req, m.Transform(authed, req))
}

func TestParseCategory(t *testing.T) {
	assert.Equal(t, CategoryQuestion, ParseCategory("Question"))
	assert.Equal(t, CategoryStatement, ParseCategory(" statement.\n"))
	assert.Equal(t, CategoryQuestion, ParseCategory("The answer: question"))
	assert.Equal(t, CategoryOther, ParseCategory("unknown"))
	assert.Equal(t, CategoryOther, ParseCategory(""))
}
