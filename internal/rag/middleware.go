package rag

import (
	"context"
	"strings"

	"pai-kb-go/internal/model"
	"pai-kb-go/pkg/log"
)

// MetadataChatID 是请求元数据中携带对话 ID 的键。
const MetadataChatID = "chatId"

// ContextPrefix 是追加在检索内容之前的说明行。
const ContextPrefix = "Here is some relevant information that you can use to answer the question:"

// DefaultTopK 是默认检索条数。
const DefaultTopK = 5

// ChatRequest 是发往 LLM 的请求。对话 ID 放在 Metadata 中，不混入消息列表。
type ChatRequest struct {
	Messages []model.ChatMessage
	Metadata map[string]string
}

type userKey struct{}

// WithUserID 把已认证的用户写入 ctx。
func WithUserID(ctx context.Context, userID uint) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserIDFromContext 读取已认证的用户。
func UserIDFromContext(ctx context.Context) (uint, bool) {
	id, ok := ctx.Value(userKey{}).(uint)
	return id, ok && id != 0
}

type (
	Classifier interface {
		Classify(ctx context.Context, text string) (Category, error)
	}
	Generator interface {
		Generate(ctx context.Context, question string) (string, error)
	}
	KnowledgeBaseResolver interface {
		KnowledgeBaseIDs(ctx context.Context, chatID string) ([]string, error)
	}
	Embedder interface {
		CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	}
	Searcher interface {
		Search(ctx context.Context, kbIDs []string, vector []float32, k int) ([]model.ChunkHit, error)
	}
)

// Middleware 在请求发往 LLM 之前尝试注入知识库内容，任何失败都原样放行。
type Middleware struct {
	classifier Classifier
	generator  Generator
	resolver   KnowledgeBaseResolver
	embedder   Embedder
	searcher   Searcher
	topK       int
}

func NewMiddleware(classifier Classifier, generator Generator, resolver KnowledgeBaseResolver, embedder Embedder, searcher Searcher, topK int) *Middleware {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Middleware{
		classifier: classifier,
		generator:  generator,
		resolver:   resolver,
		embedder:   embedder,
		searcher:   searcher,
		topK:       topK,
	}
}

// Transform 返回增强后的请求；不满足条件或出错时返回原请求。入参的消息切片不会被修改。
func (m *Middleware) Transform(ctx context.Context, req ChatRequest) ChatRequest {
	if _, ok := UserIDFromContext(ctx); !ok {
		return req
	}
	chatID := strings.TrimSpace(req.Metadata[MetadataChatID])
	if chatID == "" {
		return req
	}
	if len(req.Messages) == 0 {
		return req
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != model.RoleUser || strings.TrimSpace(last.Content) == "" {
		return req
	}

	augmented, err := m.augment(ctx, chatID, last.Content)
	if err != nil {
		log.Warnw("[RAG] 检索增强失败，使用原始请求", "chatId", chatID, "error", err)
		return req
	}
	if augmented == "" {
		return req
	}

	messages := make([]model.ChatMessage, len(req.Messages))
	copy(messages, req.Messages)
	messages[len(messages)-1].Content = augmented
	return ChatRequest{Messages: messages, Metadata: req.Metadata}
}

// augment 返回增强后的最后一条用户消息；返回空串表示无需修改。
func (m *Middleware) augment(ctx context.Context, chatID, question string) (string, error) {
	category, err := m.classifier.Classify(ctx, question)
	if err != nil {
		return "", err
	}
	if category != CategoryQuestion {
		log.Debugf("[RAG] 消息分类为 %s，跳过检索", category)
		return "", nil
	}

	kbIDs, err := m.resolver.KnowledgeBaseIDs(ctx, chatID)
	if err != nil {
		return "", err
	}
	if len(kbIDs) == 0 {
		return "", nil
	}

	hypothetical, err := m.generator.Generate(ctx, question)
	if err != nil {
		return "", err
	}
	vector, err := m.embedder.CreateEmbedding(ctx, hypothetical)
	if err != nil {
		return "", err
	}
	hits, err := m.searcher.Search(ctx, kbIDs, vector, m.topK)
	if err != nil {
		return "", err
	}
	log.Infow("[RAG] 检索完成", "chatId", chatID, "knowledgeBases", len(kbIDs), "hits", len(hits))

	var sb strings.Builder
	sb.WriteString(question)
	sb.WriteString("\n\n")
	sb.WriteString(ContextPrefix)
	for _, h := range hits {
		sb.WriteString("\n\n")
		sb.WriteString(h.Content)
	}
	return sb.String(), nil
}
