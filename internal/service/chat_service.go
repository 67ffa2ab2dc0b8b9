package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pai-kb-go/internal/apperr"
	"pai-kb-go/internal/model"
	"pai-kb-go/internal/rag"
	"pai-kb-go/internal/repository"
	"pai-kb-go/pkg/llm"
	"pai-kb-go/pkg/log"

	"github.com/google/uuid"
)

var ErrEmptyMessage = errors.New("消息内容不能为空")

// ChatService 管理对话并生成流式回答。
type ChatService interface {
	CreateChat(ctx context.Context, userID uint, title string, kbIDs []string) (*model.Chat, error)
	ListChats(ctx context.Context, userID uint) ([]model.Chat, error)
	DeleteChat(ctx context.Context, userID uint, chatID string) error
	// ListMessages 返回对话的历史消息，按写入顺序排列。
	ListMessages(ctx context.Context, userID uint, chatID string) ([]model.Message, error)
	// StreamAnswer 保存用户消息，经检索增强后流式输出回答，完成后保存助手消息。
	StreamAnswer(ctx context.Context, userID uint, chatID, content string, writer llm.ChunkWriter) (string, error)
}

// RequestTransformer 在请求发往 LLM 前对其改写，rag.Middleware 是其实现。
type RequestTransformer interface {
	Transform(ctx context.Context, req rag.ChatRequest) rag.ChatRequest
}

type chatService struct {
	chatRepo    repository.ChatRepository
	kbRepo      repository.KnowledgeBaseRepository
	transformer RequestTransformer
	llmClient   llm.StreamClient
}

func NewChatService(chatRepo repository.ChatRepository, kbRepo repository.KnowledgeBaseRepository, transformer RequestTransformer, llmClient llm.StreamClient) ChatService {
	return &chatService{
		chatRepo:    chatRepo,
		kbRepo:      kbRepo,
		transformer: transformer,
		llmClient:   llmClient,
	}
}

func (s *chatService) CreateChat(ctx context.Context, userID uint, title string, kbIDs []string) (*model.Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrTitleRequired
	}

	seen := make(map[string]bool, len(kbIDs))
	chat := &model.Chat{ID: uuid.NewString(), UserID: userID, Title: title}
	for _, id := range kbIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		kb, err := s.kbRepo.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if kb.UserID != userID {
			return nil, apperr.ErrOwnershipViolation
		}
		chat.KnowledgeBases = append(chat.KnowledgeBases, model.ChatKnowledgeBase{ChatID: chat.ID, KnowledgeBaseID: id})
	}
	if err := s.chatRepo.Create(ctx, chat); err != nil {
		return nil, fmt.Errorf("创建对话失败: %w", err)
	}
	return chat, nil
}

func (s *chatService) ListChats(ctx context.Context, userID uint) ([]model.Chat, error) {
	return s.chatRepo.ListByUser(ctx, userID)
}

func (s *chatService) ownedChat(ctx context.Context, userID uint, chatID string) (*model.Chat, error) {
	chat, err := s.chatRepo.FindByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.UserID != userID {
		return nil, apperr.ErrOwnershipViolation
	}
	return chat, nil
}

func (s *chatService) DeleteChat(ctx context.Context, userID uint, chatID string) error {
	if _, err := s.ownedChat(ctx, userID, chatID); err != nil {
		return err
	}
	return s.chatRepo.Delete(ctx, chatID)
}

func (s *chatService) ListMessages(ctx context.Context, userID uint, chatID string) ([]model.Message, error) {
	if _, err := s.ownedChat(ctx, userID, chatID); err != nil {
		return nil, err
	}
	return s.chatRepo.ListMessages(ctx, chatID)
}

func (s *chatService) StreamAnswer(ctx context.Context, userID uint, chatID, content string, writer llm.ChunkWriter) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyMessage
	}
	if _, err := s.ownedChat(ctx, userID, chatID); err != nil {
		return "", err
	}

	history, err := s.chatRepo.ListMessages(ctx, chatID)
	if err != nil {
		return "", fmt.Errorf("加载历史消息失败: %w", err)
	}
	if err := s.chatRepo.AddMessage(ctx, &model.Message{ChatID: chatID, Role: model.RoleUser, Content: content}); err != nil {
		return "", fmt.Errorf("保存用户消息失败: %w", err)
	}

	messages := make([]model.ChatMessage, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, model.ChatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, model.ChatMessage{Role: model.RoleUser, Content: content})

	req := rag.ChatRequest{
		Messages: messages,
		Metadata: map[string]string{rag.MetadataChatID: chatID},
	}
	req = s.transformer.Transform(rag.WithUserID(ctx, userID), req)

	answer, err := s.llmClient.StreamChat(ctx, req.Messages, writer)
	if err != nil {
		return "", err
	}
	if answer != "" {
		// 即使连接已断开，也保存已生成的回答
		if err := s.chatRepo.AddMessage(context.WithoutCancel(ctx), &model.Message{ChatID: chatID, Role: model.RoleAssistant, Content: answer}); err != nil {
			log.Errorf("[ChatService] 保存助手消息失败, chatId: %s, error: %v", chatID, err)
		}
	}
	return answer, nil
}

// ChatKnowledgeResolver 返回对话关联的知识库，仅当对话属于 ctx 中的用户时。
type ChatKnowledgeResolver struct {
	chatRepo repository.ChatRepository
}

func NewChatKnowledgeResolver(chatRepo repository.ChatRepository) *ChatKnowledgeResolver {
	return &ChatKnowledgeResolver{chatRepo: chatRepo}
}

func (r *ChatKnowledgeResolver) KnowledgeBaseIDs(ctx context.Context, chatID string) ([]string, error) {
	userID, ok := rag.UserIDFromContext(ctx)
	if !ok {
		return nil, apperr.ErrUnauthorized
	}
	chat, err := r.chatRepo.FindByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.UserID != userID {
		return nil, apperr.ErrOwnershipViolation
	}
	return r.chatRepo.KnowledgeBaseIDs(ctx, chatID)
}
