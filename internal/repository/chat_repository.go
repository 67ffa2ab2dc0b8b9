package repository

import (
	"context"
	"errors"

	"pai-kb-go/internal/apperr"
	"pai-kb-go/internal/model"

	"gorm.io/gorm"
)

// ChatRepository 负责对话、对话与知识库的关联以及消息的持久化。
type ChatRepository interface {
	Create(ctx context.Context, chat *model.Chat) error
	// FindByID 只返回对话本身，不加载关联。
	FindByID(ctx context.Context, id string) (*model.Chat, error)
	// ListByUser 返回用户的对话，附带关联的知识库和按时间排列的消息。
	ListByUser(ctx context.Context, userID uint) ([]model.Chat, error)
	Delete(ctx context.Context, id string) error
	KnowledgeBaseIDs(ctx context.Context, chatID string) ([]string, error)
	AddMessage(ctx context.Context, msg *model.Message) error
	ListMessages(ctx context.Context, chatID string) ([]model.Message, error)
}

type chatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

// Create 同时写入 chat.KnowledgeBases 中的关联记录。
func (r *chatRepository) Create(ctx context.Context, chat *model.Chat) error {
	return r.db.WithContext(ctx).Create(chat).Error
}

func (r *chatRepository) FindByID(ctx context.Context, id string) (*model.Chat, error) {
	var chat model.Chat
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (r *chatRepository) ListByUser(ctx context.Context, userID uint) ([]model.Chat, error) {
	var chats []model.Chat
	err := r.db.WithContext(ctx).
		Preload("KnowledgeBases", func(db *gorm.DB) *gorm.DB { return db.Order("knowledge_base_id ASC") }).
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&chats).Error
	return chats, err
}

func (r *chatRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", id).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", id).Delete(&model.ChatKnowledgeBase{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.Chat{}).Error
	})
}

func (r *chatRepository) KnowledgeBaseIDs(ctx context.Context, chatID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.ChatKnowledgeBase{}).
		Where("chat_id = ?", chatID).
		Order("knowledge_base_id ASC").
		Pluck("knowledge_base_id", &ids).Error
	return ids, err
}

func (r *chatRepository) AddMessage(ctx context.Context, msg *model.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *chatRepository) ListMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("id ASC").Find(&msgs).Error
	return msgs, err
}
