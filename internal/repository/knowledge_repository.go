package repository

import (
	"context"
	"errors"

	"pai-kb-go/internal/apperr"
	"pai-kb-go/internal/model"

	"gorm.io/gorm"
)

// KnowledgeBaseRepository 负责知识库及其文件记录的持久化。
type KnowledgeBaseRepository interface {
	Create(ctx context.Context, kb *model.KnowledgeBase) error
	FindByID(ctx context.Context, id string) (*model.KnowledgeBase, error)
	ListByUser(ctx context.Context, userID uint) ([]model.KnowledgeBase, error)
	// Delete 在一个事务里删除知识库、文件记录和分块文本，向量索引由 ChunkStore 单独清理。
	Delete(ctx context.Context, id string) error
	CreateFile(ctx context.Context, file *model.KnowledgeFile) error
	FindFileByPath(ctx context.Context, path string) (*model.KnowledgeFile, error)
}

type knowledgeBaseRepository struct {
	db *gorm.DB
}

func NewKnowledgeBaseRepository(db *gorm.DB) KnowledgeBaseRepository {
	return &knowledgeBaseRepository{db: db}
}

func (r *knowledgeBaseRepository) Create(ctx context.Context, kb *model.KnowledgeBase) error {
	return r.db.WithContext(ctx).Create(kb).Error
}

func (r *knowledgeBaseRepository) FindByID(ctx context.Context, id string) (*model.KnowledgeBase, error) {
	var kb model.KnowledgeBase
	err := r.db.WithContext(ctx).Preload("Files").Where("id = ?", id).First(&kb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &kb, nil
}

func (r *knowledgeBaseRepository) ListByUser(ctx context.Context, userID uint) ([]model.KnowledgeBase, error) {
	var kbs []model.KnowledgeBase
	err := r.db.WithContext(ctx).
		Preload("Files", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&kbs).Error
	return kbs, err
}

func (r *knowledgeBaseRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("knowledge_base_id = ?", id).Delete(&model.KnowledgeChunk{}).Error; err != nil {
			return err
		}
		if err := tx.Where("knowledge_base_id = ?", id).Delete(&model.KnowledgeFile{}).Error; err != nil {
			return err
		}
		if err := tx.Where("knowledge_base_id = ?", id).Delete(&model.ChatKnowledgeBase{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.KnowledgeBase{}).Error
	})
}

func (r *knowledgeBaseRepository) CreateFile(ctx context.Context, file *model.KnowledgeFile) error {
	return r.db.WithContext(ctx).Create(file).Error
}

func (r *knowledgeBaseRepository) FindFileByPath(ctx context.Context, path string) (*model.KnowledgeFile, error) {
	var file model.KnowledgeFile
	err := r.db.WithContext(ctx).Where("file_path = ?", path).First(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

