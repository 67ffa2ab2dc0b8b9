package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"pai-kb-go/internal/apperr"
	"pai-kb-go/internal/model"
	"pai-kb-go/internal/repository"
	"pai-kb-go/pkg/log"
	"pai-kb-go/pkg/storage"
)

// KnowledgeService 提供知识库的查询、删除和原始文件下载。导入由 IngestionService 负责。
type KnowledgeService interface {
	ListKnowledgeBases(ctx context.Context, userID uint) ([]model.KnowledgeBaseDTO, error)
	DeleteKnowledgeBase(ctx context.Context, userID uint, kbID string) error
	// OpenFile 返回文件记录和内容，调用方负责关闭 reader。
	OpenFile(ctx context.Context, userID uint, path string) (*model.KnowledgeFile, io.ReadCloser, int64, error)
}

type knowledgeService struct {
	kbRepo  repository.KnowledgeBaseRepository
	chunks  repository.ChunkStore
	objects storage.ObjectStore
}

func NewKnowledgeService(kbRepo repository.KnowledgeBaseRepository, chunks repository.ChunkStore, objects storage.ObjectStore) KnowledgeService {
	return &knowledgeService{kbRepo: kbRepo, chunks: chunks, objects: objects}
}

func (s *knowledgeService) ListKnowledgeBases(ctx context.Context, userID uint) ([]model.KnowledgeBaseDTO, error) {
	kbs, err := s.kbRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	dtos := make([]model.KnowledgeBaseDTO, 0, len(kbs))
	for _, kb := range kbs {
		files := kb.Files
		if files == nil {
			files = []model.KnowledgeFile{}
		}
		dtos = append(dtos, model.KnowledgeBaseDTO{
			ID:        kb.ID,
			Title:     kb.Title,
			CreatedAt: model.LocalTime(kb.CreatedAt),
			Files:     files,
		})
	}
	return dtos, nil
}

// owned 加载知识库并校验归属。
func (s *knowledgeService) owned(ctx context.Context, userID uint, kbID string) (*model.KnowledgeBase, error) {
	kb, err := s.kbRepo.FindByID(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if kb.UserID != userID {
		return nil, apperr.ErrOwnershipViolation
	}
	return kb, nil
}

// DeleteKnowledgeBase 先删向量索引再删行，原始文件尽力删除。
func (s *knowledgeService) DeleteKnowledgeBase(ctx context.Context, userID uint, kbID string) error {
	kb, err := s.owned(ctx, userID, kbID)
	if err != nil {
		return err
	}
	if err := s.chunks.DeleteByKnowledgeBase(ctx, kb.ID); err != nil {
		return apperr.Storage("删除分块", err)
	}
	if err := s.kbRepo.Delete(ctx, kb.ID); err != nil {
		return apperr.Storage("删除知识库", err)
	}
	for _, f := range kb.Files {
		if err := s.objects.Remove(ctx, f.FilePath); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			log.Warnw("[Knowledge] 删除原始文件失败", "knowledgeBaseId", kb.ID, "path", f.FilePath, "error", err)
		}
	}
	log.Infow("[Knowledge] 知识库已删除", "knowledgeBaseId", kb.ID, "files", len(kb.Files))
	return nil
}

func (s *knowledgeService) OpenFile(ctx context.Context, userID uint, path string) (*model.KnowledgeFile, io.ReadCloser, int64, error) {
	file, err := s.kbRepo.FindFileByPath(ctx, path)
	if err != nil {
		return nil, nil, 0, err
	}
	// 不属于调用方的文件按不存在处理
	if _, err := s.owned(ctx, userID, file.KnowledgeBaseID); err != nil {
		if errors.Is(err, apperr.ErrOwnershipViolation) {
			return nil, nil, 0, apperr.ErrNotFound
		}
		return nil, nil, 0, err
	}
	rc, size, err := s.objects.Get(ctx, file.FilePath)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, nil, 0, apperr.ErrNotFound
	}
	if err != nil {
		return nil, nil, 0, fmt.Errorf("读取原始文件失败: %w", err)
	}
	return file, rc, size, nil
}
