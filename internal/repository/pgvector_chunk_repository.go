package repository

import (
	"context"

	"pai-kb-go/internal/model"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// pgChunkStore 使用 pgvector，文本与向量存在同一行，检索用余弦距离运算符 <=>。
type pgChunkStore struct {
	db *gorm.DB
}

// NewPgChunkStore 创建 pgvector 后端并迁移表结构。
func NewPgChunkStore(db *gorm.DB) (ChunkStore, error) {
	if err := db.AutoMigrate(&model.PgKnowledgeChunk{}); err != nil {
		return nil, err
	}
	return &pgChunkStore{db: db}, nil
}

func (s *pgChunkStore) SaveChunks(ctx context.Context, chunks []model.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	rows := make([]model.PgKnowledgeChunk, 0, len(chunks))
	for _, c := range chunks {
		rows = append(rows, model.PgKnowledgeChunk{
			ID:              c.Chunk.ID,
			KnowledgeBaseID: c.Chunk.KnowledgeBaseID,
			FileID:          c.Chunk.FileID,
			ChunkIndex:      c.Chunk.ChunkIndex,
			Content:         c.Chunk.Content,
			Embedding:       pgvector.NewVector(c.Vector),
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(rows, 100).Error
}

func (s *pgChunkStore) DeleteByFile(ctx context.Context, fileID string) error {
	return s.db.WithContext(ctx).Where("file_id = ?", fileID).Delete(&model.PgKnowledgeChunk{}).Error
}

func (s *pgChunkStore) DeleteByKnowledgeBase(ctx context.Context, kbID string) error {
	return s.db.WithContext(ctx).Where("knowledge_base_id = ?", kbID).Delete(&model.PgKnowledgeChunk{}).Error
}

func (s *pgChunkStore) Search(ctx context.Context, kbIDs []string, vector []float32, k int) ([]model.ChunkHit, error) {
	if len(kbIDs) == 0 || k <= 0 {
		return []model.ChunkHit{}, nil
	}
	var hits []model.ChunkHit
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, knowledge_base_id, content, embedding <=> ? AS distance
		 FROM knowledge_chunk_vectors
		 WHERE knowledge_base_id IN ?
		 ORDER BY distance ASC, id ASC
		 LIMIT ?`,
		pgvector.NewVector(vector), kbIDs, k,
	).Scan(&hits).Error
	if err != nil {
		return nil, err
	}
	return RankHits(hits, k), nil
}
