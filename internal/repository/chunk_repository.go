package repository

import (
	"context"
	"sort"

	"pai-kb-go/internal/model"
	"pai-kb-go/pkg/es"
	"pai-kb-go/pkg/log"

	"gorm.io/gorm"
)

// ChunkStore 持久化分块及其向量，并提供限定知识库范围的相似度检索。
type ChunkStore interface {
	SaveChunks(ctx context.Context, chunks []model.EmbeddedChunk) error
	DeleteByFile(ctx context.Context, fileID string) error
	DeleteByKnowledgeBase(ctx context.Context, kbID string) error
	// Search 返回距离最近的至多 k 条结果，按距离升序，距离相同时按分块 ID 升序。
	Search(ctx context.Context, kbIDs []string, vector []float32, k int) ([]model.ChunkHit, error)
}

// RankHits 对检索结果排序并截断到 k 条。
func RankHits(hits []model.ChunkHit, k int) []model.ChunkHit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	if k >= 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// esChunkStore 把分块文本存在 MySQL，向量索引到 Elasticsearch。
type esChunkStore struct {
	db        *gorm.DB
	indexName string
}

func NewESChunkStore(db *gorm.DB, indexName string) ChunkStore {
	return &esChunkStore{db: db, indexName: indexName}
}

func (s *esChunkStore) SaveChunks(ctx context.Context, chunks []model.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	rows := make([]model.KnowledgeChunk, 0, len(chunks))
	docs := make([]model.EsChunkDocument, 0, len(chunks))
	for _, c := range chunks {
		rows = append(rows, c.Chunk)
		docs = append(docs, model.EsChunkDocument{
			ChunkID:         c.Chunk.ID,
			KnowledgeBaseID: c.Chunk.KnowledgeBaseID,
			FileID:          c.Chunk.FileID,
			ChunkIndex:      c.Chunk.ChunkIndex,
			TextContent:     c.Chunk.Content,
			Vector:          c.Vector,
			ModelVersion:    c.Chunk.ModelVersion,
		})
	}
	if err := s.db.WithContext(ctx).CreateInBatches(rows, 100).Error; err != nil {
		return err
	}
	return es.BulkIndex(ctx, s.indexName, docs)
}

func (s *esChunkStore) DeleteByFile(ctx context.Context, fileID string) error {
	if err := es.DeleteByTerm(ctx, s.indexName, "file_id", fileID); err != nil {
		log.Warnf("[ChunkStore] 删除文件 %s 的向量失败: %v", fileID, err)
	}
	return s.db.WithContext(ctx).Where("file_id = ?", fileID).Delete(&model.KnowledgeChunk{}).Error
}

func (s *esChunkStore) DeleteByKnowledgeBase(ctx context.Context, kbID string) error {
	if err := es.DeleteByTerm(ctx, s.indexName, "knowledge_base_id", kbID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Where("knowledge_base_id = ?", kbID).Delete(&model.KnowledgeChunk{}).Error
}

func (s *esChunkStore) Search(ctx context.Context, kbIDs []string, vector []float32, k int) ([]model.ChunkHit, error) {
	if len(kbIDs) == 0 || k <= 0 {
		return []model.ChunkHit{}, nil
	}
	hits, err := es.KNNSearch(ctx, s.indexName, kbIDs, vector, k)
	if err != nil {
		return nil, err
	}
	return RankHits(hits, k), nil
}
