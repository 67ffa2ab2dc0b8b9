package model

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// KnowledgeBase 对应 knowledge_bases 表，归属于某个用户。
type KnowledgeBase struct {
	ID        string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    uint            `gorm:"index;not null" json:"userId"`
	Title     string          `gorm:"type:varchar(255);not null" json:"title"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	Files     []KnowledgeFile `gorm:"foreignKey:KnowledgeBaseID;constraint:OnDelete:CASCADE" json:"files,omitempty"`
}

func (KnowledgeBase) TableName() string {
	return "knowledge_bases"
}

// KnowledgeFile 对应 knowledge_files 表。只有在文件内容成功解析、切块并向量化之后才会写入。
type KnowledgeFile struct {
	ID              string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	KnowledgeBaseID string    `gorm:"type:varchar(36);index;not null" json:"knowledgeBaseId"`
	FileName        string    `gorm:"type:varchar(255);not null" json:"fileName"`
	FilePath        string    `gorm:"type:varchar(512);not null" json:"filePath"` // MinIO 对象名
	FileSize        int64     `gorm:"not null" json:"fileSize"`
	MimeType        string    `gorm:"type:varchar(255)" json:"mimeType"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (KnowledgeFile) TableName() string {
	return "knowledge_files"
}

// KnowledgeChunk 对应 knowledge_chunks 表，保存分块文本；向量保存在向量后端中。
type KnowledgeChunk struct {
	ID              string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	KnowledgeBaseID string    `gorm:"type:varchar(36);index;not null" json:"knowledgeBaseId"`
	FileID          string    `gorm:"type:varchar(36);index;not null" json:"fileId"`
	ChunkIndex      int       `gorm:"not null" json:"chunkIndex"`
	Content         string    `gorm:"type:text;not null" json:"content"`
	ModelVersion    string    `gorm:"type:varchar(100)" json:"modelVersion"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (KnowledgeChunk) TableName() string {
	return "knowledge_chunks"
}

// PgKnowledgeChunk 是 pgvector 后端使用的行结构，向量与文本存在同一行。
type PgKnowledgeChunk struct {
	ID              string          `gorm:"type:varchar(36);primaryKey"`
	KnowledgeBaseID string          `gorm:"type:varchar(36);index;not null"`
	FileID          string          `gorm:"type:varchar(36);index;not null"`
	ChunkIndex      int             `gorm:"not null"`
	Content         string          `gorm:"type:text;not null"`
	Embedding       pgvector.Vector `gorm:"type:vector"`
	CreatedAt       time.Time       `gorm:"autoCreateTime"`
}

func (PgKnowledgeChunk) TableName() string {
	return "knowledge_chunk_vectors"
}

// ChunkHit 是相似度检索的一条结果，Distance 越小越相近。
type ChunkHit struct {
	ID              string  `json:"id"`
	KnowledgeBaseID string  `json:"knowledgeBaseId"`
	Content         string  `json:"content"`
	Distance        float64 `json:"distance"`
}

// KnowledgeBaseDTO 是返回给前端的知识库列表项。
type KnowledgeBaseDTO struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	CreatedAt LocalTime       `json:"createdAt"`
	Files     []KnowledgeFile `json:"files"`
}

// EmbeddedChunk 把分块与它的向量绑定在一起写入存储，避免两个独立切片之间的下标错位。
type EmbeddedChunk struct {
	Chunk  KnowledgeChunk
	Vector []float32
}
