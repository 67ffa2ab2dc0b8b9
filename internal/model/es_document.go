package model

// EsChunkDocument 定义了存储在 Elasticsearch 中的分块文档结构。
type EsChunkDocument struct {
	ChunkID         string    `json:"chunk_id"`
	KnowledgeBaseID string    `json:"knowledge_base_id"`
	FileID          string    `json:"file_id"`
	ChunkIndex      int       `json:"chunk_index"`
	TextContent     string    `json:"text_content"`
	Vector          []float32 `json:"vector"`
	ModelVersion    string    `json:"model_version"`
}
