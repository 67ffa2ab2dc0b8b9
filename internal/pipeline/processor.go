// Package pipeline 定义了单个文件从解析到入库的处理流程。
package pipeline

import (
	"context"
	"errors"
	"path"
	"unicode/utf8"

	"pai-kb-go/internal/apperr"
	"pai-kb-go/internal/model"
	"pai-kb-go/internal/repository"
	"pai-kb-go/pkg/log"
	"pai-kb-go/pkg/storage"

	"github.com/google/uuid"
)

// UploadedFile 是一次导入请求中的单个文件。
type UploadedFile struct {
	Name     string
	MimeType string
	Data     []byte
}

// Processor 封装了单个文件的处理步骤：存原件、解析、切块、向量化、写分块、写文件记录。
type Processor struct {
	parser       *DocumentParser
	chunker      *Chunker
	batcher      *EmbeddingBatcher
	objects      storage.ObjectStore
	chunks       repository.ChunkStore
	kbRepo       repository.KnowledgeBaseRepository
	modelVersion string
}

func NewProcessor(
	parser *DocumentParser,
	chunker *Chunker,
	batcher *EmbeddingBatcher,
	objects storage.ObjectStore,
	chunks repository.ChunkStore,
	kbRepo repository.KnowledgeBaseRepository,
	modelVersion string,
) *Processor {
	return &Processor{
		parser:       parser,
		chunker:      chunker,
		batcher:      batcher,
		objects:      objects,
		chunks:       chunks,
		kbRepo:       kbRepo,
		modelVersion: modelVersion,
	}
}

// ObjectKey 返回原始文件在对象存储中的路径。
func ObjectKey(kbID, fileID, fileName string) string {
	return path.Join(kbID, fileID, path.Base(fileName))
}

// Process 处理一个文件。成功时返回已写入的文件记录；失败时返回文件级错误，且不留下文件记录和分块。
func (p *Processor) Process(ctx context.Context, kbID string, file UploadedFile) (*model.KnowledgeFile, error) {
	fileID := uuid.NewString()
	key := ObjectKey(kbID, fileID, file.Name)
	log.Infof("[Processor] 开始处理文件, kb: %s, file: %s, size: %d", kbID, file.Name, len(file.Data))

	if err := p.objects.Put(ctx, key, file.Data, file.MimeType); err != nil {
		return nil, apperr.Storage("保存原始文件", err)
	}
	stored := false
	defer func() {
		if !stored {
			if err := p.objects.Remove(context.Background(), key); err != nil {
				log.Warnf("[Processor] 清理原始文件失败, key: %s, error: %v", key, err)
			}
		}
	}()

	text, err := p.parser.Parse(file.Data, file.MimeType, file.Name)
	if err != nil {
		return nil, err
	}
	log.Debugf("[Processor] 文本提取完成, file: %s, 字符数: %d", file.Name, utf8.RuneCountInString(text))

	segments := p.chunker.Split(text)
	if len(segments) == 0 {
		return nil, &apperr.ParseError{FileName: file.Name, Err: errors.New("文件不包含可提取的文本")}
	}

	embedded, err := p.batcher.EmbedAll(ctx, segments)
	if err != nil {
		return nil, err
	}

	chunks := make([]model.EmbeddedChunk, 0, len(embedded))
	for _, seg := range embedded {
		chunks = append(chunks, model.EmbeddedChunk{
			Chunk: model.KnowledgeChunk{
				ID:              uuid.NewString(),
				KnowledgeBaseID: kbID,
				FileID:          fileID,
				ChunkIndex:      seg.Index,
				Content:         seg.Text,
				ModelVersion:    p.modelVersion,
			},
			Vector: seg.Vector,
		})
	}

	if err := p.chunks.SaveChunks(ctx, chunks); err != nil {
		p.cleanupChunks(fileID)
		return nil, apperr.Storage("保存分块", err)
	}

	record := &model.KnowledgeFile{
		ID:              fileID,
		KnowledgeBaseID: kbID,
		FileName:        file.Name,
		FilePath:        key,
		FileSize:        int64(len(file.Data)),
		MimeType:        file.MimeType,
	}
	if err := p.kbRepo.CreateFile(ctx, record); err != nil {
		p.cleanupChunks(fileID)
		return nil, apperr.Storage("保存文件记录", err)
	}
	stored = true

	log.Infof("[Processor] 文件处理完成, file: %s, 分块数: %d", file.Name, len(chunks))
	return record, nil
}

// cleanupChunks 尽力删除部分写入的分块，不影响原错误的返回。
func (p *Processor) cleanupChunks(fileID string) {
	if err := p.chunks.DeleteByFile(context.Background(), fileID); err != nil {
		log.Warnf("[Processor] 清理分块失败, fileId: %s, error: %v", fileID, err)
	}
}
