package pipeline

import (
	"context"
	"fmt"
	"time"

	"pai-kb-go/internal/apperr"
	"pai-kb-go/pkg/embedding"
	"pai-kb-go/pkg/log"
	"pai-kb-go/pkg/retry"

	"golang.org/x/sync/errgroup"
)

// EmbeddedSegment 是一个分块及其向量。Index 是分块在文件中的序号。
type EmbeddedSegment struct {
	Index  int
	Text   string
	Vector []float32
}

// BatcherOptions 控制批大小、并发度与重试策略。
type BatcherOptions struct {
	BatchSize      int
	MaxConcurrency int
	MaxAttempts    int
	Backoff        retry.Backoff
	Dimensions     int // 0 表示不校验维度
}

// EmbeddingBatcher 分批并发调用向量化服务，结果按提交顺序重组。
type EmbeddingBatcher struct {
	client embedding.Client
	opts   BatcherOptions
}

func NewEmbeddingBatcher(client embedding.Client, opts BatcherOptions) *EmbeddingBatcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 4
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff == nil {
		opts.Backoff = retry.Exponential(500 * time.Millisecond)
	}
	return &EmbeddingBatcher{client: client, opts: opts}
}

// EmbedAll 返回与 segments 一一对应的向量，第 i 个结果一定是 segments[i] 的向量。
// 任一批次重试耗尽即返回 EmbeddingServiceError。
func (b *EmbeddingBatcher) EmbedAll(ctx context.Context, segments []string) ([]EmbeddedSegment, error) {
	if len(segments) == 0 {
		return []EmbeddedSegment{}, nil
	}

	numBatches := (len(segments) + b.opts.BatchSize - 1) / b.opts.BatchSize
	// 每个批次只写自己的槽位
	results := make([][][]float32, numBatches)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.MaxConcurrency)
	for i := 0; i < numBatches; i++ {
		batchIdx := i
		start := batchIdx * b.opts.BatchSize
		end := start + b.opts.BatchSize
		if end > len(segments) {
			end = len(segments)
		}
		batch := segments[start:end]

		g.Go(func() error {
			err := retry.Do(gctx, b.opts.MaxAttempts, b.opts.Backoff, func(ctx context.Context) error {
				vectors, err := b.client.CreateEmbeddings(ctx, batch)
				if err != nil {
					log.Warnf("[Batcher] 批次 %d 向量化失败: %v", batchIdx, err)
					return err
				}
				if err := b.validate(batch, vectors); err != nil {
					log.Warnf("[Batcher] 批次 %d 返回结果无效: %v", batchIdx, err)
					return err
				}
				results[batchIdx] = vectors
				return nil
			})
			if err != nil {
				return &apperr.EmbeddingServiceError{Batch: batchIdx, Attempts: b.opts.MaxAttempts, Err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]EmbeddedSegment, 0, len(segments))
	for batchIdx, vectors := range results {
		start := batchIdx * b.opts.BatchSize
		for j, v := range vectors {
			out = append(out, EmbeddedSegment{Index: start + j, Text: segments[start+j], Vector: v})
		}
	}
	return out, nil
}

func (b *EmbeddingBatcher) validate(batch []string, vectors [][]float32) error {
	if len(vectors) != len(batch) {
		return fmt.Errorf("vector count mismatch: want %d, got %d", len(batch), len(vectors))
	}
	if b.opts.Dimensions <= 0 {
		return nil
	}
	for i, v := range vectors {
		if len(v) != b.opts.Dimensions {
			return fmt.Errorf("vector %d dimension mismatch: want %d, got %d", i, b.opts.Dimensions, len(v))
		}
	}
	return nil
}
