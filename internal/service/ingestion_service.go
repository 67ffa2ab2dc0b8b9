package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"pai-kb-go/internal/model"
	"pai-kb-go/internal/pipeline"
	"pai-kb-go/internal/progress"
	"pai-kb-go/internal/repository"
	"pai-kb-go/pkg/log"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
)

// 导入请求校验失败
var (
	ErrTitleRequired = errors.New("知识库标题不能为空")
	ErrNoFiles       = errors.New("至少需要上传一个文件")
)

// FileProcessor 处理单个文件，pipeline.Processor 是其实现。
type FileProcessor interface {
	Process(ctx context.Context, kbID string, file pipeline.UploadedFile) (*model.KnowledgeFile, error)
}

// ProgressRelay 把进度快照转发给其他实例，可为空。
type ProgressRelay interface {
	Publish(ctx context.Context, snap model.TaskSnapshot) error
}

// IngestionService 负责创建知识库并异步导入文件。
type IngestionService interface {
	// StartIngestion 创建知识库并启动导入任务，立即返回。
	StartIngestion(ctx context.Context, userID uint, title string, files []pipeline.UploadedFile) (taskID, kbID string, err error)
	// StartTask 为已存在的知识库启动导入任务，立即返回。
	StartTask(ctx context.Context, kbID string, files []pipeline.UploadedFile) (string, error)
	GetProgress(ctx context.Context, taskID string) (model.TaskSnapshot, error)
	Subscribe(taskID string) *progress.Subscription
	Unsubscribe(sub *progress.Subscription)
	// Wait 阻塞直到所有已启动的任务结束，用于优雅退出。
	Wait()
}

// IngestionOptions 控制并发与通道关闭时机。
type IngestionOptions struct {
	MaxWorkers int
	CloseDelay time.Duration
}

type ingestionService struct {
	processor FileProcessor
	kbRepo    repository.KnowledgeBaseRepository
	tasks     repository.TaskStateRepository
	hub       *progress.Hub
	relay     ProgressRelay
	opts      IngestionOptions
	wg        sync.WaitGroup
}

func NewIngestionService(
	processor FileProcessor,
	kbRepo repository.KnowledgeBaseRepository,
	tasks repository.TaskStateRepository,
	hub *progress.Hub,
	relay ProgressRelay,
	opts IngestionOptions,
) IngestionService {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 8
	}
	if opts.CloseDelay <= 0 {
		opts.CloseDelay = 5 * time.Second
	}
	return &ingestionService{
		processor: processor,
		kbRepo:    kbRepo,
		tasks:     tasks,
		hub:       hub,
		relay:     relay,
		opts:      opts,
	}
}

func (s *ingestionService) StartIngestion(ctx context.Context, userID uint, title string, files []pipeline.UploadedFile) (string, string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", "", ErrTitleRequired
	}
	if len(files) == 0 {
		return "", "", ErrNoFiles
	}

	kb := &model.KnowledgeBase{ID: uuid.NewString(), UserID: userID, Title: title}
	if err := s.kbRepo.Create(ctx, kb); err != nil {
		return "", "", fmt.Errorf("创建知识库失败: %w", err)
	}
	taskID, err := s.StartTask(ctx, kb.ID, files)
	if err != nil {
		// 任务没有启动，刚创建的空知识库不保留
		if derr := s.kbRepo.Delete(context.WithoutCancel(ctx), kb.ID); derr != nil {
			log.Errorw("[Ingestion] 回滚知识库失败", "knowledgeBaseId", kb.ID, "error", derr)
		}
		return "", "", err
	}
	return taskID, kb.ID, nil
}

// taskRun 记录一个任务已发布的最新进度，用于丢弃乱序到达的旧快照。
type taskRun struct {
	mu            sync.Mutex
	lastProcessed int
	completed     bool
	relayQueue    chan model.TaskSnapshot
}

func (s *ingestionService) StartTask(ctx context.Context, kbID string, files []pipeline.UploadedFile) (string, error) {
	if len(files) == 0 {
		return "", ErrNoFiles
	}
	taskID := uuid.NewString()
	initial := model.TaskSnapshot{
		TaskID:          taskID,
		KnowledgeBaseID: kbID,
		Total:           len(files),
		Errors:          []model.FileError{},
	}
	if err := s.tasks.Create(ctx, initial); err != nil {
		return "", fmt.Errorf("创建任务状态失败: %w", err)
	}

	size := len(files)
	if size > s.opts.MaxWorkers {
		size = s.opts.MaxWorkers
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		_ = s.tasks.Expire(ctx, taskID)
		return "", fmt.Errorf("创建工作池失败: %w", err)
	}

	run := &taskRun{}
	if s.relay != nil {
		// 每个文件一条加上最终一条，队列不会写满
		run.relayQueue = make(chan model.TaskSnapshot, len(files)+1)
		go s.forwardToRelay(run.relayQueue)
	}

	log.Infow("[Ingestion] 任务已创建", "taskId", taskID, "knowledgeBaseId", kbID, "files", len(files), "workers", size)

	// 导入不随请求取消
	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer pool.Release()
		s.run(bg, taskID, kbID, files, pool, run)
	}()
	return taskID, nil
}

func (s *ingestionService) run(ctx context.Context, taskID, kbID string, files []pipeline.UploadedFile, pool *ants.Pool, run *taskRun) {
	var wg sync.WaitGroup
	for _, f := range files {
		file := f
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			s.processOne(ctx, taskID, kbID, file, run)
		})
		if err != nil {
			wg.Done()
			s.recordResult(ctx, taskID, file.Name, fmt.Errorf("提交任务失败: %w", err), run)
		}
	}
	wg.Wait()

	now := time.Now()
	snap, err := s.tasks.Update(ctx, taskID, func(t *model.TaskSnapshot) {
		t.Percentage = 100
		t.IsCompleted = true
		t.CompletedAt = &now
	})
	if err != nil {
		log.Errorw("[Ingestion] 更新任务完成状态失败", "taskId", taskID, "error", err)
		run.mu.Lock()
		if !run.completed && run.relayQueue != nil {
			close(run.relayQueue)
		}
		run.completed = true
		run.mu.Unlock()
		s.hub.Close(taskID)
		return
	}
	s.publish(snap, run)
	s.hub.CloseAfter(taskID, s.opts.CloseDelay)
	log.Infow("[Ingestion] 任务完成", "taskId", taskID, "total", snap.Total, "errors", len(snap.Errors))
}

func (s *ingestionService) processOne(ctx context.Context, taskID, kbID string, file pipeline.UploadedFile, run *taskRun) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("处理文件时发生 panic: %v", r)
			}
		}()
		_, err = s.processor.Process(ctx, kbID, file)
	}()
	if err != nil {
		log.Warnw("[Ingestion] 文件处理失败", "taskId", taskID, "file", file.Name, "error", err)
	}
	s.recordResult(ctx, taskID, file.Name, err, run)
}

// recordResult 原子地累加进度，并在失败时追加错误。
func (s *ingestionService) recordResult(ctx context.Context, taskID, fileName string, fileErr error, run *taskRun) {
	snap, err := s.tasks.Update(ctx, taskID, func(t *model.TaskSnapshot) {
		t.Processed++
		if fileErr != nil {
			t.Errors = append(t.Errors, model.FileError{FileName: fileName, Message: fileErr.Error()})
		}
		if p := Percentage(t.Processed, t.Total); p > t.Percentage {
			t.Percentage = p
		}
	})
	if err != nil {
		log.Errorw("[Ingestion] 更新任务进度失败", "taskId", taskID, "error", err)
		return
	}
	s.publish(snap, run)
}

// Percentage 计算完成前的进度百分比，最多 99，100 只在任务完成时设置。
func Percentage(processed, total int) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(float64(processed) / float64(total) * 100))
	if p > 99 {
		p = 99
	}
	return p
}

// publish 按进度顺序推送快照，比已推送的更旧的快照直接丢弃。
func (s *ingestionService) publish(snap model.TaskSnapshot, run *taskRun) {
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.completed {
		return
	}
	if !snap.IsCompleted && snap.Processed <= run.lastProcessed {
		return
	}
	run.lastProcessed = snap.Processed
	run.completed = snap.IsCompleted

	s.hub.Publish(snap.TaskID, snap)
	if run.relayQueue != nil {
		run.relayQueue <- snap
		if snap.IsCompleted {
			close(run.relayQueue)
		}
	}
}

func (s *ingestionService) forwardToRelay(queue <-chan model.TaskSnapshot) {
	for snap := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.relay.Publish(ctx, snap); err != nil {
			log.Warnw("[Ingestion] 转发进度到 Kafka 失败", "taskId", snap.TaskID, "error", err)
		}
		cancel()
	}
}

func (s *ingestionService) GetProgress(ctx context.Context, taskID string) (model.TaskSnapshot, error) {
	return s.tasks.Get(ctx, taskID)
}

func (s *ingestionService) Subscribe(taskID string) *progress.Subscription {
	return s.hub.Subscribe(taskID)
}

func (s *ingestionService) Unsubscribe(sub *progress.Subscription) {
	s.hub.Unsubscribe(sub)
}

func (s *ingestionService) Wait() {
	s.wg.Wait()
}
