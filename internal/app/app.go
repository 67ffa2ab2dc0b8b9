// Package app 根据配置组装各层组件，供 HTTP 服务和 kbctl 共用。
package app

import (
	"context"
	"fmt"
	"strings"

	"pai-kb-go/internal/config"
	"pai-kb-go/internal/model"
	"pai-kb-go/internal/pipeline"
	"pai-kb-go/internal/progress"
	"pai-kb-go/internal/rag"
	"pai-kb-go/internal/repository"
	"pai-kb-go/internal/service"
	"pai-kb-go/pkg/database"
	"pai-kb-go/pkg/embedding"
	"pai-kb-go/pkg/es"
	"pai-kb-go/pkg/kafka"
	"pai-kb-go/pkg/llm"
	"pai-kb-go/pkg/log"
	"pai-kb-go/pkg/retry"
	"pai-kb-go/pkg/storage"
	"pai-kb-go/pkg/token"

	"github.com/google/uuid"
)

// App 持有组装好的服务。
type App struct {
	Config     config.Config
	JWT        *token.JWTManager
	Users      service.UserService
	Ingestion  service.IngestionService
	Knowledge  service.KnowledgeService
	Chats      service.ChatService
	Chunks     repository.ChunkStore
	Embedder   embedding.Client
	Hub        *progress.Hub
	Relay      *kafka.ProgressRelay
	cancelRecv context.CancelFunc
}

// New 初始化数据库、存储和外部客户端，并完成依赖注入。
func New(cfg config.Config) (*App, error) {
	// 1. 关系型数据库
	database.InitMySQL(cfg.Database.MySQL.DSN)
	if err := database.DB.AutoMigrate(
		&model.User{},
		&model.KnowledgeBase{},
		&model.KnowledgeFile{},
		&model.KnowledgeChunk{},
		&model.Chat{},
		&model.ChatKnowledgeBase{},
		&model.Message{},
	); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}

	// 2. 向量后端
	chunks, err := newChunkStore(cfg)
	if err != nil {
		return nil, err
	}

	// 3. 对象存储
	objects, err := storage.InitMinIO(cfg.MinIO)
	if err != nil {
		return nil, fmt.Errorf("MinIO 初始化失败: %w", err)
	}

	// 4. 进度通道与任务状态
	hub := progress.NewHub(cfg.Progress.BufferSize)
	var (
		tasks     repository.TaskStateRepository
		blacklist repository.TokenBlacklist
	)
	if cfg.Database.Redis.Addr != "" {
		database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
		blacklist = repository.NewRedisTokenBlacklist(database.RDB)
	} else {
		blacklist = repository.NewMemoryTokenBlacklist()
	}
	switch cfg.Ingestion.TaskStore {
	case "redis":
		if database.RDB == nil {
			return nil, fmt.Errorf("ingestion.task_store=redis 需要配置 database.redis.addr")
		}
		tasks = repository.NewRedisTaskStateRepository(database.RDB, cfg.Ingestion.TaskTTL)
	default:
		tasks = repository.NewMemoryTaskStateRepository(cfg.Ingestion.TaskTTL, hub.Close)
	}

	a := &App{Config: cfg, Chunks: chunks, Hub: hub}
	var relay service.ProgressRelay
	if strings.TrimSpace(cfg.Kafka.Brokers) != "" {
		a.Relay = kafka.NewProgressRelay(cfg.Kafka, uuid.NewString())
		relay = a.Relay
	}

	// 5. 导入流水线
	kbRepo := repository.NewKnowledgeBaseRepository(database.DB)
	a.Embedder = embedding.NewClient(cfg.Embedding)
	batcher := pipeline.NewEmbeddingBatcher(a.Embedder, pipeline.BatcherOptions{
		BatchSize:      cfg.Embedding.BatchSize,
		MaxConcurrency: cfg.Embedding.MaxConcurrency,
		MaxAttempts:    cfg.Embedding.MaxAttempts,
		Backoff:        retry.Exponential(cfg.Embedding.RetryBaseDelay),
		Dimensions:     cfg.Embedding.Dimensions,
	})
	processor := pipeline.NewProcessor(
		pipeline.NewDocumentParser(),
		pipeline.NewChunker(cfg.Ingestion.ChunkSize),
		batcher,
		objects,
		chunks,
		kbRepo,
		cfg.Embedding.Model,
	)
	a.Ingestion = service.NewIngestionService(processor, kbRepo, tasks, hub, relay, service.IngestionOptions{
		MaxWorkers: cfg.Ingestion.MaxWorkers,
		CloseDelay: cfg.Progress.CloseDelay,
	})
	a.Knowledge = service.NewKnowledgeService(kbRepo, chunks, objects)

	// 6. 检索增强与对话
	classifierLLM, err := llm.NewCompleter(cfg.LLM, cfg.LLM.ClassifierModel)
	if err != nil {
		return nil, fmt.Errorf("分类模型初始化失败: %w", err)
	}
	answerLLM, err := llm.NewCompleter(cfg.LLM, cfg.LLM.Model)
	if err != nil {
		return nil, fmt.Errorf("对话模型初始化失败: %w", err)
	}
	chatRepo := repository.NewChatRepository(database.DB)
	ragMiddleware := rag.NewMiddleware(
		rag.NewQueryClassifier(classifierLLM),
		rag.NewHypotheticalAnswerGenerator(answerLLM),
		service.NewChatKnowledgeResolver(chatRepo),
		a.Embedder,
		chunks,
		cfg.RAG.TopK,
	)
	a.Chats = service.NewChatService(chatRepo, kbRepo, ragMiddleware, llm.NewStreamClient(cfg.LLM))

	// 7. 用户
	a.JWT = token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	a.Users = service.NewUserService(repository.NewUserRepository(database.DB), blacklist, a.JWT)

	return a, nil
}

func newChunkStore(cfg config.Config) (repository.ChunkStore, error) {
	switch cfg.Vector.Backend {
	case "pgvector":
		database.InitPostgres(cfg.Database.Postgres.DSN)
		return repository.NewPgChunkStore(database.PG)
	case "", "elasticsearch":
		if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
			return nil, fmt.Errorf("Elasticsearch 初始化失败: %w", err)
		}
		return repository.NewESChunkStore(database.DB, cfg.Elasticsearch.IndexName), nil
	}
	return nil, fmt.Errorf("未知的向量后端: %s", cfg.Vector.Backend)
}

// StartProgressReceiver 把其他实例转发来的进度投递到本地订阅者，未启用 Kafka 时什么也不做。
func (a *App) StartProgressReceiver() {
	if a.Relay == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancelRecv = cancel
	go func() {
		err := a.Relay.Consume(ctx, func(snap model.TaskSnapshot) {
			a.Hub.Publish(snap.TaskID, snap)
			if snap.IsCompleted {
				a.Hub.CloseAfter(snap.TaskID, a.Config.Progress.CloseDelay)
			}
		})
		if err != nil {
			log.Errorf("[Progress] Kafka 进度消费者退出: %v", err)
		}
	}()
}

// Close 等待导入任务结束并释放外部连接。
func (a *App) Close() {
	a.Ingestion.Wait()
	if a.cancelRecv != nil {
		a.cancelRecv()
	}
	if a.Relay != nil {
		if err := a.Relay.Close(); err != nil {
			log.Warnf("关闭 Kafka 生产者失败: %v", err)
		}
	}
}
