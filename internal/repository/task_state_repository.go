package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"pai-kb-go/internal/apperr"
	"pai-kb-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// TaskStateRepository 保存导入任务的进度。Update 是按任务原子的读-改-写。
type TaskStateRepository interface {
	Create(ctx context.Context, snap model.TaskSnapshot) error
	Update(ctx context.Context, taskID string, fn func(*model.TaskSnapshot)) (model.TaskSnapshot, error)
	Get(ctx context.Context, taskID string) (model.TaskSnapshot, error)
	Expire(ctx context.Context, taskID string) error
}

type taskEntry struct {
	mu    sync.Mutex
	snap  model.TaskSnapshot
	timer *time.Timer
}

// memoryTaskStateRepository 是进程内实现，任务完成后 ttl 到期自动删除。
type memoryTaskStateRepository struct {
	mu       sync.RWMutex
	tasks    map[string]*taskEntry
	ttl      time.Duration
	onExpire func(taskID string)
}

// NewMemoryTaskStateRepository 创建进程内的任务状态存储。onExpire 可为 nil。
func NewMemoryTaskStateRepository(ttl time.Duration, onExpire func(taskID string)) TaskStateRepository {
	return &memoryTaskStateRepository{
		tasks:    make(map[string]*taskEntry),
		ttl:      ttl,
		onExpire: onExpire,
	}
}

func (r *memoryTaskStateRepository) Create(_ context.Context, snap model.TaskSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if snap.Errors == nil {
		snap.Errors = []model.FileError{}
	}
	r.tasks[snap.TaskID] = &taskEntry{snap: snap.Clone()}
	return nil
}

func (r *memoryTaskStateRepository) entry(taskID string) (*taskEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tasks[taskID]
	return e, ok
}

func (r *memoryTaskStateRepository) Update(_ context.Context, taskID string, fn func(*model.TaskSnapshot)) (model.TaskSnapshot, error) {
	e, ok := r.entry(taskID)
	if !ok {
		return model.TaskSnapshot{}, apperr.ErrTaskNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	wasCompleted := e.snap.IsCompleted
	fn(&e.snap)
	if e.snap.IsCompleted && !wasCompleted && r.ttl > 0 {
		e.timer = time.AfterFunc(r.ttl, func() {
			_ = r.Expire(context.Background(), taskID)
		})
	}
	return e.snap.Clone(), nil
}

func (r *memoryTaskStateRepository) Get(_ context.Context, taskID string) (model.TaskSnapshot, error) {
	e, ok := r.entry(taskID)
	if !ok {
		return model.TaskSnapshot{}, apperr.ErrTaskNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap.Clone(), nil
}

func (r *memoryTaskStateRepository) Expire(_ context.Context, taskID string) error {
	r.mu.Lock()
	e, ok := r.tasks[taskID]
	delete(r.tasks, taskID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.mu.Unlock()
	if r.onExpire != nil {
		r.onExpire(taskID)
	}
	return nil
}

const (
	taskKeyPrefix = "ingestion:task:"
	// 未完成的任务也设置一个较长的过期时间，避免进程崩溃后留下永久的 key
	pendingTaskTTL  = 24 * time.Hour
	maxWatchRetries = 10
)

// redisTaskStateRepository 把任务快照以 JSON 存在 Redis，多实例共享。
type redisTaskStateRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTaskStateRepository(client *redis.Client, ttl time.Duration) TaskStateRepository {
	return &redisTaskStateRepository{client: client, ttl: ttl}
}

func taskKey(taskID string) string {
	return taskKeyPrefix + taskID
}

func (r *redisTaskStateRepository) Create(ctx context.Context, snap model.TaskSnapshot) error {
	if snap.Errors == nil {
		snap.Errors = []model.FileError{}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, taskKey(snap.TaskID), data, pendingTaskTTL).Err()
}

// Update 使用 WATCH/MULTI 乐观事务，冲突时重试。
func (r *redisTaskStateRepository) Update(ctx context.Context, taskID string, fn func(*model.TaskSnapshot)) (model.TaskSnapshot, error) {
	key := taskKey(taskID)
	var result model.TaskSnapshot

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return apperr.ErrTaskNotFound
		}
		if err != nil {
			return err
		}
		var snap model.TaskSnapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return err
		}
		fn(&snap)
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		ttl := pendingTaskTTL
		if snap.IsCompleted {
			ttl = r.ttl
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		if err == nil {
			result = snap
		}
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return result, err
	}
	return model.TaskSnapshot{}, errors.New("更新任务状态冲突次数过多")
}

func (r *redisTaskStateRepository) Get(ctx context.Context, taskID string) (model.TaskSnapshot, error) {
	var snap model.TaskSnapshot
	raw, err := r.client.Get(ctx, taskKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return snap, apperr.ErrTaskNotFound
	}
	if err != nil {
		return snap, err
	}
	err = json.Unmarshal(raw, &snap)
	return snap, err
}

func (r *redisTaskStateRepository) Expire(ctx context.Context, taskID string) error {
	return r.client.Del(ctx, taskKey(taskID)).Err()
}
