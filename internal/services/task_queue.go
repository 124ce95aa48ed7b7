package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/pixlabel/backend/internal/config"
	"github.com/pixlabel/backend/pkg/logger"
)

const (
	TaskTypeExport = "export:package"

	exportQueue   = "exports"
	exportTimeout = 30 * time.Minute
)

// ExportTask asks a worker to run one queued export job.
type ExportTask struct {
	JobID uint `json:"job_id"`
}

// TaskProcessor runs an export task.
type TaskProcessor func(context.Context, *ExportTask) error

// TaskQueue hands export tasks to whatever runs them.
type TaskQueue interface {
	Enqueue(task *ExportTask) error
	// IsAsync reports whether tasks leave the process (Redis) or run in a local goroutine.
	IsAsync() bool
	Close() error
}

var (
	globalTaskQueue TaskQueue
	taskQueueOnce   sync.Once
)

// InitTaskQueue picks the Redis queue when enabled and reachable, otherwise the in-process one.
func InitTaskQueue(cfg *config.Config) TaskQueue {
	taskQueueOnce.Do(func() {
		globalTaskQueue = NewTaskQueue(&cfg.Redis)
	})
	return globalTaskQueue
}

func NewTaskQueue(cfg *config.RedisConfig) TaskQueue {
	if !cfg.Enabled {
		logger.Info().Msg("export queue: in-process (redis disabled)")
		return NewSyncQueue()
	}
	queue, err := NewAsyncQueue(cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("export queue: redis unavailable, falling back to in-process")
		return NewSyncQueue()
	}
	logger.Info().Str("addr", cfg.Addr).Msg("export queue: redis")
	return queue
}

func GetTaskQueue() TaskQueue {
	return globalTaskQueue
}

func redisOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// AsyncQueue implements TaskQueue using asynq (Redis-based)
type AsyncQueue struct {
	client *asynq.Client
}

func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	opt := redisOpt(cfg)
	client := asynq.NewClient(opt)

	// verify the connection before committing to redis
	inspector := asynq.NewInspector(opt)
	defer inspector.Close()
	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

func (q *AsyncQueue) Enqueue(task *ExportTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	info, err := q.client.Enqueue(asynq.NewTask(TaskTypeExport, payload),
		asynq.Queue(exportQueue),
		asynq.MaxRetry(0), // a failed export is recorded on the job, the user resubmits
		asynq.Timeout(exportTimeout),
	)
	if err != nil {
		return err
	}

	logger.Info().Str("task_id", info.ID).Uint("job_id", task.JobID).Msg("export task enqueued")
	return nil
}

func (q *AsyncQueue) IsAsync() bool { return true }

func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue runs tasks in a background goroutine of this process.
type SyncQueue struct {
	mu        sync.RWMutex
	processor TaskProcessor
	wg        sync.WaitGroup
}

func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

func (q *SyncQueue) SetProcessor(processor TaskProcessor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processor = processor
}

// Enqueue starts the task without blocking the request that submitted it.
func (q *SyncQueue) Enqueue(task *ExportTask) error {
	q.mu.RLock()
	processor := q.processor
	q.mu.RUnlock()

	if processor == nil {
		logger.Warn().Uint("job_id", task.JobID).Msg("no export processor set, task dropped")
		return nil
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
		defer cancel()
		if err := processor(ctx, task); err != nil {
			logger.Warn().Err(err).Uint("job_id", task.JobID).Msg("export task failed")
		}
	}()
	return nil
}

func (q *SyncQueue) IsAsync() bool { return false }

// Close waits for running tasks.
func (q *SyncQueue) Close() error {
	q.wg.Wait()
	return nil
}
