package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/pixlabel/backend/internal/config"
	"github.com/pixlabel/backend/pkg/logger"
)

// Worker consumes export tasks from Redis.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor TaskProcessor
	wg        sync.WaitGroup
	running   bool
	mu        sync.Mutex
}

// NewWorker returns nil when Redis is disabled.
func NewWorker(cfg *config.RedisConfig, concurrency int) *Worker {
	if !cfg.Enabled {
		return nil
	}
	if concurrency <= 0 {
		concurrency = 2
	}

	server := asynq.NewServer(
		redisOpt(cfg),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				exportQueue: 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Warn().Err(err).Str("type", task.Type()).Msg("worker task failed")
			}),
		},
	)

	return &Worker{
		server: server,
		mux:    asynq.NewServeMux(),
	}
}

func (w *Worker) SetProcessor(processor TaskProcessor) {
	w.processor = processor
}

func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	w.mux.HandleFunc(TaskTypeExport, w.handleExportTask)

	w.running = true
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		logger.Info().Msg("export worker starting")
		if err := w.server.Run(w.mux); err != nil {
			logger.Error().Err(err).Msg("export worker stopped")
		}
	}()
	return nil
}

func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	logger.Info().Msg("export worker shutting down")
	w.server.Shutdown()
	w.running = false
	w.wg.Wait()
}

func (w *Worker) handleExportTask(ctx context.Context, t *asynq.Task) error {
	var task ExportTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		// malformed payloads will never succeed
		return fmt.Errorf("decode export task: %v: %w", err, asynq.SkipRetry)
	}

	if w.processor == nil {
		logger.Warn().Uint("job_id", task.JobID).Msg("no export processor set")
		return nil
	}

	logger.Info().Uint("job_id", task.JobID).Msg("processing export task")
	return w.processor(ctx, &task)
}
