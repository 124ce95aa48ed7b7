package services

import (
	"context"
	"errors"
	"time"

	"github.com/pixlabel/backend/internal/models"
	"github.com/pixlabel/backend/pkg/logger"
	"github.com/pixlabel/backend/pkg/response"
	"gorm.io/gorm"
)

// ExportJobService runs exports in the background and records their outcome.
type ExportJobService struct {
	db      *gorm.DB
	access  *ProjectAccess
	exports *ExportService
	queue   TaskQueue
}

func NewExportJobService(db *gorm.DB, access *ProjectAccess, exports *ExportService, queue TaskQueue) *ExportJobService {
	return &ExportJobService{db: db, access: access, exports: exports, queue: queue}
}

// Submit queues an export of the project as the caller.
func (s *ExportJobService) Submit(ctx context.Context, caller Caller, projectID uint) (*models.ExportJob, error) {
	if _, err := s.access.RequireManage(ctx, caller, projectID); err != nil {
		return nil, err
	}

	var images int64
	if err := s.db.WithContext(ctx).Model(&models.ProjectImage{}).Where("project_id = ?", projectID).Count(&images).Error; err != nil {
		return nil, response.NewSystemError("failed to count project images", err)
	}
	if images == 0 {
		return nil, response.NewPreconditionFailed("project has no images")
	}

	job := &models.ExportJob{
		ProjectID: projectID,
		UserID:    caller.UserID,
		Role:      caller.Role,
		Status:    models.ExportJobPending,
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, response.NewSystemError("failed to create export job", err)
	}
	publishJob(job)

	if err := s.queue.Enqueue(&ExportTask{JobID: job.ID}); err != nil {
		s.finish(context.WithoutCancel(ctx), job, nil, errors.New("could not queue export"))
		return nil, response.NewSystemError("failed to queue export", err)
	}

	logger.Info().Uint("job_id", job.ID).Uint("project_id", projectID).Bool("async", s.queue.IsAsync()).Msg("export job submitted")
	return job, nil
}

// Process is the TaskProcessor for export tasks. Export failures are stored on the job
// and not returned, so the queue does not retry them.
func (s *ExportJobService) Process(ctx context.Context, task *ExportTask) error {
	var job models.ExportJob
	if err := s.db.WithContext(ctx).First(&job, task.JobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Warn().Uint("job_id", task.JobID).Msg("export job vanished, skipping")
			return nil
		}
		return err
	}
	if job.IsFinished() {
		return nil
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&job).Updates(map[string]interface{}{
		"status":     models.ExportJobRunning,
		"started_at": now,
	}).Error; err != nil {
		return err
	}
	job.Status = models.ExportJobRunning
	publishJob(&job)

	result, err := s.exports.Export(ctx, Caller{UserID: job.UserID, Role: job.Role}, job.ProjectID)
	s.finish(context.WithoutCancel(ctx), &job, result, err)
	return nil
}

func (s *ExportJobService) finish(ctx context.Context, job *models.ExportJob, result *ExportResult, exportErr error) {
	now := time.Now()
	job.FinishedAt = &now
	if exportErr != nil {
		job.Status = models.ExportJobFailed
		job.Error = clientMessage(exportErr)
	} else {
		job.Status = models.ExportJobCompleted
		job.URL = result.URL
		job.ImageCount = result.ImageCount
		job.LabelCount = result.LabelCount
		job.FailedCount = result.FailedCount
		job.Size = result.Size
	}
	updates := map[string]interface{}{
		"finished_at":  now,
		"status":       job.Status,
		"error":        job.Error,
		"url":          job.URL,
		"image_count":  job.ImageCount,
		"label_count":  job.LabelCount,
		"failed_count": job.FailedCount,
		"size":         job.Size,
	}
	if err := s.db.WithContext(ctx).Model(job).Updates(updates).Error; err != nil {
		logger.Error().Err(err).Uint("job_id", job.ID).Msg("failed to record export job outcome")
	}
	publishJob(job)
}

func publishJob(job *models.ExportJob) {
	GetSSEHub().Publish(ExportEvent{
		JobID:     job.ID,
		ProjectID: job.ProjectID,
		UserID:    job.UserID,
		Status:    job.Status,
		URL:       job.URL,
		Error:     job.Error,
	})
}

// clientMessage is the part of an error that may be shown to users.
func clientMessage(err error) string {
	var appErr *response.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}

// Get returns a job to the user who submitted it or to an admin.
func (s *ExportJobService) Get(ctx context.Context, caller Caller, id uint) (*models.ExportJob, error) {
	var job models.ExportJob
	if err := s.db.WithContext(ctx).First(&job, id).Error; err != nil {
		return nil, asNotFound(err, "export job not found", "failed to load export job")
	}
	if job.UserID != caller.UserID && !caller.IsAdmin() {
		return nil, response.NewForbidden("no access to this export job")
	}
	return &job, nil
}

// ListByProject returns the project's recent export jobs, newest first.
func (s *ExportJobService) ListByProject(ctx context.Context, caller Caller, projectID uint) ([]models.ExportJob, error) {
	if _, err := s.access.RequireManage(ctx, caller, projectID); err != nil {
		return nil, err
	}
	var jobs []models.ExportJob
	if err := s.db.WithContext(ctx).Where("project_id = ?", projectID).
		Order("id DESC").Limit(50).Find(&jobs).Error; err != nil {
		return nil, response.NewSystemError("failed to list export jobs", err)
	}
	return jobs, nil
}
