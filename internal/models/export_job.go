package models

import "time"

const (
	ExportJobPending   = "pending"
	ExportJobRunning   = "running"
	ExportJobCompleted = "completed"
	ExportJobFailed    = "failed"
)

// ExportJob tracks a queued dataset export.
type ExportJob struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	ProjectID   uint       `gorm:"index;not null" json:"project_id"`
	UserID      uint       `gorm:"index;not null" json:"user_id"`
	Role        string     `gorm:"size:50" json:"-"`
	Status      string     `gorm:"size:20;default:pending;index" json:"status"`
	URL         string     `gorm:"size:1000" json:"url"`
	ImageCount  int        `json:"image_count"`
	LabelCount  int        `json:"label_count"`
	FailedCount int        `json:"failed_count"`
	Size        int64      `json:"size"`
	Error       string     `gorm:"type:text" json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (ExportJob) TableName() string { return "export_jobs" }

func (j *ExportJob) IsFinished() bool {
	return j.Status == ExportJobCompleted || j.Status == ExportJobFailed
}
