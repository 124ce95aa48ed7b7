package models

import "time"

// SchedulerLock is one claimed run of a maintenance job. Job+Slot is unique, so when several
// instances fire the same cron entry only the first insert wins.
type SchedulerLock struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Job        string    `gorm:"uniqueIndex:idx_scheduler_job_slot;size:100;not null" json:"job"`
	Slot       string    `gorm:"uniqueIndex:idx_scheduler_job_slot;size:100;not null" json:"slot"` // hour or day, e.g. 2026010215
	Holder     string    `gorm:"size:100" json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `gorm:"index" json:"expires_at"`
}

func (SchedulerLock) TableName() string { return "scheduler_locks" }
