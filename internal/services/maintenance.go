package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pixlabel/backend/internal/models"
	"github.com/pixlabel/backend/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MaintenanceConfig struct {
	ExportTempDir    string
	StaleAfter       time.Duration
	LogRetentionDays int
}

// MaintenanceScheduler runs housekeeping jobs. Jobs on shared tables claim a row in
// scheduler_locks so each slot runs on one instance only.
type MaintenanceScheduler struct {
	db       *gorm.DB
	logs     *SystemLogService
	cfg      MaintenanceConfig
	cron     *cron.Cron
	instance string
}

func NewMaintenanceScheduler(db *gorm.DB, cfg MaintenanceConfig) *MaintenanceScheduler {
	host, _ := os.Hostname()
	return &MaintenanceScheduler{
		db:       db,
		logs:     NewSystemLogService(db),
		cfg:      cfg,
		instance: host + "-" + uuid.NewString()[:8],
	}
}

func (m *MaintenanceScheduler) Start() error {
	m.cron = cron.New()

	if _, err := m.cron.AddFunc("@hourly", func() {
		m.sweepLocal(time.Now())
	}); err != nil {
		return err
	}

	if _, err := m.cron.AddFunc("30 3 * * *", func() {
		m.retainLogs(context.Background(), time.Now())
	}); err != nil {
		return err
	}

	m.cron.Start()
	logger.Info().Str("instance", m.instance).Msg("maintenance scheduler started")
	return nil
}

// sweepLocal runs on every instance without a lock: export staging lives on this node's disk.
func (m *MaintenanceScheduler) sweepLocal(now time.Time) int {
	return m.SweepStaleStaging(now)
}

// retainLogs trims the shared system_logs table once per day across all instances.
func (m *MaintenanceScheduler) retainLogs(ctx context.Context, now time.Time) (int64, bool) {
	if !m.tryLock("log_retention", now.Format("20060102"), 24*time.Hour) {
		return 0, false
	}
	return m.CleanupLogs(ctx), true
}

// Stop waits for running jobs.
func (m *MaintenanceScheduler) Stop() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
}

// SweepStaleStaging removes export workspaces left behind by crashed processes.
func (m *MaintenanceScheduler) SweepStaleStaging(now time.Time) int {
	entries, err := os.ReadDir(m.cfg.ExportTempDir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("dir", m.cfg.ExportTempDir).Msg("cannot read export temp dir")
		}
		return 0
	}

	prefix := strings.TrimSuffix(stagingPattern, "*")
	cutoff := now.Add(-m.cfg.StaleAfter)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(m.cfg.ExportTempDir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			logger.Warn().Err(err).Str("dir", path).Msg("failed to remove stale export workspace")
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info().Int("removed", removed).Msg("stale export workspaces removed")
	}
	return removed
}

func (m *MaintenanceScheduler) CleanupLogs(ctx context.Context) int64 {
	deleted, err := m.logs.CleanupOldLogs(ctx, m.cfg.LogRetentionDays)
	if err != nil {
		logger.Error().Err(err).Msg("system log cleanup failed")
		return 0
	}
	if deleted > 0 {
		logger.Info().Int64("deleted", deleted).Int("retention_days", m.cfg.LogRetentionDays).Msg("old system logs removed")
	}
	return deleted
}

// tryLock claims (job, slot). Expired claims are cleared first.
func (m *MaintenanceScheduler) tryLock(name, key string, ttl time.Duration) bool {
	now := time.Now()
	m.db.Where("job = ? AND expires_at < ?", name, now).Delete(&models.SchedulerLock{})

	lock := models.SchedulerLock{
		Job:        name,
		Slot:       key,
		Holder:     m.instance,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	result := m.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&lock)
	if result.Error != nil {
		logger.Warn().Err(result.Error).Str("lock", name).Msg("failed to acquire scheduler lock")
		return false
	}
	return result.RowsAffected == 1
}
