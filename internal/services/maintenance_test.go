package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pixlabel/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepStaleStaging(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	stale := filepath.Join(dir, "export-111")
	fresh := filepath.Join(dir, "export-222")
	unrelated := filepath.Join(dir, "keep-me")
	for _, d := range []string{stale, fresh, unrelated} {
		require.NoError(t, os.MkdirAll(filepath.Join(d, "dataset"), 0755))
	}
	old := now.Add(-12 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.Chtimes(unrelated, old, old))

	m := NewMaintenanceScheduler(newTestDB(t), MaintenanceConfig{ExportTempDir: dir, StaleAfter: 6 * time.Hour})
	assert.Equal(t, 1, m.SweepStaleStaging(now))

	assert.NoDirExists(t, stale)
	assert.DirExists(t, fresh)
	assert.DirExists(t, unrelated)

	missing := NewMaintenanceScheduler(newTestDB(t), MaintenanceConfig{ExportTempDir: filepath.Join(dir, "nope")})
	assert.Zero(t, missing.SweepStaleStaging(now))
}

func TestCleanupLogs(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.SystemLog{Level: "info", Module: "export", CreatedAt: time.Now().AddDate(0, 0, -40)}).Error)
	require.NoError(t, db.Create(&models.SystemLog{Level: "info", Module: "export", CreatedAt: time.Now()}).Error)

	m := NewMaintenanceScheduler(db, MaintenanceConfig{LogRetentionDays: 30})
	assert.EqualValues(t, 1, m.CleanupLogs(context.Background()))

	var count int64
	db.Model(&models.SystemLog{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestTryLock_OneInstancePerSlot(t *testing.T) {
	db := newTestDB(t)
	a := NewMaintenanceScheduler(db, MaintenanceConfig{})
	b := NewMaintenanceScheduler(db, MaintenanceConfig{})

	assert.True(t, a.tryLock("staging_sweep", "2026101712", time.Hour))
	assert.False(t, b.tryLock("staging_sweep", "2026101712", time.Hour))
	assert.True(t, b.tryLock("staging_sweep", "2026101713", time.Hour))
	assert.True(t, b.tryLock("log_retention", "2026101712", time.Hour))

	// expired locks are cleared before claiming
	assert.True(t, a.tryLock("short", "k", -time.Minute))
	assert.True(t, b.tryLock("short", "k", time.Hour))
}

func TestMaintenance_SweepRunsOnEveryInstance(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	old := now.Add(-12 * time.Hour)

	var nodes []*MaintenanceScheduler
	var leftovers []string
	for i := 0; i < 2; i++ {
		dir := t.TempDir()
		stale := filepath.Join(dir, "export-crashed")
		require.NoError(t, os.MkdirAll(stale, 0755))
		require.NoError(t, os.Chtimes(stale, old, old))
		leftovers = append(leftovers, stale)
		nodes = append(nodes, NewMaintenanceScheduler(db, MaintenanceConfig{ExportTempDir: dir, StaleAfter: time.Hour}))
	}

	for _, n := range nodes {
		assert.Equal(t, 1, n.sweepLocal(now))
	}
	for _, dir := range leftovers {
		assert.NoDirExists(t, dir)
	}
}

func TestMaintenance_RetentionRunsOncePerDay(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.SystemLog{Level: "info", Module: "export", CreatedAt: time.Now().AddDate(0, 0, -40)}).Error)
	a := NewMaintenanceScheduler(db, MaintenanceConfig{LogRetentionDays: 30})
	b := NewMaintenanceScheduler(db, MaintenanceConfig{LogRetentionDays: 30})
	now := time.Now()

	deleted, ran := a.retainLogs(context.Background(), now)
	assert.True(t, ran)
	assert.EqualValues(t, 1, deleted)

	_, ran = b.retainLogs(context.Background(), now)
	assert.False(t, ran)
}
