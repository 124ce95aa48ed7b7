package services

import (
	"context"
	"testing"
	"time"

	"github.com/pixlabel/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func addUpload(t *testing.T, db *gorm.DB, owner Caller, name string, size int64, at time.Time, deleted bool) {
	t.Helper()
	require.NoError(t, db.Create(&models.Image{
		UserID:      owner.UserID,
		Name:        name,
		MD5:         name,
		Path:        "images/" + name,
		URL:         "http://files.test/images/" + name,
		Size:        size,
		AccessCount: 3,
		IsDeleted:   deleted,
		CreatedAt:   at,
	}).Error)
}

func TestDashboard_AdminStats(t *testing.T) {
	db := newTestDB(t)
	svc := NewDashboardService(db)
	now := time.Date(2026, 10, 17, 15, 0, 0, 0, time.Local)

	admin := createUser(t, db, "admin", models.RoleAdmin)
	ann := createUser(t, db, "ann", models.RoleAnnotator)
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", admin.UserID).
		Update("created_at", now.AddDate(0, 0, -10)).Error)
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", ann.UserID).
		Update("created_at", now.Add(-time.Hour)).Error)

	addUpload(t, db, ann, "today.jpg", 1024, now.Add(-2*time.Hour), false)
	addUpload(t, db, ann, "yesterday.jpg", 2048, now.AddDate(0, 0, -1), false)
	addUpload(t, db, admin, "lastweek.jpg", 4096, now.AddDate(0, 0, -10), false)
	addUpload(t, db, ann, "old.jpg", 8192, now.AddDate(0, 0, -40), false)
	addUpload(t, db, ann, "gone.jpg", 1<<20, now.Add(-time.Hour), true)

	stats, err := svc.AdminStats(context.Background(), now)
	require.NoError(t, err)

	assert.EqualValues(t, 2, stats.TotalUsers)
	assert.EqualValues(t, 1, stats.NewUsersToday)
	assert.EqualValues(t, 4, stats.TotalImages, "tombstoned images are excluded")
	assert.EqualValues(t, 1, stats.UploadedToday)
	assert.EqualValues(t, 1024+2048+4096+8192, stats.TotalStorage)
	assert.Equal(t, "15 KiB", stats.TotalStorageHuman)

	require.Len(t, stats.MonthStats, 30)
	require.Len(t, stats.WeekStats, 7)
	assert.Equal(t, "2026-10-17", stats.WeekStats[6].Date)
	assert.EqualValues(t, 1, stats.WeekStats[6].Count)
	assert.EqualValues(t, 1, stats.WeekStats[5].Count)
	assert.Equal(t, "2026-09-18", stats.MonthStats[0].Date)

	var month int64
	for _, d := range stats.MonthStats {
		month += d.Count
	}
	assert.EqualValues(t, 3, month, "the 40 day old upload is outside the window")
}

func TestDashboard_UserStatsOwnImagesOnly(t *testing.T) {
	db := newTestDB(t)
	svc := NewDashboardService(db)
	now := time.Now()

	me := createUser(t, db, "me", models.RoleAnnotator)
	other := createUser(t, db, "other", models.RoleAnnotator)
	addUpload(t, db, me, "a.jpg", 100, now, false)
	addUpload(t, db, me, "b.jpg", 200, now.AddDate(0, 0, -3), false)
	addUpload(t, db, me, "c.jpg", 400, now, true)
	addUpload(t, db, other, "d.jpg", 800, now, false)

	stats, err := svc.UserStats(context.Background(), me, now)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalImages)
	assert.EqualValues(t, 300, stats.TotalStorage)
	assert.EqualValues(t, 6, stats.TotalAccess)
	assert.EqualValues(t, 1, stats.UploadedToday)

	empty, err := svc.UserStats(context.Background(), createUser(t, db, "new", models.RoleAnnotator), now)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalImages)
	assert.Zero(t, empty.TotalStorage)
}
