package services

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pixlabel/backend/internal/models"
	"github.com/pixlabel/backend/pkg/response"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

const dayLayout = "2006-01-02"

type DashboardService struct {
	db *gorm.DB
}

func NewDashboardService(db *gorm.DB) *DashboardService {
	return &DashboardService{db: db}
}

// DailyCount is the number of images uploaded on one calendar day.
type DailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

type AdminStats struct {
	TotalUsers        int64        `json:"total_users"`
	NewUsersToday     int64        `json:"new_users_today"`
	TotalImages       int64        `json:"total_images"`
	UploadedToday     int64        `json:"uploaded_today"`
	TotalStorage      int64        `json:"total_storage"`
	TotalStorageHuman string       `json:"total_storage_human"`
	WeekStats         []DailyCount `json:"week_stats"`
	MonthStats        []DailyCount `json:"month_stats"`
}

type UserStats struct {
	TotalImages       int64  `json:"total_images"`
	TotalStorage      int64  `json:"total_storage"`
	TotalStorageHuman string `json:"total_storage_human"`
	TotalAccess       int64  `json:"total_access"`
	UploadedToday     int64  `json:"uploaded_today"`
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// AdminStats summarises users and hosted images. Tombstoned images are not counted.
func (s *DashboardService) AdminStats(ctx context.Context, now time.Time) (*AdminStats, error) {
	db := s.db.WithContext(ctx)
	today := startOfDay(now)
	stats := &AdminStats{}

	if err := db.Model(&models.User{}).Count(&stats.TotalUsers).Error; err != nil {
		return nil, response.NewSystemError("failed to count users", err)
	}
	if err := db.Model(&models.User{}).Where("created_at >= ?", today).Count(&stats.NewUsersToday).Error; err != nil {
		return nil, response.NewSystemError("failed to count users", err)
	}

	images := db.Model(&models.Image{}).Where("is_deleted = ?", false)
	if err := images.Session(&gorm.Session{}).Count(&stats.TotalImages).Error; err != nil {
		return nil, response.NewSystemError("failed to count images", err)
	}
	if err := images.Session(&gorm.Session{}).Where("created_at >= ?", today).Count(&stats.UploadedToday).Error; err != nil {
		return nil, response.NewSystemError("failed to count images", err)
	}
	if err := images.Session(&gorm.Session{}).Select("COALESCE(SUM(size), 0)").Scan(&stats.TotalStorage).Error; err != nil {
		return nil, response.NewSystemError("failed to sum storage", err)
	}
	stats.TotalStorageHuman = humanize.IBytes(uint64(stats.TotalStorage))

	month, err := s.dailyUploads(ctx, today, 30)
	if err != nil {
		return nil, err
	}
	stats.MonthStats = month
	stats.WeekStats = month[len(month)-7:]
	return stats, nil
}

// dailyUploads returns one entry per day for the last n days, today included, oldest first.
// Bucketing happens here so the query is the same on every database driver.
func (s *DashboardService) dailyUploads(ctx context.Context, today time.Time, n int) ([]DailyCount, error) {
	from := today.AddDate(0, 0, -(n - 1))

	var created []time.Time
	if err := s.db.WithContext(ctx).Model(&models.Image{}).
		Where("is_deleted = ? AND created_at >= ?", false, from).
		Pluck("created_at", &created).Error; err != nil {
		return nil, response.NewSystemError("failed to load upload history", err)
	}

	perDay := lo.CountValuesBy(created, func(t time.Time) string {
		return t.In(today.Location()).Format(dayLayout)
	})
	days := make([]DailyCount, n)
	for i := range days {
		date := from.AddDate(0, 0, i).Format(dayLayout)
		days[i] = DailyCount{Date: date, Count: int64(perDay[date])}
	}
	return days, nil
}

// UserStats covers the caller's own images only.
func (s *DashboardService) UserStats(ctx context.Context, caller Caller, now time.Time) (*UserStats, error) {
	images := s.db.WithContext(ctx).Model(&models.Image{}).
		Where("user_id = ? AND is_deleted = ?", caller.UserID, false)

	var totals struct {
		Images  int64
		Storage int64
		Access  int64
	}
	if err := images.Session(&gorm.Session{}).
		Select("COUNT(*) AS images, COALESCE(SUM(size), 0) AS storage, COALESCE(SUM(access_count), 0) AS access").
		Scan(&totals).Error; err != nil {
		return nil, response.NewSystemError("failed to load image stats", err)
	}

	stats := &UserStats{
		TotalImages:       totals.Images,
		TotalStorage:      totals.Storage,
		TotalStorageHuman: humanize.IBytes(uint64(totals.Storage)),
		TotalAccess:       totals.Access,
	}
	if err := images.Session(&gorm.Session{}).Where("created_at >= ?", startOfDay(now)).Count(&stats.UploadedToday).Error; err != nil {
		return nil, response.NewSystemError("failed to count images", err)
	}
	return stats, nil
}
