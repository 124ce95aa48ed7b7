package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pixlabel/backend/internal/models"
	"github.com/pixlabel/backend/internal/services"
	"github.com/pixlabel/backend/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

var startTime = time.Now()

// Gauges below are refreshed from the database on every scrape.
var (
	uptimeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pixlabel_uptime_seconds",
		Help: "Time since server start in seconds",
	})
	projectsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pixlabel_projects",
		Help: "Annotation projects by status",
	}, []string{"status"})
	projectImagesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pixlabel_project_images",
		Help: "Project image links by annotation status",
	}, []string{"status"})
	imagesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pixlabel_images",
		Help: "Hosted images that are not deleted",
	})
	exportJobsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pixlabel_export_jobs",
		Help: "Export jobs by status",
	}, []string{"status"})
	queueAsyncGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pixlabel_queue_async_enabled",
		Help: "Whether the Redis export queue is in use (1=yes, 0=no)",
	})
	dbConnectionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pixlabel_db_connections",
		Help: "Database connections by state",
	}, []string{"state"})
)

type statusCount struct {
	Status string
	Count  int64
}

type MetricsHandler struct {
	db       *gorm.DB
	promHTTP gin.HandlerFunc
}

func NewMetricsHandler(db *gorm.DB) *MetricsHandler {
	return &MetricsHandler{db: db, promHTTP: gin.WrapH(promhttp.Handler())}
}

// Metrics serves the Prometheus exposition.
// GET /metrics
func (h *MetricsHandler) Metrics(c *gin.Context) {
	h.refresh(c)
	h.promHTTP(c)
}

func (h *MetricsHandler) refresh(c *gin.Context) {
	uptimeGauge.Set(time.Since(startTime).Seconds())

	queueAsync := 0.0
	if q := services.GetTaskQueue(); q != nil && q.IsAsync() {
		queueAsync = 1
	}
	queueAsyncGauge.Set(queueAsync)

	if h.db == nil {
		return
	}
	db := h.db.WithContext(c.Request.Context())

	if sqlDB, err := db.DB(); err == nil {
		stats := sqlDB.Stats()
		dbConnectionsGauge.WithLabelValues("open").Set(float64(stats.OpenConnections))
		dbConnectionsGauge.WithLabelValues("in_use").Set(float64(stats.InUse))
		dbConnectionsGauge.WithLabelValues("idle").Set(float64(stats.Idle))
	}

	setByStatus(db, &models.AnnotationProject{}, projectsGauge)
	setByStatus(db, &models.ProjectImage{}, projectImagesGauge)
	setByStatus(db, &models.ExportJob{}, exportJobsGauge)

	var images int64
	if err := db.Model(&models.Image{}).Where("is_deleted = ?", false).Count(&images).Error; err == nil {
		imagesGauge.Set(float64(images))
	}
}

func setByStatus(db *gorm.DB, model interface{}, gauge *prometheus.GaugeVec) {
	var rows []statusCount
	if err := db.Model(model).Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		logger.Warn().Err(err).Msg("metrics: status count failed")
		return
	}
	gauge.Reset()
	for _, r := range rows {
		gauge.WithLabelValues(r.Status).Set(float64(r.Count))
	}
}
