package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pixlabel/backend/internal/models"
	"github.com/pixlabel/backend/internal/services"
	"gorm.io/gorm"
)

// HealthHandler reports the state of the database and the export queue.
type HealthHandler struct {
	db *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// CheckHealth returns 503 when the database is unreachable.
// GET /health
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"
	code := http.StatusOK

	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
	} else if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		dbStatus = "error: " + err.Error()
	}
	if dbStatus != "ok" {
		overall = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	queueMode := "sync"
	if q := services.GetTaskQueue(); q != nil && q.IsAsync() {
		queueMode = "async (Redis)"
	}

	var runningExports int64
	h.db.WithContext(c.Request.Context()).Model(&models.ExportJob{}).
		Where("status IN ?", []string{models.ExportJobPending, models.ExportJobRunning}).
		Count(&runningExports)

	c.JSON(code, gin.H{
		"status":  overall,
		"service": "pixlabel",
		"components": gin.H{
			"database":       dbStatus,
			"queue_mode":     queueMode,
			"active_exports": runningExports,
			"sse_clients":    services.GetSSEHub().ClientCount(),
		},
	})
}
