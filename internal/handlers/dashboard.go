package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pixlabel/backend/internal/middleware"
	"github.com/pixlabel/backend/internal/services"
	"github.com/pixlabel/backend/pkg/response"
)

type DashboardHandler struct {
	dashboardService *services.DashboardService
}

func NewDashboardHandler(dashboardService *services.DashboardService) *DashboardHandler {
	return &DashboardHandler{dashboardService: dashboardService}
}

// GetAdminStats returns platform totals and the 7/30 day upload series
// GET /api/admin/stats
func (h *DashboardHandler) GetAdminStats(c *gin.Context) {
	stats, err := h.dashboardService.AdminStats(c.Request.Context(), time.Now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stats)
}

// GetMyStats returns the caller's image totals
// GET /api/me/stats
func (h *DashboardHandler) GetMyStats(c *gin.Context) {
	stats, err := h.dashboardService.UserStats(c.Request.Context(), middleware.GetCaller(c), time.Now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stats)
}
