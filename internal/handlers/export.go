package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/pixlabel/backend/internal/middleware"
	"github.com/pixlabel/backend/internal/services"
	"github.com/pixlabel/backend/pkg/response"
)

type ExportHandler struct {
	exportService *services.ExportService
	jobService    *services.ExportJobService
}

func NewExportHandler(exports *services.ExportService, jobs *services.ExportJobService) *ExportHandler {
	return &ExportHandler{exportService: exports, jobService: jobs}
}

// Export packages the dataset within the request
// POST /api/annotation-projects/:id/export
func (h *ExportHandler) Export(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	result, err := h.exportService.Export(c.Request.Context(), middleware.GetCaller(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// SubmitJob queues an export and returns the job to poll
// POST /api/annotation-projects/:id/export-jobs
func (h *ExportHandler) SubmitJob(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	job, err := h.jobService.Submit(c.Request.Context(), middleware.GetCaller(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, job)
}

// ListJobs
// GET /api/annotation-projects/:id/export-jobs
func (h *ExportHandler) ListJobs(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	jobs, err := h.jobService.ListByProject(c.Request.Context(), middleware.GetCaller(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, jobs)
}

// GetJob
// GET /api/export-jobs/:id
func (h *ExportHandler) GetJob(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	job, err := h.jobService.Get(c.Request.Context(), middleware.GetCaller(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, job)
}
