package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/pixlabel/backend/internal/middleware"
	"github.com/pixlabel/backend/internal/services"
	"github.com/pixlabel/backend/pkg/response"
)

type AnnotationProjectHandler struct {
	projectService    *services.AnnotationProjectService
	annotationService *services.AnnotationService
}

func NewAnnotationProjectHandler(projects *services.AnnotationProjectService, annotations *services.AnnotationService) *AnnotationProjectHandler {
	return &AnnotationProjectHandler{projectService: projects, annotationService: annotations}
}

// Create
// POST /api/annotation-projects
func (h *AnnotationProjectHandler) Create(c *gin.Context) {
	var req services.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	project, err := h.projectService.Create(c.Request.Context(), middleware.GetCaller(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, project)
}

// List returns the projects visible to the caller
// GET /api/annotation-projects
func (h *AnnotationProjectHandler) List(c *gin.Context) {
	var req services.ProjectListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.projectService.List(c.Request.Context(), middleware.GetCaller(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}

// GetByID
// GET /api/annotation-projects/:id
func (h *AnnotationProjectHandler) GetByID(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	detail, err := h.projectService.Get(c.Request.Context(), middleware.GetCaller(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, detail)
}

// Delete
// DELETE /api/annotation-projects/:id
func (h *AnnotationProjectHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.projectService.Delete(c.Request.Context(), middleware.GetCaller(c), id); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// AddImages links existing images
// POST /api/annotation-projects/:id/images
func (h *AnnotationProjectHandler) AddImages(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req services.IDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	added, err := h.projectService.AddImages(c.Request.Context(), middleware.GetCaller(c), id, req.IDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"added": added})
}

// Upload ingests files straight into the project
// POST /api/annotation-projects/:id/images/upload
func (h *AnnotationProjectHandler) Upload(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	files, err := readUploads(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp, err := h.projectService.Upload(c.Request.Context(), middleware.GetCaller(c), id, files)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, resp)
}

// AddMembers
// POST /api/annotation-projects/:id/members
func (h *AnnotationProjectHandler) AddMembers(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req services.IDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	added, err := h.projectService.AddMembers(c.Request.Context(), middleware.GetCaller(c), id, req.IDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"added": added})
}

// Complete
// POST /api/annotation-projects/:id/complete
func (h *AnnotationProjectHandler) Complete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	project, err := h.projectService.Complete(c.Request.Context(), middleware.GetCaller(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, project)
}

// ListImages
// GET /api/annotation-projects/:id/images
func (h *AnnotationProjectHandler) ListImages(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req services.ProjectImageListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.projectService.ListImages(c.Request.Context(), middleware.GetCaller(c), id, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}

// GetImage
// GET /api/annotation-projects/:id/images/:imageId
func (h *AnnotationProjectHandler) GetImage(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	imageID, ok := paramID(c, "imageId")
	if !ok {
		return
	}
	item, err := h.projectService.GetImage(c.Request.Context(), middleware.GetCaller(c), id, imageID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, item)
}

// SaveAnnotation
// PUT /api/annotation-projects/:id/images/:imageId/annotation
func (h *AnnotationProjectHandler) SaveAnnotation(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	imageID, ok := paramID(c, "imageId")
	if !ok {
		return
	}
	var req services.SaveAnnotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	item, err := h.annotationService.Save(c.Request.Context(), middleware.GetCaller(c), id, imageID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, item)
}

// ListAnnotations
// GET /api/annotation-projects/:id/annotations
func (h *AnnotationProjectHandler) ListAnnotations(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	list, err := h.annotationService.List(c.Request.Context(), middleware.GetCaller(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, list)
}
