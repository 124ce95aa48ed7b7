package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pixlabel/backend/internal/middleware"
	"github.com/pixlabel/backend/internal/services"
	"github.com/pixlabel/backend/pkg/response"
)

type ImageHandler struct {
	imageService *services.ImageService
}

func NewImageHandler(imageService *services.ImageService) *ImageHandler {
	return &ImageHandler{imageService: imageService}
}

// Upload stores one or more images for the caller
// POST /api/images
func (h *ImageHandler) Upload(c *gin.Context) {
	files, err := readUploads(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	caller := middleware.GetCaller(c)
	results := make([]*services.IngestResult, 0, len(files))
	for _, f := range files {
		res, err := h.imageService.Ingest(c.Request.Context(), caller, f)
		if err != nil {
			response.Error(c, err)
			return
		}
		results = append(results, res)
	}
	response.Created(c, results)
}

// List returns the caller's images
// GET /api/images
func (h *ImageHandler) List(c *gin.Context) {
	var req services.ImageListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.imageService.List(c.Request.Context(), middleware.GetCaller(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}

// GetByID
// GET /api/images/:id
func (h *ImageHandler) GetByID(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	img, err := h.imageService.Get(c.Request.Context(), middleware.GetCaller(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, img)
}

// Delete tombstones the image
// DELETE /api/images/:id
func (h *ImageHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.imageService.Delete(c.Request.Context(), middleware.GetCaller(c), id); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Access is the public short link. It counts the view and redirects to the stored object.
// GET /i/:id
func (h *ImageHandler) Access(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	url, err := h.imageService.Access(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Redirect(http.StatusFound, url)
}

// ListAll returns images of every user
// GET /api/admin/images
func (h *ImageHandler) ListAll(c *gin.Context) {
	var req services.AdminImageListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	resp, err := h.imageService.ListAll(c.Request.Context(), middleware.GetCaller(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}

// AdminDelete tombstones any user's image
// DELETE /api/admin/images/:id
func (h *ImageHandler) AdminDelete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.imageService.AdminDelete(c.Request.Context(), middleware.GetCaller(c), id); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}
