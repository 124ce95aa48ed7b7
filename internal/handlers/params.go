package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pixlabel/backend/internal/services"
	"github.com/pixlabel/backend/pkg/response"
)

const maxUploadMemory = 32 << 20

var uploadFieldNames = []string{"files", "file", "images", "image"}

// paramID parses a numeric path parameter. It writes the 400 itself.
func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

// readUploads collects the files of a multipart request from the first populated field.
func readUploads(c *gin.Context) ([]services.UploadedFile, error) {
	if err := c.Request.ParseMultipartForm(maxUploadMemory); err != nil {
		return nil, response.NewBadRequest("failed to parse multipart form")
	}
	form := c.Request.MultipartForm

	var headers []*multipart.FileHeader
	for _, field := range uploadFieldNames {
		if f := form.File[field]; len(f) > 0 {
			headers = f
			break
		}
	}
	if len(headers) == 0 {
		return nil, response.NewBadRequest(fmt.Sprintf("no files uploaded, use one of the fields %v", uploadFieldNames))
	}

	files := make([]services.UploadedFile, 0, len(headers))
	for _, h := range headers {
		if h.Size > services.MaxImageSize {
			return nil, response.NewValidation(fmt.Sprintf("%s exceeds the upload limit", h.Filename))
		}
		data, err := readHeader(h)
		if err != nil {
			return nil, response.NewBadRequest("failed to read " + h.Filename)
		}
		files = append(files, services.UploadedFile{
			Name:        h.Filename,
			ContentType: h.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return files, nil
}

func readHeader(h *multipart.FileHeader) ([]byte, error) {
	src, err := h.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(io.LimitReader(src, services.MaxImageSize+1))
}
