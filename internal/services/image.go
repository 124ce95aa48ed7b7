package services

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pixlabel/backend/internal/models"
	"github.com/pixlabel/backend/internal/storage"
	"github.com/pixlabel/backend/pkg/logger"
	"github.com/pixlabel/backend/pkg/response"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"gorm.io/gorm"
)

// MaxImageSize is the upload limit per file.
const MaxImageSize = 10 << 20

const imageDir = "images"

// UploadedFile is one file from a multipart upload.
type UploadedFile struct {
	Name        string
	ContentType string
	Data        []byte
}

type ImageService struct {
	db    *gorm.DB
	store storage.ObjectStore
}

func NewImageService(db *gorm.DB, store storage.ObjectStore) *ImageService {
	return &ImageService{db: db, store: store}
}

type IngestResult struct {
	Image     *models.Image `json:"image"`
	Duplicate bool          `json:"duplicate"`
}

// Ingest validates and stores an upload. Re-uploading bytes the caller already
// owns returns the existing image without writing anything.
func (s *ImageService) Ingest(ctx context.Context, caller Caller, file UploadedFile) (*IngestResult, error) {
	// the declared type decides, bytes are not sniffed
	contentType := strings.ToLower(strings.TrimSpace(file.ContentType))
	if !strings.HasPrefix(contentType, "image/") {
		imageIngestTotal.WithLabelValues("rejected").Inc()
		return nil, response.NewValidation("only image files can be uploaded")
	}
	if len(file.Data) > MaxImageSize {
		imageIngestTotal.WithLabelValues("rejected").Inc()
		return nil, response.NewValidation(fmt.Sprintf("image is %s, the limit is %s",
			humanize.IBytes(uint64(len(file.Data))), humanize.IBytes(MaxImageSize)))
	}

	sum := md5.Sum(file.Data)
	digest := hex.EncodeToString(sum[:])

	var existing models.Image
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND md5 = ? AND is_deleted = ?", caller.UserID, digest, false).
		First(&existing).Error
	if err == nil {
		imageIngestTotal.WithLabelValues("duplicate").Inc()
		logger.Info().Uint("image_id", existing.ID).Uint("user_id", caller.UserID).Msg("duplicate upload, reusing image")
		return &IngestResult{Image: &existing, Duplicate: true}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		imageIngestTotal.WithLabelValues("failed").Inc()
		return nil, response.NewSystemError("failed to check for duplicate image", err)
	}

	width, height := decodeDimensions(file.Data)

	objectPath, err := s.store.Put(ctx, bytes.NewReader(file.Data), int64(len(file.Data)), imageDir, file.Name, contentType)
	if err != nil {
		imageIngestTotal.WithLabelValues("failed").Inc()
		return nil, response.NewSystemError("failed to store image", err)
	}

	name := file.Name
	if name == "" {
		name = "unnamed"
	}
	img := &models.Image{
		UserID:   caller.UserID,
		Name:     name,
		MD5:      digest,
		Path:     objectPath,
		URL:      s.store.URLFor(objectPath),
		Size:     int64(len(file.Data)),
		Width:    width,
		Height:   height,
		MimeType: contentType,
	}
	if err := s.db.WithContext(ctx).Create(img).Error; err != nil {
		imageIngestTotal.WithLabelValues("failed").Inc()
		if rmErr := s.store.Remove(ctx, objectPath); rmErr != nil {
			logger.Warn().Err(rmErr).Str("path", objectPath).Msg("failed to remove orphaned object")
		}
		return nil, response.NewSystemError("failed to save image", err)
	}

	imageIngestTotal.WithLabelValues("stored").Inc()
	logger.Info().
		Uint("image_id", img.ID).
		Uint("user_id", caller.UserID).
		Str("size", humanize.IBytes(uint64(img.Size))).
		Int("width", width).
		Int("height", height).
		Msg("image stored")
	return &IngestResult{Image: img}, nil
}

// decodeDimensions returns 0x0 for formats it cannot decode.
func decodeDimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

// Access counts a public view and returns where the image lives.
func (s *ImageService) Access(ctx context.Context, id uint) (string, error) {
	img, err := s.find(ctx, id)
	if err != nil {
		return "", err
	}
	if err := s.db.WithContext(ctx).Model(&models.Image{}).
		Where("id = ?", id).
		UpdateColumn("access_count", gorm.Expr("access_count + ?", 1)).Error; err != nil {
		return "", response.NewSystemError("failed to record image access", err)
	}
	return img.URL, nil
}

func (s *ImageService) find(ctx context.Context, id uint) (*models.Image, error) {
	var img models.Image
	if err := s.db.WithContext(ctx).Where("id = ? AND is_deleted = ?", id, false).First(&img).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("image not found")
		}
		return nil, response.NewSystemError("failed to load image", err)
	}
	return &img, nil
}

type ImageListRequest struct {
	Page     int    `form:"page"`
	PageSize int    `form:"page_size" binding:"max=100"`
	Keyword  string `form:"keyword"`
}

type ImageListResponse struct {
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Items    []models.Image `json:"items"`
}

// List returns the caller's own images, newest first.
func (s *ImageService) List(ctx context.Context, caller Caller, req *ImageListRequest) (*ImageListResponse, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&models.Image{}).
		Where("user_id = ? AND is_deleted = ?", caller.UserID, false)
	if req.Keyword != "" {
		query = query.Where("name LIKE ?", "%"+req.Keyword+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, response.NewSystemError("failed to count images", err)
	}

	var items []models.Image
	offset := (req.Page - 1) * req.PageSize
	if err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(req.PageSize).Find(&items).Error; err != nil {
		return nil, response.NewSystemError("failed to list images", err)
	}

	return &ImageListResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: items}, nil
}

// Get returns an image to its owner or an admin.
func (s *ImageService) Get(ctx context.Context, caller Caller, id uint) (*models.Image, error) {
	img, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if img.UserID != caller.UserID && !caller.IsAdmin() {
		return nil, response.NewForbidden("no access to this image")
	}
	return img, nil
}

// Delete tombstones an image. Stored bytes stay so project links keep working.
func (s *ImageService) Delete(ctx context.Context, caller Caller, id uint) error {
	img, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if img.UserID != caller.UserID {
		return response.NewForbidden("only the owner can delete this image")
	}
	if err := s.db.WithContext(ctx).Model(img).Update("is_deleted", true).Error; err != nil {
		return response.NewSystemError("failed to delete image", err)
	}
	return nil
}

type AdminImageListRequest struct {
	ImageListRequest
	UserID uint `form:"user_id"`
}

// ListAll is the admin view across every uploader. UserID narrows it to one account.
func (s *ImageService) ListAll(ctx context.Context, caller Caller, req *AdminImageListRequest) (*ImageListResponse, error) {
	if !caller.IsAdmin() {
		return nil, response.NewForbidden("admin access required")
	}
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&models.Image{}).Where("is_deleted = ?", false)
	if req.UserID != 0 {
		query = query.Where("user_id = ?", req.UserID)
	}
	if req.Keyword != "" {
		query = query.Where("name LIKE ?", "%"+req.Keyword+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, response.NewSystemError("failed to count images", err)
	}
	var items []models.Image
	offset := (req.Page - 1) * req.PageSize
	if err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(req.PageSize).Find(&items).Error; err != nil {
		return nil, response.NewSystemError("failed to list images", err)
	}
	return &ImageListResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: items}, nil
}

// AdminDelete tombstones any user's image, e.g. for moderation.
func (s *ImageService) AdminDelete(ctx context.Context, caller Caller, id uint) error {
	if !caller.IsAdmin() {
		return response.NewForbidden("admin access required")
	}
	img, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(img).Update("is_deleted", true).Error; err != nil {
		return response.NewSystemError("failed to delete image", err)
	}
	logger.Info().Uint("image_id", id).Uint("owner_id", img.UserID).Uint("by", caller.UserID).Msg("image removed by admin")
	return nil
}
