package services

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pixlabel/backend/internal/models"
	"github.com/pixlabel/backend/pkg/logger"
	"github.com/pixlabel/backend/pkg/response"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AnnotationService struct {
	db     *gorm.DB
	access *ProjectAccess
}

func NewAnnotationService(db *gorm.DB, access *ProjectAccess) *AnnotationService {
	return &AnnotationService{db: db, access: access}
}

// SaveAnnotationRequest carries the editor's box list and the matching training-format text.
type SaveAnnotationRequest struct {
	AnnotationContent json.RawMessage `json:"annotation_content"`
	TrainingLabel     string          `json:"training_label"`
}

// Save replaces the annotation of one project image. Last write wins.
func (s *AnnotationService) Save(ctx context.Context, caller Caller, projectID, imageID uint, req *SaveAnnotationRequest) (*ProjectImageItem, error) {
	if _, err := s.access.RequireAccess(ctx, caller, projectID); err != nil {
		return nil, err
	}

	var content datatypes.JSON
	raw := bytes.TrimSpace(req.AnnotationContent)
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if !json.Valid(raw) {
			return nil, response.NewValidation("annotation_content is not valid JSON")
		}
		content = datatypes.JSON(raw)
	}

	// a blank label is stored as empty so status, export and the record agree
	label := req.TrainingLabel
	if strings.TrimSpace(label) == "" {
		label = ""
	}
	status := models.ImageStatusUnannotated
	if label != "" {
		status = models.ImageStatusAnnotated
	}

	var pi models.ProjectImage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("Image").Where("project_id = ? AND image_id = ?", projectID, imageID).First(&pi).Error; err != nil {
			return asNotFound(err, "image not in project", "failed to load project image")
		}

		now := time.Now()
		if err := tx.Model(&pi).Updates(map[string]interface{}{
			"annotation_content": content,
			"training_label":     label,
			"status":             status,
			"updated_at":         now,
		}).Error; err != nil {
			return err
		}

		record := models.AnnotationRecord{
			ProjectID: projectID,
			ImageID:   imageID,
			UserID:    caller.UserID,
			Content:   label,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "project_id"}, {Name: "image_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"content", "user_id", "updated_at"}),
		}).Create(&record).Error
	})
	if err != nil {
		return nil, asAppError(err, "failed to save annotation")
	}

	pi.AnnotationContent = content
	pi.TrainingLabel = label
	pi.Status = status

	logger.Info().
		Uint("project_id", projectID).
		Uint("image_id", imageID).
		Uint("user_id", caller.UserID).
		Str("status", status).
		Msg("annotation saved")

	item := toProjectImageItem(&pi)
	return &item, nil
}

// AnnotationBox is one labeled rectangle with its category resolved against the project.
type AnnotationBox struct {
	CategoryID    int64   `json:"category_id"`
	CategoryIndex int     `json:"category_index"`
	CategoryName  string  `json:"category_name"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	Width         float64 `json:"width"`
	Height        float64 `json:"height"`
	CenterX       float64 `json:"center_x"`
	CenterY       float64 `json:"center_y"`
}

type ImageAnnotations struct {
	ID          uint            `json:"id"`
	Name        string          `json:"name"`
	URL         string          `json:"url"`
	Annotations []AnnotationBox `json:"annotations"`
}

const unknownCategory = "unknown"

// List decodes every annotated image of the project into boxes.
// Images whose content is not a list and boxes missing numeric fields are skipped.
func (s *AnnotationService) List(ctx context.Context, caller Caller, projectID uint) ([]ImageAnnotations, error) {
	if _, err := s.access.RequireAccess(ctx, caller, projectID); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	categories, err := loadCategories(db, projectID)
	if err != nil {
		return nil, err
	}
	index := make(map[int64]int, len(categories))
	for i, c := range categories {
		index[int64(c.ID)] = i
	}

	var rows []models.ProjectImage
	if err := db.Preload("Image").Where("project_id = ?", projectID).Order("id").Find(&rows).Error; err != nil {
		return nil, response.NewSystemError("failed to load project images", err)
	}

	result := make([]ImageAnnotations, 0, len(rows))
	for _, pi := range rows {
		if len(bytes.TrimSpace(pi.AnnotationContent)) == 0 || pi.Image == nil {
			continue
		}

		var raw []map[string]interface{}
		if err := json.Unmarshal(pi.AnnotationContent, &raw); err != nil {
			logger.Warn().Err(err).Uint("project_id", projectID).Uint("image_id", pi.ImageID).
				Msg("annotation content is not a list, skipping image")
			continue
		}

		boxes := make([]AnnotationBox, 0, len(raw))
		for i, m := range raw {
			box, ok := decodeBox(m)
			if !ok {
				logger.Warn().Uint("project_id", projectID).Uint("image_id", pi.ImageID).Int("box", i).
					Msg("annotation box lacks numeric fields, skipping")
				continue
			}
			box.CategoryIndex = -1
			box.CategoryName = unknownCategory
			if idx, found := index[box.CategoryID]; found {
				box.CategoryIndex = idx
				box.CategoryName = categories[idx].Name
			}
			boxes = append(boxes, box)
		}

		result = append(result, ImageAnnotations{
			ID:          pi.Image.ID,
			Name:        pi.Image.Name,
			URL:         pi.Image.URL,
			Annotations: boxes,
		})
	}
	return result, nil
}

func decodeBox(m map[string]interface{}) (AnnotationBox, bool) {
	var box AnnotationBox
	var ok bool
	if box.X, ok = number(m, "x"); !ok {
		return box, false
	}
	if box.Y, ok = number(m, "y"); !ok {
		return box, false
	}
	if box.Width, ok = number(m, "width"); !ok {
		return box, false
	}
	if box.Height, ok = number(m, "height"); !ok {
		return box, false
	}
	cat, ok := number(m, "categoryId")
	if !ok {
		if cat, ok = number(m, "category_id"); !ok {
			return box, false
		}
	}
	box.CategoryID = int64(cat)
	box.CenterX = box.X + box.Width/2
	box.CenterY = box.Y + box.Height/2
	return box, true
}

func number(m map[string]interface{}, key string) (float64, bool) {
	v, ok := m[key].(float64)
	return v, ok
}
