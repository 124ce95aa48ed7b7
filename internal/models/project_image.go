package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ImageStatusUnannotated = "unannotated"
	ImageStatusAnnotated   = "annotated"
)

// ProjectImage links an image to a project and carries its current annotation.
// Status is annotated exactly when TrainingLabel is non-empty.
type ProjectImage struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	ProjectID         uint           `gorm:"uniqueIndex:idx_project_image;not null" json:"project_id"`
	ImageID           uint           `gorm:"uniqueIndex:idx_project_image;not null" json:"image_id"`
	Image             *Image         `gorm:"foreignKey:ImageID" json:"image,omitempty"`
	Status            string         `gorm:"size:20;default:unannotated;index" json:"status"`
	AnnotationContent datatypes.JSON `json:"annotation_content"`
	TrainingLabel     string         `gorm:"type:text" json:"training_label"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (ProjectImage) TableName() string { return "project_images" }

func (pi *ProjectImage) IsAnnotated() bool { return pi.Status == ImageStatusAnnotated }
