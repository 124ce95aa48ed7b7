package models

import "time"

// AnnotationRecord keeps the last written training-format label per (project, image) and its author.
type AnnotationRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProjectID uint      `gorm:"uniqueIndex:idx_annotation_record;not null" json:"project_id"`
	ImageID   uint      `gorm:"uniqueIndex:idx_annotation_record;not null" json:"image_id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	Content   string    `gorm:"type:text" json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AnnotationRecord) TableName() string { return "annotation_records" }
