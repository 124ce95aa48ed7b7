package models

import "time"

// AnnotationCategory is a label class within a project.
type AnnotationCategory struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProjectID uint      `gorm:"index;not null" json:"project_id"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Color     string    `gorm:"size:7" json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

func (AnnotationCategory) TableName() string { return "annotation_categories" }
