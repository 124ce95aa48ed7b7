package models

import "time"

const (
	ProjectStatusInProgress = "in_progress"
	ProjectStatusCompleted  = "completed"
)

// AnnotationProject groups images for labeling. Its children (members, images,
// categories, annotation records) are removed together with it.
type AnnotationProject struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:200;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	CreatorID   uint      `gorm:"index;not null" json:"creator_id"`
	Status      string    `gorm:"size:20;default:in_progress;index" json:"status"` // in_progress, completed
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (AnnotationProject) TableName() string { return "annotation_projects" }

func (p *AnnotationProject) IsCompleted() bool { return p.Status == ProjectStatusCompleted }
