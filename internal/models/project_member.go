package models

import "time"

// ProjectMember grants a user access to an annotation project.
// The creator never needs a row.
type ProjectMember struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProjectID uint      `gorm:"uniqueIndex:idx_project_member;not null" json:"project_id"`
	UserID    uint      `gorm:"uniqueIndex:idx_project_member;index;not null" json:"user_id"`
	User      *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Role      string    `gorm:"size:50;default:annotator" json:"role"` // annotator, admin
	CreatedAt time.Time `json:"created_at"`
}

func (ProjectMember) TableName() string { return "project_members" }
