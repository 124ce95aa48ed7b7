package models

import "time"

// Image is an uploaded file owned by its uploader. Deletion only sets IsDeleted.
type Image struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"index:idx_image_owner_md5;not null" json:"user_id"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	MD5         string    `gorm:"column:md5;size:32;index:idx_image_owner_md5;not null" json:"md5"`
	Path        string    `gorm:"size:500;not null" json:"path"` // object-store path
	URL         string    `gorm:"size:1000;not null" json:"url"`
	Size        int64     `json:"size"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	MimeType    string    `gorm:"size:100" json:"mime_type"`
	AccessCount int64     `gorm:"default:0" json:"access_count"`
	IsDeleted   bool      `gorm:"default:false;index" json:"-"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Image) TableName() string { return "images" }
