package model

import (
	"time"

	"github.com/google/uuid"
)

// ImageVersion is an immutable snapshot of a generated image for a page.
// At most one version per page has IsCurrent set.
type ImageVersion struct {
	ID            uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	PageID        uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:uq_page_version_number,priority:1" json:"page_id"`
	ImageKey      string    `gorm:"type:text;not null" json:"image_key"`
	VersionNumber int       `gorm:"not null;uniqueIndex:uq_page_version_number,priority:2" json:"version_number"`
	IsCurrent     bool      `gorm:"not null;default:false;index" json:"is_current"`
	Prompt        *string   `gorm:"type:text" json:"prompt,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// ImageVersion <-> Page
	Page *Page `gorm:"foreignKey:PageID;references:ID;constraint:OnDelete:CASCADE,OnUpdate:CASCADE;" json:"page"`
}

func (ImageVersion) TableName() string { return "image_versions" }
