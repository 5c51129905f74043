package model

import (
	"time"

	"github.com/google/uuid"
)

type Page struct {
	ID              uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	DocumentID      uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:uq_document_page_index,priority:1" json:"document_id"`
	PageIndex       int       `gorm:"not null;uniqueIndex:uq_document_page_index,priority:2" json:"page_index"`
	Title           string    `gorm:"type:text;not null" json:"title"`
	Description     string    `gorm:"type:text" json:"description"`
	CurrentImageKey *string   `gorm:"type:text" json:"current_image_key"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// Page <-> Document
	Document *Document `gorm:"foreignKey:DocumentID;references:ID;constraint:OnDelete:CASCADE,OnUpdate:CASCADE;" json:"document"`

	// Page <-> ImageVersion
	ImageVersions []ImageVersion `gorm:"constraint:OnDelete:CASCADE,OnUpdate:CASCADE;" json:"image_versions"`
}

func (Page) TableName() string { return "pages" }
