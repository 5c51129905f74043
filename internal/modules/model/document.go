package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Document struct {
	ID        uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	CompanyID uuid.UUID         `gorm:"type:uuid;not null;index" json:"company_id"`
	UserID    uuid.UUID         `gorm:"type:uuid;not null;index" json:"user_id"`
	Title     string            `gorm:"type:text;not null" json:"title"`
	Configs   datatypes.JSONMap `gorm:"type:jsonb" swaggertype:"object" json:"configs"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// Document <-> Company
	Company *Company `gorm:"foreignKey:CompanyID;references:ID;constraint:OnDelete:CASCADE,OnUpdate:CASCADE;" json:"company"`

	// Document <-> Page
	Pages []Page `gorm:"constraint:OnDelete:CASCADE,OnUpdate:CASCADE;" json:"pages"`

	// Document <-> Task
	Tasks []Task `gorm:"constraint:OnDelete:CASCADE,OnUpdate:CASCADE;" json:"tasks"`
}

func (Document) TableName() string { return "documents" }
