package model

import (
	"time"

	"github.com/google/uuid"
)

type Company struct {
	ID     uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name   string    `gorm:"type:text;not null" json:"name"`
	APIKey string    `gorm:"column:api_key;type:varchar(64);uniqueIndex;not null" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// Company <-> Document
	Documents []Document `gorm:"constraint:OnDelete:CASCADE,OnUpdate:CASCADE;" json:"documents"`

	// Company <-> ModelCredential
	Credentials []ModelCredential `gorm:"constraint:OnDelete:CASCADE,OnUpdate:CASCADE;" json:"credentials"`
}

func (Company) TableName() string { return "companies" }
