package model

import (
	"time"

	"github.com/google/uuid"
)

// ModelCredential holds a company-scoped API credential for one AI model.
// Encryption at rest happens outside this service; the stored value is opaque.
type ModelCredential struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	CompanyID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:uq_company_model,priority:1" json:"company_id"`
	ModelID   string    `gorm:"type:text;not null;uniqueIndex:uq_company_model,priority:2" json:"model_id"`
	Provider  string    `gorm:"type:text;not null" json:"provider"`
	APIKey    string    `gorm:"column:api_key;type:text;not null" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// ModelCredential <-> Company
	Company *Company `gorm:"foreignKey:CompanyID;references:ID;constraint:OnDelete:CASCADE,OnUpdate:CASCADE;" json:"company"`
}

func (ModelCredential) TableName() string { return "model_credentials" }
