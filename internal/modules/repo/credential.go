package repo

import (
	"context"
	"errors"

	"github.com/draftdeck/draftdeck/internal/modules/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CredentialRepo interface {
	Resolve(ctx context.Context, companyID uuid.UUID, modelID string) (*model.ModelCredential, error)
}

type credentialRepo struct{ db *gorm.DB }

func NewCredentialRepo(db *gorm.DB) CredentialRepo {
	return &credentialRepo{db: db}
}

func (r *credentialRepo) Resolve(ctx context.Context, companyID uuid.UUID, modelID string) (*model.ModelCredential, error) {
	var c model.ModelCredential
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND model_id = ?", companyID, modelID).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &c, err
}
