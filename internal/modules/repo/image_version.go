package repo

import (
	"context"
	"errors"

	"github.com/draftdeck/draftdeck/internal/modules/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ImageVersionRepo interface {
	AddVersion(ctx context.Context, pageID uuid.UUID, imageKey string, prompt *string) (*model.ImageVersion, error)
	SwitchVersion(ctx context.Context, pageID, versionID uuid.UUID) (*model.ImageVersion, error)
	ListByPage(ctx context.Context, pageID uuid.UUID) ([]model.ImageVersion, error)
	GetCurrent(ctx context.Context, pageID uuid.UUID) (*model.ImageVersion, error)
}

type imageVersionRepo struct{ db *gorm.DB }

func NewImageVersionRepo(db *gorm.DB) ImageVersionRepo {
	return &imageVersionRepo{db: db}
}

// AddVersion appends the next version for a page and makes it current. The
// unset-then-set pair runs inside one transaction so readers never settle on
// zero or two current versions.
func (r *imageVersionRepo) AddVersion(ctx context.Context, pageID uuid.UUID, imageKey string, prompt *string) (*model.ImageVersion, error) {
	var created *model.ImageVersion
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var next int
		if err := tx.Model(&model.ImageVersion{}).
			Where("page_id = ?", pageID).
			Select("COALESCE(MAX(version_number), 0) + 1").
			Scan(&next).Error; err != nil {
			return err
		}

		if err := tx.Model(&model.ImageVersion{}).
			Where("page_id = ? AND is_current", pageID).
			Update("is_current", false).Error; err != nil {
			return err
		}

		v := &model.ImageVersion{
			PageID:        pageID,
			ImageKey:      imageKey,
			VersionNumber: next,
			IsCurrent:     true,
			Prompt:        prompt,
		}
		if err := tx.Create(v).Error; err != nil {
			return err
		}

		if err := tx.Model(&model.Page{}).
			Where("id = ?", pageID).
			Update("current_image_key", imageKey).Error; err != nil {
			return err
		}

		created = v
		return nil
	})
	return created, err
}

// SwitchVersion flips the current flag to an existing version of the page and
// points the page's current image reference at it.
func (r *imageVersionRepo) SwitchVersion(ctx context.Context, pageID, versionID uuid.UUID) (*model.ImageVersion, error) {
	var target model.ImageVersion
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND page_id = ?", versionID, pageID).First(&target).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if err := tx.Model(&model.ImageVersion{}).
			Where("page_id = ? AND is_current", pageID).
			Update("is_current", false).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.ImageVersion{}).
			Where("id = ?", versionID).
			Update("is_current", true).Error; err != nil {
			return err
		}

		target.IsCurrent = true
		return tx.Model(&model.Page{}).
			Where("id = ?", pageID).
			Update("current_image_key", target.ImageKey).Error
	})
	if err != nil {
		return nil, err
	}
	return &target, nil
}

func (r *imageVersionRepo) ListByPage(ctx context.Context, pageID uuid.UUID) ([]model.ImageVersion, error) {
	var versions []model.ImageVersion
	return versions, r.db.WithContext(ctx).
		Where("page_id = ?", pageID).
		Order("version_number DESC").
		Find(&versions).Error
}

func (r *imageVersionRepo) GetCurrent(ctx context.Context, pageID uuid.UUID) (*model.ImageVersion, error) {
	var v model.ImageVersion
	err := r.db.WithContext(ctx).
		Where("page_id = ? AND is_current", pageID).
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &v, err
}
