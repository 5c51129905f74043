package repo

import (
	"context"
	"errors"

	"github.com/draftdeck/draftdeck/internal/modules/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DocumentRepo interface {
	GetOwned(ctx context.Context, companyID, documentID uuid.UUID) (*model.Document, error)
	ListPages(ctx context.Context, documentID uuid.UUID) ([]model.Page, error)
	GetOwnedPage(ctx context.Context, companyID, pageID uuid.UUID) (*model.Page, error)
	ReplacePages(ctx context.Context, documentID uuid.UUID, pages []model.Page) error
	UpdatePageDescription(ctx context.Context, pageID uuid.UUID, description string) error
}

type documentRepo struct{ db *gorm.DB }

func NewDocumentRepo(db *gorm.DB) DocumentRepo {
	return &documentRepo{db: db}
}

func (r *documentRepo) GetOwned(ctx context.Context, companyID, documentID uuid.UUID) (*model.Document, error) {
	var d model.Document
	err := r.db.WithContext(ctx).
		Where("id = ? AND company_id = ?", documentID, companyID).
		First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &d, err
}

func (r *documentRepo) ListPages(ctx context.Context, documentID uuid.UUID) ([]model.Page, error) {
	var pages []model.Page
	return pages, r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("page_index ASC").
		Find(&pages).Error
}

func (r *documentRepo) GetOwnedPage(ctx context.Context, companyID, pageID uuid.UUID) (*model.Page, error) {
	var p model.Page
	err := r.db.WithContext(ctx).
		Joins("JOIN documents ON documents.id = pages.document_id").
		Where("pages.id = ? AND documents.company_id = ?", pageID, companyID).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &p, err
}

// ReplacePages swaps a document's full page list in one transaction, keeping
// the incoming order as page_index.
func (r *documentRepo) ReplacePages(ctx context.Context, documentID uuid.UUID, pages []model.Page) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&model.Page{}).Error; err != nil {
			return err
		}
		for i := range pages {
			pages[i].DocumentID = documentID
			pages[i].PageIndex = i
		}
		if len(pages) == 0 {
			return nil
		}
		return tx.Create(&pages).Error
	})
}

func (r *documentRepo) UpdatePageDescription(ctx context.Context, pageID uuid.UUID, description string) error {
	res := r.db.WithContext(ctx).Model(&model.Page{}).
		Where("id = ?", pageID).
		Update("description", description)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
