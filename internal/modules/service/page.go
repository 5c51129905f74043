package service

import (
	"context"
	"time"

	"github.com/draftdeck/draftdeck/internal/modules/model"
	"github.com/draftdeck/draftdeck/internal/modules/repo"
	"github.com/google/uuid"
)

// ImageVersionView is an ImageVersion plus a short-lived download URL.
type ImageVersionView struct {
	model.ImageVersion
	ImageURL string `json:"image_url,omitempty"`
}

type PageService interface {
	ListImageVersions(ctx context.Context, companyID, pageID uuid.UUID) ([]ImageVersionView, error)
	SwitchImageVersion(ctx context.Context, companyID, pageID, versionID uuid.UUID) (*ImageVersionView, error)
}

type pageService struct {
	docs   repo.DocumentRepo
	images repo.ImageVersionRepo
	blob   BlobStore
	expire func() time.Duration
}

func NewPageService(docs repo.DocumentRepo, images repo.ImageVersionRepo, blob BlobStore, expire func() time.Duration) PageService {
	return &pageService{docs: docs, images: images, blob: blob, expire: expire}
}

func (s *pageService) ListImageVersions(ctx context.Context, companyID, pageID uuid.UUID) ([]ImageVersionView, error) {
	if _, err := s.docs.GetOwnedPage(ctx, companyID, pageID); err != nil {
		return nil, err
	}
	versions, err := s.images.ListByPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	views := make([]ImageVersionView, len(versions))
	for i, v := range versions {
		views[i] = s.view(ctx, v)
	}
	return views, nil
}

func (s *pageService) SwitchImageVersion(ctx context.Context, companyID, pageID, versionID uuid.UUID) (*ImageVersionView, error) {
	if _, err := s.docs.GetOwnedPage(ctx, companyID, pageID); err != nil {
		return nil, err
	}
	v, err := s.images.SwitchVersion(ctx, pageID, versionID)
	if err != nil {
		return nil, err
	}
	view := s.view(ctx, *v)
	return &view, nil
}

// view attaches a presigned URL; a presign failure degrades to the bare row.
func (s *pageService) view(ctx context.Context, v model.ImageVersion) ImageVersionView {
	view := ImageVersionView{ImageVersion: v}
	if url, err := s.blob.PresignGet(ctx, v.ImageKey, s.expire()); err == nil {
		view.ImageURL = url
	}
	return view
}
