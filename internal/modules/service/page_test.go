package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/draftdeck/draftdeck/internal/modules/model"
	"github.com/draftdeck/draftdeck/internal/modules/repo"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newTestPageService() (PageService, *MockDocumentRepo, *MockImageVersionRepo, *MockBlob) {
	docs := &MockDocumentRepo{}
	images := &MockImageVersionRepo{}
	blob := &MockBlob{}
	svc := NewPageService(docs, images, blob, func() time.Duration { return 15 * time.Minute })
	return svc, docs, images, blob
}

func TestListImageVersionsChecksOwnership(t *testing.T) {
	svc, docs, images, _ := newTestPageService()
	companyID, pageID := uuid.New(), uuid.New()

	docs.On("GetOwnedPage", mock.Anything, companyID, pageID).Return(nil, repo.ErrNotFound)

	_, err := svc.ListImageVersions(context.Background(), companyID, pageID)

	assert.ErrorIs(t, err, repo.ErrNotFound)
	images.AssertNotCalled(t, "ListByPage", mock.Anything, mock.Anything)
}

func TestListImageVersionsAttachesURLs(t *testing.T) {
	svc, docs, images, blob := newTestPageService()
	companyID, pageID := uuid.New(), uuid.New()

	docs.On("GetOwnedPage", mock.Anything, companyID, pageID).Return(&model.Page{ID: pageID}, nil)
	images.On("ListByPage", mock.Anything, pageID).Return([]model.ImageVersion{
		{PageID: pageID, ImageKey: "images/a", VersionNumber: 2, IsCurrent: true},
		{PageID: pageID, ImageKey: "images/b", VersionNumber: 1},
	}, nil)
	blob.On("PresignGet", mock.Anything, "images/a", 15*time.Minute).Return("https://cdn/a", nil)
	blob.On("PresignGet", mock.Anything, "images/b", 15*time.Minute).Return("", errors.New("presign down"))

	views, err := svc.ListImageVersions(context.Background(), companyID, pageID)

	assert.NoError(t, err)
	assert.Len(t, views, 2)
	assert.Equal(t, "https://cdn/a", views[0].ImageURL)
	// presign failure degrades to the bare row
	assert.Empty(t, views[1].ImageURL)
}

func TestSwitchImageVersion(t *testing.T) {
	svc, docs, images, blob := newTestPageService()
	companyID, pageID, versionID := uuid.New(), uuid.New(), uuid.New()

	docs.On("GetOwnedPage", mock.Anything, companyID, pageID).Return(&model.Page{ID: pageID}, nil)
	images.On("SwitchVersion", mock.Anything, pageID, versionID).
		Return(&model.ImageVersion{ID: versionID, PageID: pageID, ImageKey: "images/old", VersionNumber: 1, IsCurrent: true}, nil)
	blob.On("PresignGet", mock.Anything, "images/old", 15*time.Minute).Return("https://cdn/old", nil)

	v, err := svc.SwitchImageVersion(context.Background(), companyID, pageID, versionID)

	assert.NoError(t, err)
	assert.True(t, v.IsCurrent)
	assert.Equal(t, "https://cdn/old", v.ImageURL)
}

func TestSwitchImageVersionUnknownVersion(t *testing.T) {
	svc, docs, images, _ := newTestPageService()
	companyID, pageID, versionID := uuid.New(), uuid.New(), uuid.New()

	docs.On("GetOwnedPage", mock.Anything, companyID, pageID).Return(&model.Page{ID: pageID}, nil)
	images.On("SwitchVersion", mock.Anything, pageID, versionID).Return(nil, repo.ErrNotFound)

	_, err := svc.SwitchImageVersion(context.Background(), companyID, pageID, versionID)

	assert.ErrorIs(t, err, repo.ErrNotFound)
}
