package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/draftdeck/draftdeck/internal/modules/model"
	"github.com/draftdeck/draftdeck/internal/modules/repo"
	"github.com/draftdeck/draftdeck/internal/modules/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockPageService is a mock implementation of PageService
type MockPageService struct {
	mock.Mock
}

func (m *MockPageService) ListImageVersions(ctx context.Context, companyID, pageID uuid.UUID) ([]service.ImageVersionView, error) {
	args := m.Called(ctx, companyID, pageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]service.ImageVersionView), args.Error(1)
}

func (m *MockPageService) SwitchImageVersion(ctx context.Context, companyID, pageID, versionID uuid.UUID) (*service.ImageVersionView, error) {
	args := m.Called(ctx, companyID, pageID, versionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ImageVersionView), args.Error(1)
}

func setupPageRouter(svc service.PageService, companyID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewPageHandler(svc)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("company", &model.Company{ID: companyID})
		c.Next()
	})
	r.GET("/pages/:page_id/image-versions", h.ListImageVersions)
	r.PUT("/pages/:page_id/image-versions/:version_id/current", h.SwitchImageVersion)
	return r
}

func TestPageHandler_ListImageVersions(t *testing.T) {
	companyID, pageID := uuid.New(), uuid.New()

	t.Run("ok", func(t *testing.T) {
		mockService := &MockPageService{}
		mockService.On("ListImageVersions", mock.Anything, companyID, pageID).
			Return([]service.ImageVersionView{
				{ImageVersion: model.ImageVersion{PageID: pageID, VersionNumber: 1, IsCurrent: true}, ImageURL: "https://cdn/a"},
			}, nil)
		router := setupPageRouter(mockService, companyID)

		req := httptest.NewRequest(http.MethodGet, "/pages/"+pageID.String()+"/image-versions", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"image_url":"https://cdn/a"`)
	})

	t.Run("page not owned", func(t *testing.T) {
		mockService := &MockPageService{}
		mockService.On("ListImageVersions", mock.Anything, companyID, pageID).Return(nil, repo.ErrNotFound)
		router := setupPageRouter(mockService, companyID)

		req := httptest.NewRequest(http.MethodGet, "/pages/"+pageID.String()+"/image-versions", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestPageHandler_SwitchImageVersion(t *testing.T) {
	companyID, pageID, versionID := uuid.New(), uuid.New(), uuid.New()

	mockService := &MockPageService{}
	mockService.On("SwitchImageVersion", mock.Anything, companyID, pageID, versionID).
		Return(&service.ImageVersionView{
			ImageVersion: model.ImageVersion{ID: versionID, PageID: pageID, VersionNumber: 2, IsCurrent: true},
		}, nil)
	router := setupPageRouter(mockService, companyID)

	req := httptest.NewRequest(http.MethodPut, "/pages/"+pageID.String()+"/image-versions/"+versionID.String()+"/current", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"is_current":true`)
}
