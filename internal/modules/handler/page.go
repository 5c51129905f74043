package handler

import (
	"errors"
	"net/http"

	"github.com/draftdeck/draftdeck/internal/modules/model"
	"github.com/draftdeck/draftdeck/internal/modules/repo"
	"github.com/draftdeck/draftdeck/internal/modules/serializer"
	"github.com/draftdeck/draftdeck/internal/modules/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type PageHandler struct {
	svc service.PageService
}

func NewPageHandler(s service.PageService) *PageHandler {
	return &PageHandler{svc: s}
}

// ListImageVersions godoc
//
//	@Summary		List image versions
//	@Description	List all image versions of a page, newest first
//	@Tags			page
//	@Accept			json
//	@Produce		json
//	@Param			page_id	path	string	true	"Page ID"	Format(uuid)
//	@Security		BearerAuth
//	@Success		200	{object}	serializer.Response{data=[]service.ImageVersionView}
//	@Router			/pages/{page_id}/image-versions [get]
func (h *PageHandler) ListImageVersions(c *gin.Context) {
	pageID, err := uuid.Parse(c.Param("page_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
		return
	}

	company, ok := c.MustGet("company").(*model.Company)
	if !ok {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", errors.New("company not found")))
		return
	}

	versions, err := h.svc.ListImageVersions(c.Request.Context(), company.ID, pageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			c.JSON(http.StatusNotFound, serializer.NotFoundErr("page not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, serializer.DBErr("", err))
		return
	}

	c.JSON(http.StatusOK, serializer.Response{Data: versions})
}

// SwitchImageVersion godoc
//
//	@Summary		Switch current image version
//	@Description	Make an existing image version the page's current image
//	@Tags			page
//	@Accept			json
//	@Produce		json
//	@Param			page_id		path	string	true	"Page ID"		Format(uuid)
//	@Param			version_id	path	string	true	"Version ID"	Format(uuid)
//	@Security		BearerAuth
//	@Success		200	{object}	serializer.Response{data=service.ImageVersionView}
//	@Router			/pages/{page_id}/image-versions/{version_id}/current [put]
func (h *PageHandler) SwitchImageVersion(c *gin.Context) {
	pageID, err := uuid.Parse(c.Param("page_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
		return
	}
	versionID, err := uuid.Parse(c.Param("version_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
		return
	}

	company, ok := c.MustGet("company").(*model.Company)
	if !ok {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", errors.New("company not found")))
		return
	}

	v, err := h.svc.SwitchImageVersion(c.Request.Context(), company.ID, pageID, versionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			c.JSON(http.StatusNotFound, serializer.NotFoundErr("page or version not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, serializer.DBErr("", err))
		return
	}

	c.JSON(http.StatusOK, serializer.Response{Data: v})
}
