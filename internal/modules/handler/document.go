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

type DocumentHandler struct {
	svc service.DocumentService
}

func NewDocumentHandler(s service.DocumentService) *DocumentHandler {
	return &DocumentHandler{svc: s}
}

type UploadReferenceFileResp struct {
	FileKey string `json:"file_key"`
	SHA256  string `json:"sha256"`
	MIME    string `json:"mime"`
	SizeB   int64  `json:"size_b"`
}

// UploadReferenceFile godoc
//
//	@Summary		Upload reference file
//	@Description	Upload a source file to be parsed by a reference-file-parse task
//	@Tags			document
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			document_id	path		string	true	"Document ID"	Format(uuid)
//	@Param			file		formData	file	true	"Reference file"
//	@Security		BearerAuth
//	@Success		201	{object}	serializer.Response{data=UploadReferenceFileResp}
//	@Router			/documents/{document_id}/reference-files [post]
func (h *DocumentHandler) UploadReferenceFile(c *gin.Context) {
	documentID, err := uuid.Parse(c.Param("document_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("missing file", err))
		return
	}

	company, ok := c.MustGet("company").(*model.Company)
	if !ok {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", errors.New("company not found")))
		return
	}

	meta, err := h.svc.UploadReferenceFile(c.Request.Context(), company.ID, documentID, fh)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			c.JSON(http.StatusNotFound, serializer.NotFoundErr("document not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, serializer.Err(http.StatusInternalServerError, "upload failed", err))
		return
	}

	c.JSON(http.StatusCreated, serializer.Response{Data: UploadReferenceFileResp{
		FileKey: meta.Key,
		SHA256:  meta.SHA256,
		MIME:    meta.MIME,
		SizeB:   meta.SizeB,
	}})
}
