package service

import (
	"context"
	"mime/multipart"

	"github.com/draftdeck/draftdeck/internal/infra/blob"
	"github.com/draftdeck/draftdeck/internal/modules/repo"
	"github.com/google/uuid"
)

// ReferenceFileStore is the upload surface for user-provided reference files.
type ReferenceFileStore interface {
	UploadFormFile(ctx context.Context, keyPrefix string, fh *multipart.FileHeader) (*blob.UploadedMeta, error)
}

type DocumentService interface {
	UploadReferenceFile(ctx context.Context, companyID, documentID uuid.UUID, fh *multipart.FileHeader) (*blob.UploadedMeta, error)
}

type documentService struct {
	docs  repo.DocumentRepo
	files ReferenceFileStore
}

func NewDocumentService(docs repo.DocumentRepo, files ReferenceFileStore) DocumentService {
	return &documentService{docs: docs, files: files}
}

// UploadReferenceFile stores a source document the company wants parsed into
// an outline. The returned key is what a reference-file-parse task consumes.
func (s *documentService) UploadReferenceFile(ctx context.Context, companyID, documentID uuid.UUID, fh *multipart.FileHeader) (*blob.UploadedMeta, error) {
	if _, err := s.docs.GetOwned(ctx, companyID, documentID); err != nil {
		return nil, err
	}
	return s.files.UploadFormFile(ctx, "references/"+documentID.String(), fh)
}
