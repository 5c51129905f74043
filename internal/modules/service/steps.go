package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/draftdeck/draftdeck/internal/infra/blob"
	"github.com/draftdeck/draftdeck/internal/modules/model"
	"github.com/draftdeck/draftdeck/internal/modules/repo"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// presignExpire bounds how long a worker can fetch a source image we hand it.
const presignExpire = 15 * time.Minute

func (s *taskService) execute(ctx context.Context, t *model.Task) (datatypes.JSONMap, error) {
	switch t.TaskType {
	case model.TaskTypeOutlineGenerate:
		return s.runOutline(ctx, t, "/generate/outline")
	case model.TaskTypeOutlineRefine:
		return s.runOutline(ctx, t, "/generate/refine-outline")
	case model.TaskTypeDescriptionsGenerate:
		return s.runDescriptions(ctx, t, "/generate/descriptions")
	case model.TaskTypeDescriptionsRefine:
		return s.runDescriptions(ctx, t, "/generate/refine-descriptions")
	case model.TaskTypeImagesGenerate:
		return s.runBulkImages(ctx, t)
	case model.TaskTypeImageGenerateSingle:
		return s.runSingleImage(ctx, t, false)
	case model.TaskTypeImageEdit:
		return s.runSingleImage(ctx, t, true)
	case model.TaskTypeExportPPTX:
		return s.runExport(ctx, t, "pptx")
	case model.TaskTypeExportPDF:
		return s.runExport(ctx, t, "pdf")
	case model.TaskTypeExportEditablePPTX:
		return s.runExport(ctx, t, "editable-pptx")
	case model.TaskTypeReferenceFileParse:
		return s.runReferenceParse(ctx, t)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidTaskType, t.TaskType)
	}
}

func (s *taskService) defaultTimeout() time.Duration {
	return time.Duration(s.cfg.Worker.TimeoutMs) * time.Millisecond
}

// pageEnvelope is the page shape sent to the worker.
type pageEnvelope struct {
	ID          uuid.UUID `json:"id"`
	PageIndex   int       `json:"page_index"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
}

func toPageEnvelopes(pages []model.Page) []pageEnvelope {
	out := make([]pageEnvelope, len(pages))
	for i, p := range pages {
		out[i] = pageEnvelope{ID: p.ID, PageIndex: p.PageIndex, Title: p.Title, Description: p.Description}
	}
	return out
}

// modelBlock resolves the credential configured on the document, if any. A
// configured model without a stored credential fails the task rather than
// letting the worker fall back to a shared key.
func (s *taskService) modelBlock(ctx context.Context, t *model.Task) (map[string]any, error) {
	doc, err := s.docs.GetOwned(ctx, t.CompanyID, t.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	modelID, _ := doc.Configs["model_id"].(string)
	if modelID == "" {
		return nil, nil
	}
	cred, err := s.creds.Resolve(ctx, t.CompanyID, modelID)
	if err != nil {
		return nil, fmt.Errorf("resolve credential for model %q: %w", modelID, err)
	}
	return map[string]any{
		"model_id": cred.ModelID,
		"provider": cred.Provider,
		"api_key":  cred.APIKey,
	}, nil
}

// workerBody builds the common request body: the task payload plus document
// pages and the optional model block.
func (s *taskService) workerBody(ctx context.Context, t *model.Task, includePages bool) (map[string]any, error) {
	body := map[string]any{
		"document_id": t.DocumentID,
		"payload":     map[string]any(t.Payload),
	}
	if includePages {
		pages, err := s.docs.ListPages(ctx, t.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("list pages: %w", err)
		}
		body["pages"] = toPageEnvelopes(pages)
	}
	mb, err := s.modelBlock(ctx, t)
	if err != nil {
		return nil, err
	}
	if mb != nil {
		body["model"] = mb
	}
	return body, nil
}

func (s *taskService) runOutline(ctx context.Context, t *model.Task, workerPath string) (datatypes.JSONMap, error) {
	body, err := s.workerBody(ctx, t, t.TaskType == model.TaskTypeOutlineRefine)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Pages []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"pages"`
	}
	if err := s.worker.Request(ctx, http.MethodPost, workerPath, body, &resp, s.defaultTimeout()); err != nil {
		return nil, err
	}
	if len(resp.Pages) == 0 {
		return nil, fmt.Errorf("worker returned an empty outline")
	}

	pages := make([]model.Page, len(resp.Pages))
	for i, p := range resp.Pages {
		pages[i] = model.Page{Title: p.Title, Description: p.Description}
	}
	if err := s.docs.ReplacePages(ctx, t.DocumentID, pages); err != nil {
		return nil, fmt.Errorf("replace pages: %w", err)
	}
	return datatypes.JSONMap{"page_count": len(pages)}, nil
}

func (s *taskService) runDescriptions(ctx context.Context, t *model.Task, workerPath string) (datatypes.JSONMap, error) {
	pages, err := s.docs.ListPages(ctx, t.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("document has no pages")
	}

	body, err := s.workerBody(ctx, t, false)
	if err != nil {
		return nil, err
	}
	body["pages"] = toPageEnvelopes(pages)

	var resp struct {
		Descriptions []string `json:"descriptions"`
	}
	if err := s.worker.Request(ctx, http.MethodPost, workerPath, body, &resp, s.defaultTimeout()); err != nil {
		return nil, err
	}
	if len(resp.Descriptions) != len(pages) {
		return nil, fmt.Errorf("worker returned %d descriptions for %d pages", len(resp.Descriptions), len(pages))
	}

	// Page order is the progress order the poller sees.
	for i, p := range pages {
		if err := s.docs.UpdatePageDescription(ctx, p.ID, resp.Descriptions[i]); err != nil {
			return nil, fmt.Errorf("update page %d description: %w", p.PageIndex, err)
		}
		s.reportProgress(ctx, t.ID, datatypes.JSONMap{"completed": i + 1, "total": len(pages)})
	}
	return datatypes.JSONMap{"page_count": len(pages)}, nil
}

func (s *taskService) runBulkImages(ctx context.Context, t *model.Task) (datatypes.JSONMap, error) {
	pages, err := s.docs.ListPages(ctx, t.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("document has no pages")
	}

	perPage := time.Duration(s.cfg.Worker.ImagePageBudget) * time.Millisecond
	timeout := bulkImageTimeout(s.defaultTimeout(), len(pages), perPage)

	mb, err := s.modelBlock(ctx, t)
	if err != nil {
		return nil, err
	}

	for i, p := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, _, err := s.generatePageImage(ctx, t, &p, mb, nil, timeout); err != nil {
			return nil, fmt.Errorf("page %d: %w", p.PageIndex, err)
		}
		s.reportProgress(ctx, t.ID, datatypes.JSONMap{"completed": i + 1, "total": len(pages)})
	}
	return datatypes.JSONMap{"generated": len(pages), "total": len(pages)}, nil
}

func (s *taskService) runSingleImage(ctx context.Context, t *model.Task, edit bool) (datatypes.JSONMap, error) {
	pageID, err := uuidField(t.Payload, "page_id")
	if err != nil {
		return nil, err
	}
	page, err := s.docs.GetOwnedPage(ctx, t.CompanyID, pageID)
	if err != nil {
		return nil, fmt.Errorf("load page: %w", err)
	}

	mb, err := s.modelBlock(ctx, t)
	if err != nil {
		return nil, err
	}

	var sourceURL *string
	if edit {
		// Edits need the current render; the worker pulls it over a
		// short-lived presigned URL.
		current, err := s.images.GetCurrent(ctx, pageID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, fmt.Errorf("page has no image to edit")
			}
			return nil, fmt.Errorf("load current image version: %w", err)
		}
		u, err := s.blob.PresignGet(ctx, current.ImageKey, presignExpire)
		if err != nil {
			return nil, fmt.Errorf("presign source image: %w", err)
		}
		sourceURL = &u
	}

	key, version, err := s.generatePageImage(ctx, t, page, mb, sourceURL, s.defaultTimeout())
	if err != nil {
		return nil, err
	}
	return datatypes.JSONMap{"image_key": key, "version_number": version}, nil
}

// generatePageImage asks the worker for one rendered page image, persists the
// bytes, and appends a new current version. A non-nil sourceURL switches the
// worker into edit mode.
func (s *taskService) generatePageImage(ctx context.Context, t *model.Task, page *model.Page, modelBlock map[string]any, sourceURL *string, timeout time.Duration) (string, int, error) {
	body := map[string]any{
		"document_id": t.DocumentID,
		"page": pageEnvelope{
			ID:          page.ID,
			PageIndex:   page.PageIndex,
			Title:       page.Title,
			Description: page.Description,
		},
		"payload": map[string]any(t.Payload),
	}
	if modelBlock != nil {
		body["model"] = modelBlock
	}
	workerPath := "/generate/single-image"
	if sourceURL != nil {
		workerPath = "/generate/edit-image"
		body["source_image_url"] = *sourceURL
	}

	res, err := s.worker.BinaryRequest(ctx, workerPath, body, timeout)
	if err != nil {
		return "", 0, err
	}

	key := blob.ImageKey(t.DocumentID, page.ID, res.ContentType)
	if _, err := s.blob.UploadBytes(ctx, key, res.Bytes, res.ContentType); err != nil {
		return "", 0, fmt.Errorf("upload image: %w", err)
	}

	var prompt *string
	if p, ok := t.Payload["prompt"].(string); ok && p != "" {
		prompt = &p
	}
	v, err := s.images.AddVersion(ctx, page.ID, key, prompt)
	if err != nil {
		return "", 0, fmt.Errorf("record image version: %w", err)
	}
	return key, v.VersionNumber, nil
}

func (s *taskService) runExport(ctx context.Context, t *model.Task, format string) (datatypes.JSONMap, error) {
	doc, err := s.docs.GetOwned(ctx, t.CompanyID, t.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	pages, err := s.docs.ListPages(ctx, t.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}

	body := map[string]any{
		"document_id": t.DocumentID,
		"title":       doc.Title,
		"format":      format,
		"pages":       toPageEnvelopes(pages),
		"payload":     map[string]any(t.Payload),
	}

	timeout := time.Duration(s.cfg.Worker.ExportTimeoutMs) * time.Millisecond
	res, err := s.worker.BinaryRequest(ctx, "/export/presentation", body, timeout)
	if err != nil {
		return nil, err
	}

	fileName := res.FileName
	if fileName == "" {
		fileName = fmt.Sprintf("%s.%s", t.DocumentID, exportExt(format))
	}
	key := blob.ExportKey(t.DocumentID, fileName)
	if _, err := s.blob.UploadBytes(ctx, key, res.Bytes, res.ContentType); err != nil {
		return nil, fmt.Errorf("upload export: %w", err)
	}
	return datatypes.JSONMap{"file_key": key, "file_name": fileName}, nil
}

func exportExt(format string) string {
	if format == "pdf" {
		return "pdf"
	}
	return "pptx"
}

func (s *taskService) runReferenceParse(ctx context.Context, t *model.Task) (datatypes.JSONMap, error) {
	fileKey, ok := t.Payload["file_key"].(string)
	if !ok || fileKey == "" {
		return nil, fmt.Errorf("payload missing file_key")
	}

	data, _, err := s.blob.Download(ctx, fileKey)
	if err != nil {
		return nil, fmt.Errorf("download reference file: %w", err)
	}

	fields := map[string]string{"document_id": t.DocumentID.String()}
	mb, err := s.modelBlock(ctx, t)
	if err != nil {
		return nil, err
	}
	if mb != nil {
		fields["model_id"], _ = mb["model_id"].(string)
	}

	var parsed map[string]any
	err = s.worker.MultipartRequest(ctx, "/parse/reference-file", fields, "file", path.Base(fileKey), data, &parsed, s.defaultTimeout())
	if err != nil {
		return nil, err
	}
	return datatypes.JSONMap(parsed), nil
}

// reportProgress is best effort: a write that loses to a concurrent cancel is
// dropped, not fatal.
func (s *taskService) reportProgress(ctx context.Context, taskID uuid.UUID, progress datatypes.JSONMap) {
	if err := s.tasks.UpdateProgress(ctx, taskID, progress); err != nil {
		s.log.Sugar().Warnw("update task progress", "task_id", taskID, "err", err)
		return
	}
	s.cache.Invalidate(ctx, taskID)
}

func uuidField(payload datatypes.JSONMap, key string) (uuid.UUID, error) {
	raw, ok := payload[key].(string)
	if !ok || raw == "" {
		return uuid.Nil, fmt.Errorf("payload missing %s", key)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("payload %s: %w", key, err)
	}
	return id, nil
}
