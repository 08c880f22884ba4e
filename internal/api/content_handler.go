package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/docsage-api/internal/api/shared"
	"github.com/phrazzld/docsage-api/internal/content"
	"github.com/phrazzld/docsage-api/internal/domain"
	"github.com/phrazzld/docsage-api/internal/platform/logger"
	"github.com/phrazzld/docsage-api/internal/service"
	"github.com/phrazzld/docsage-api/internal/store"
)

// multipartOverhead is the allowance for multipart headers and boundaries
// on top of the upload size limit.
const multipartOverhead = 64 << 10

// ContentService defines the content operations used by ContentHandler.
type ContentService interface {
	Put(ctx context.Context, data []byte, ownerID uuid.UUID) (*domain.ContentItem, bool, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.ContentItem, error)
	Open(ctx context.Context, id uuid.UUID) ([]byte, error)
	List(ctx context.Context, ownerID uuid.UUID, page store.Page) ([]*domain.ContentItem, int, error)
	Delete(ctx context.Context, id, ownerID uuid.UUID) error
}

// ContentHandler handles content upload and lookup requests.
type ContentHandler struct {
	contents ContentService
	maxBytes int64
}

// NewContentHandler creates a new ContentHandler. Uploads larger than
// maxBytes are rejected with 413.
func NewContentHandler(contents ContentService, maxBytes int64) *ContentHandler {
	return &ContentHandler{
		contents: contents,
		maxBytes: maxBytes,
	}
}

// Upload handles POST /api/contents requests. The document is read from the
// multipart field "file" or, for any other content type, the raw body.
func (h *ContentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := handleUserID(w, r)
	if !ok {
		return
	}

	data, err := h.readUpload(w, r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	item, isNew, err := h.contents.Put(r.Context(), data, userID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	status := http.StatusOK
	if isNew {
		status = http.StatusCreated
	}
	logger.FromContext(r.Context()).Debug("content uploaded",
		"content_id", item.ID,
		"is_new", isNew,
		"user_id", userID)

	shared.RespondWithJSON(w, r, status, UploadContentResponse{
		Content: contentToResponse(item),
		IsNew:   isNew,
	})
}

func (h *ContentHandler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	limit := h.maxBytes + 1

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "multipart/") {
		data, err := io.ReadAll(io.LimitReader(r.Body, limit))
		if err != nil {
			return nil, domain.NewValidationError("body", "could not be read", domain.ErrValidation)
		}
		return data, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)
	file, _, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, content.ErrContentTooLarge
		}
		return nil, domain.NewValidationError("file", "is required", domain.ErrValidation)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, limit))
	if err != nil {
		return nil, domain.NewValidationError("file", "could not be read", domain.ErrValidation)
	}
	return data, nil
}

// GetContent handles GET /api/contents/{id} requests.
func (h *ContentHandler) GetContent(w http.ResponseWriter, r *http.Request) {
	_, contentID, ok := handleUserIDAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	item, err := h.contents.Get(r.Context(), contentID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, contentToResponse(item))
}

// ListContents handles GET /api/contents requests. It lists the items the
// caller uploaded first, newest first.
func (h *ContentHandler) ListContents(w http.ResponseWriter, r *http.Request) {
	userID, ok := handleUserID(w, r)
	if !ok {
		return
	}

	page, err := queryInt(r, "page", 1)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	pageSize, err := queryInt(r, "page_size", service.DefaultPageSize)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	pageSize = min(pageSize, service.MaxPageSize)

	items, total, err := h.contents.List(r.Context(), userID, store.Page{Number: page, Size: pageSize})
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, contentPageToResponse(items, total, page, pageSize))
}

// DownloadContent handles GET /api/contents/{id}/download requests.
func (h *ContentHandler) DownloadContent(w http.ResponseWriter, r *http.Request) {
	_, contentID, ok := handleUserIDAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	item, err := h.contents.Get(r.Context(), contentID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	data, err := h.contents.Open(r.Context(), contentID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to read content")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": item.Fingerprint}))
	w.Header().Set("ETag", `"`+item.Fingerprint+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logger.FromContext(r.Context()).Warn("failed to write content", "content_id", contentID, "error", err)
	}
}

// DeleteContent handles DELETE /api/contents/{id} requests. Content that an
// active task still references is rejected with 409.
func (h *ContentHandler) DeleteContent(w http.ResponseWriter, r *http.Request) {
	userID, contentID, ok := handleUserIDAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.contents.Delete(r.Context(), contentID, userID); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
