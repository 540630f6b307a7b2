package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/closerbrain/internal/api"
	"github.com/cloo-solutions/closerbrain/internal/domain"
	"github.com/cloo-solutions/closerbrain/internal/service"
)

const multipartMemory = 8 << 20

type SourceService interface {
	CreateSource(ctx context.Context, input service.CreateSourceInput) (*domain.SourceItem, error)
	Process(ctx context.Context, ownerID, sourceID string) (*service.ProcessResult, error)
	GetSource(ctx context.Context, ownerID, sourceID string) (*domain.SourceItem, error)
	ListSources(ctx context.Context, input service.ListSourcesInput) (*service.ListSourcesOutput, error)
	DeleteSource(ctx context.Context, ownerID, sourceID string) (*domain.BrainStats, error)
	ListSourceChunks(ctx context.Context, ownerID, sourceID string) ([]*domain.KnowledgeChunk, error)
}

type SourceHandler struct {
	svc SourceService
}

func NewSourceHandler(svc SourceService) *SourceHandler {
	return &SourceHandler{svc: svc}
}

type CreateLinkSourceRequest struct {
	Kind        string `json:"kind"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Persona     string `json:"persona"`
	WorkspaceID string `json:"workspace_id"`
}

type SourceListResponse struct {
	Items   []*SourceResponse `json:"items"`
	Cursor  string            `json:"cursor,omitempty"`
	HasMore bool              `json:"has_more"`
}

// ProcessResponse carries the summary fields at the top level next to the run totals.
type ProcessResponse struct {
	Success bool `json:"success"`
	SummaryResponse
	ChunksExtracted int                 `json:"chunks_extracted"`
	BrainStats      *BrainStatsResponse `json:"brain_stats"`
	Source          *SourceResponse     `json:"source,omitempty"`
}

type DeleteSourceResponse struct {
	Deleted    bool                `json:"deleted"`
	BrainStats *BrainStatsResponse `json:"brain_stats"`
}

// Create accepts a JSON link reference or a multipart document upload with a "file" part.
func (h *SourceHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	var input service.CreateSourceInput
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if !h.readDocument(w, r, &input) {
			return
		}
	} else {
		var req CreateLinkSourceRequest
		if !decodeJSON(w, r, &req, false) {
			return
		}
		if req.Kind != "" && req.Kind != string(domain.SourceKindLink) {
			api.Error(w, http.StatusBadRequest, "documents must be uploaded as multipart/form-data")
			return
		}
		if strings.TrimSpace(req.URL) == "" {
			api.Error(w, http.StatusBadRequest, "url is required")
			return
		}
		input = service.CreateSourceInput{
			Kind:        domain.SourceKindLink,
			URL:         req.URL,
			Title:       req.Title,
			Persona:     domain.Persona(req.Persona),
			WorkspaceID: req.WorkspaceID,
		}
	}
	input.OwnerID = ownerID

	src, err := h.svc.CreateSource(r.Context(), input)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, sourceToResponse(src))
}

func (h *SourceHandler) readDocument(w http.ResponseWriter, r *http.Request, input *service.CreateSourceInput) bool {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		api.HandleError(w, badMultipart(err))
		return false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		api.Error(w, http.StatusBadRequest, "file is required")
		return false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		api.HandleError(w, badMultipart(err))
		return false
	}
	if len(data) == 0 {
		api.Error(w, http.StatusBadRequest, "file is empty")
		return false
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}

	*input = service.CreateSourceInput{
		Kind:        domain.SourceKindDocument,
		Title:       r.FormValue("title"),
		Persona:     domain.Persona(r.FormValue("persona")),
		WorkspaceID: r.FormValue("workspace_id"),
		Filename:    header.Filename,
		MimeType:    mimeType,
		Data:        data,
	}
	return true
}

func badMultipart(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return err
	}
	return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid multipart upload", err)
}

func (h *SourceHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	output, err := h.svc.ListSources(r.Context(), service.ListSourcesInput{
		OwnerID: ownerID,
		Cursor:  r.URL.Query().Get("cursor"),
		Limit:   limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*SourceResponse, len(output.Items))
	for i, src := range output.Items {
		responses[i] = sourceToResponse(src)
	}

	api.Success(w, http.StatusOK, SourceListResponse{
		Items:   responses,
		Cursor:  output.Cursor,
		HasMore: output.HasMore,
	})
}

func (h *SourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	src, err := h.svc.GetSource(r.Context(), ownerID, chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, sourceToResponse(src))
}

// Process runs ingestion synchronously and answers once the source is ready or failed.
func (h *SourceHandler) Process(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	result, err := h.svc.Process(r.Context(), ownerID, chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := ProcessResponse{
		Success:         result.Success,
		SummaryResponse: *summaryToResponse(result.Summary),
		ChunksExtracted: result.ChunksExtracted,
		BrainStats:      brainStatsToResponse(result.BrainStats),
	}
	if result.Source != nil {
		resp.Source = sourceToResponse(result.Source)
	}
	api.Success(w, http.StatusOK, resp)
}

func (h *SourceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	stats, err := h.svc.DeleteSource(r.Context(), ownerID, chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, DeleteSourceResponse{Deleted: true, BrainStats: brainStatsToResponse(stats)})
}

func (h *SourceHandler) Chunks(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	chunks, err := h.svc.ListSourceChunks(r.Context(), ownerID, chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*ChunkResponse, len(chunks))
	for i, c := range chunks {
		responses[i] = chunkToResponse(c)
	}
	api.Success(w, http.StatusOK, responses)
}

type BrainReader interface {
	Get(ctx context.Context, ownerID string) (*domain.BrainStats, error)
}

type BrainHandler struct {
	svc BrainReader
}

func NewBrainHandler(svc BrainReader) *BrainHandler {
	return &BrainHandler{svc: svc}
}

func (h *BrainHandler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	stats, err := h.svc.Get(r.Context(), ownerID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, brainStatsToResponse(stats))
}
