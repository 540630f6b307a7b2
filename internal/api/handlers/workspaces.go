package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/closerbrain/internal/api"
	"github.com/cloo-solutions/closerbrain/internal/domain"
	"github.com/cloo-solutions/closerbrain/internal/service"
)

type WorkspaceService interface {
	Create(ctx context.Context, input service.CreateWorkspaceInput) (*domain.Workspace, error)
	Get(ctx context.Context, ownerID, id string) (*domain.Workspace, error)
}

type WorkspaceHandler struct {
	svc WorkspaceService
}

func NewWorkspaceHandler(svc WorkspaceService) *WorkspaceHandler {
	return &WorkspaceHandler{svc: svc}
}

type CreateWorkspaceRequest struct {
	Name           string `json:"name"`
	Offer          string `json:"offer"`
	TargetAudience string `json:"target_audience"`
	BrandVoice     string `json:"brand_voice"`
}

func (h *WorkspaceHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	var req CreateWorkspaceRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		api.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	ws, err := h.svc.Create(r.Context(), service.CreateWorkspaceInput{
		OwnerID:        ownerID,
		Name:           req.Name,
		Offer:          req.Offer,
		TargetAudience: req.TargetAudience,
		BrandVoice:     req.BrandVoice,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, workspaceToResponse(ws))
}

func (h *WorkspaceHandler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	ws, err := h.svc.Get(r.Context(), ownerID, chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, workspaceToResponse(ws))
}
