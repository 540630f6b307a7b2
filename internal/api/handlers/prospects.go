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

type ProspectService interface {
	Create(ctx context.Context, input service.CreateProspectInput) (*domain.Prospect, error)
	Get(ctx context.Context, ownerID, id string) (*domain.Prospect, error)
	UpdateOutcome(ctx context.Context, ownerID, id string, outcome domain.Outcome) (*domain.Prospect, error)
}

type ProspectHandler struct {
	svc ProspectService
}

func NewProspectHandler(svc ProspectService) *ProspectHandler {
	return &ProspectHandler{svc: svc}
}

type CreateProspectRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
	Platform    string `json:"platform"`
	Notes       string `json:"notes"`
}

type UpdateOutcomeRequest struct {
	Outcome string `json:"outcome"`
}

func (h *ProspectHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	var req CreateProspectRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		api.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	p, err := h.svc.Create(r.Context(), service.CreateProspectInput{
		OwnerID:     ownerID,
		WorkspaceID: req.WorkspaceID,
		Name:        req.Name,
		Platform:    req.Platform,
		Notes:       req.Notes,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, prospectToResponse(p))
}

func (h *ProspectHandler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	p, err := h.svc.Get(r.Context(), ownerID, chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, prospectToResponse(p))
}

func (h *ProspectHandler) UpdateOutcome(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	var req UpdateOutcomeRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	outcome, err := domain.ParseOutcome(req.Outcome)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	p, err := h.svc.UpdateOutcome(r.Context(), ownerID, chi.URLParam(r, "id"), outcome)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, prospectToResponse(p))
}
