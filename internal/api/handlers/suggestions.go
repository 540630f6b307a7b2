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

type SuggestionService interface {
	Generate(ctx context.Context, input service.GenerateInput) (*service.GenerateResult, error)
	DraftOpener(ctx context.Context, ownerID, prospectID string, persona domain.Persona) (*service.DraftResult, error)
	Reengage(ctx context.Context, ownerID, prospectID string, persona domain.Persona) (*service.DraftResult, error)
	MarkUsed(ctx context.Context, ownerID, suggestionID string) (*domain.Suggestion, error)
	RecordFeedback(ctx context.Context, ownerID, suggestionID string, feedback domain.Feedback) (*domain.Suggestion, error)
}

type SuggestionHandler struct {
	svc SuggestionService
}

func NewSuggestionHandler(svc SuggestionService) *SuggestionHandler {
	return &SuggestionHandler{svc: svc}
}

// GenerateRequest carries one inbound prospect message. Screenshot is base64 in JSON.
type GenerateRequest struct {
	Persona            string `json:"persona"`
	Content            string `json:"content"`
	Screenshot         []byte `json:"screenshot"`
	ScreenshotMimeType string `json:"screenshot_mime_type"`
}

type DraftRequest struct {
	Persona string `json:"persona"`
}

type FeedbackRequest struct {
	Feedback string `json:"feedback"`
}

type AnalysisResponse struct {
	Stage        string  `json:"stage"`
	Tone         string  `json:"tone"`
	Reasoning    string  `json:"reasoning,omitempty"`
	PushyWarning *string `json:"pushy_warning"`
}

type GenerateResponse struct {
	MessageID     string                `json:"message_id"`
	Analysis      AnalysisResponse      `json:"analysis"`
	Suggestions   []*SuggestionResponse `json:"suggestions"`
	KnowledgeUsed []string              `json:"knowledge_used"`
}

type DraftResponse struct {
	ProspectID  string                `json:"prospect_id"`
	Stage       string                `json:"stage"`
	Suggestions []*SuggestionResponse `json:"suggestions"`
}

func (h *SuggestionHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	var req GenerateRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if strings.TrimSpace(req.Content) == "" && len(req.Screenshot) == 0 {
		api.Error(w, http.StatusBadRequest, "content or screenshot is required")
		return
	}
	if len(req.Screenshot) > 0 && req.ScreenshotMimeType == "" {
		req.ScreenshotMimeType = http.DetectContentType(req.Screenshot)
	}

	result, err := h.svc.Generate(r.Context(), service.GenerateInput{
		OwnerID:            ownerID,
		ProspectID:         chi.URLParam(r, "id"),
		Persona:            domain.Persona(req.Persona),
		Content:            req.Content,
		Screenshot:         req.Screenshot,
		ScreenshotMimeType: req.ScreenshotMimeType,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	knowledgeUsed := result.KnowledgeUsed
	if knowledgeUsed == nil {
		knowledgeUsed = []string{}
	}
	api.Success(w, http.StatusOK, GenerateResponse{
		MessageID: result.MessageID,
		Analysis: AnalysisResponse{
			Stage:        string(result.Analysis.Stage),
			Tone:         result.Analysis.Tone,
			Reasoning:    result.Analysis.Reasoning,
			PushyWarning: result.Analysis.PushyWarning,
		},
		Suggestions:   suggestionsToResponse(result.Suggestions),
		KnowledgeUsed: knowledgeUsed,
	})
}

func (h *SuggestionHandler) Opener(w http.ResponseWriter, r *http.Request) {
	h.draft(w, r, h.svc.DraftOpener)
}

func (h *SuggestionHandler) Reengage(w http.ResponseWriter, r *http.Request) {
	h.draft(w, r, h.svc.Reengage)
}

type draftFunc func(ctx context.Context, ownerID, prospectID string, persona domain.Persona) (*service.DraftResult, error)

func (h *SuggestionHandler) draft(w http.ResponseWriter, r *http.Request, fn draftFunc) {
	ownerID, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	var req DraftRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	result, err := fn(r.Context(), ownerID, chi.URLParam(r, "id"), domain.Persona(req.Persona))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, DraftResponse{
		ProspectID:  result.ProspectID,
		Stage:       string(result.Stage),
		Suggestions: suggestionsToResponse(result.Suggestions),
	})
}

func (h *SuggestionHandler) MarkUsed(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	s, err := h.svc.MarkUsed(r.Context(), ownerID, chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, suggestionToResponse(s))
}

func (h *SuggestionHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	var req FeedbackRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	feedback, err := domain.ParseFeedback(req.Feedback)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	s, err := h.svc.RecordFeedback(r.Context(), ownerID, chi.URLParam(r, "id"), feedback)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, suggestionToResponse(s))
}
