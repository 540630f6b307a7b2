package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cloo-solutions/closerbrain/internal/api"
	"github.com/cloo-solutions/closerbrain/internal/api/middleware"
	"github.com/cloo-solutions/closerbrain/internal/domain"
)

const timeLayout = time.RFC3339

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ownerFrom returns the request owner or writes a 401 and returns false.
func ownerFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID := middleware.GetOwnerID(r.Context())
	if ownerID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return ownerID, true
}

// decodeJSON decodes the body into dst. An empty body leaves dst untouched when
// allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}, allowEmpty bool) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	api.Error(w, http.StatusBadRequest, "invalid request body")
	return false
}

type SummaryResponse struct {
	Summary              string `json:"summary"`
	Psychology           string `json:"psychology"`
	RapportTechniques    string `json:"rapport_techniques"`
	ConversationStarters string `json:"conversation_starters"`
	ObjectionFrameworks  string `json:"objection_frameworks"`
	ClosingTechniques    string `json:"closing_techniques"`
	LanguagePatterns     string `json:"language_patterns"`
	EmotionalTriggers    string `json:"emotional_triggers"`
	TrustStrategies      string `json:"trust_strategies"`
}

func summaryToResponse(s domain.SourceSummary) *SummaryResponse {
	return &SummaryResponse{
		Summary:              s.Summary,
		Psychology:           s.Psychology,
		RapportTechniques:    s.RapportTechniques,
		ConversationStarters: s.ConversationStarters,
		ObjectionFrameworks:  s.ObjectionFrameworks,
		ClosingTechniques:    s.ClosingTechniques,
		LanguagePatterns:     s.LanguagePatterns,
		EmotionalTriggers:    s.EmotionalTriggers,
		TrustStrategies:      s.TrustStrategies,
	}
}

type SourceResponse struct {
	ID           string           `json:"id"`
	WorkspaceID  string           `json:"workspace_id,omitempty"`
	Kind         string           `json:"kind"`
	Title        string           `json:"title"`
	OriginURL    string           `json:"origin_url,omitempty"`
	MimeType     string           `json:"mime_type,omitempty"`
	Platform     string           `json:"platform,omitempty"`
	Persona      string           `json:"persona"`
	Status       string           `json:"status"`
	Progress     int              `json:"progress"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Summary      *SummaryResponse `json:"summary,omitempty"`
	CreatedAt    string           `json:"created_at"`
	UpdatedAt    string           `json:"updated_at"`
}

func sourceToResponse(s *domain.SourceItem) *SourceResponse {
	resp := &SourceResponse{
		ID:           s.ID,
		WorkspaceID:  s.WorkspaceID,
		Kind:         string(s.Kind),
		Title:        s.Title,
		OriginURL:    s.OriginURL,
		MimeType:     s.MimeType,
		Platform:     string(s.Platform),
		Persona:      string(s.Persona),
		Status:       string(s.Status),
		Progress:     s.Progress,
		ErrorMessage: s.ErrorMessage,
		CreatedAt:    formatTime(s.CreatedAt),
		UpdatedAt:    formatTime(s.UpdatedAt),
	}
	if s.Summary != (domain.SourceSummary{}) {
		resp.Summary = summaryToResponse(s.Summary)
	}
	return resp
}

type ChunkResponse struct {
	ID             string   `json:"id"`
	SourceID       string   `json:"source_id"`
	Category       string   `json:"category"`
	Content        string   `json:"content"`
	TriggerPhrases []string `json:"trigger_phrases"`
	UsageExample   string   `json:"usage_example,omitempty"`
	RelevanceScore int      `json:"relevance_score"`
	Persona        string   `json:"persona"`
	CreatedAt      string   `json:"created_at"`
}

func chunkToResponse(c *domain.KnowledgeChunk) *ChunkResponse {
	phrases := c.TriggerPhrases
	if phrases == nil {
		phrases = []string{}
	}
	return &ChunkResponse{
		ID:             c.ID,
		SourceID:       c.SourceID,
		Category:       string(c.Category),
		Content:        c.Content,
		TriggerPhrases: phrases,
		UsageExample:   c.UsageExample,
		RelevanceScore: c.RelevanceScore,
		Persona:        string(c.Persona),
		CreatedAt:      formatTime(c.CreatedAt),
	}
}

type BrainStatsResponse struct {
	TotalSources      int            `json:"total_sources"`
	TotalChunks       int            `json:"total_chunks"`
	CategoryBreakdown map[string]int `json:"category_breakdown"`
	Level             int            `json:"level"`
	Title             string         `json:"title"`
	UpdatedAt         string         `json:"updated_at,omitempty"`
}

func brainStatsToResponse(s *domain.BrainStats) *BrainStatsResponse {
	if s == nil {
		return nil
	}
	breakdown := make(map[string]int, len(s.CategoryBreakdown))
	for category, n := range s.CategoryBreakdown {
		breakdown[string(category)] = n
	}
	resp := &BrainStatsResponse{
		TotalSources:      s.TotalSources,
		TotalChunks:       s.TotalChunks,
		CategoryBreakdown: breakdown,
		Level:             s.Level,
		Title:             s.Title,
	}
	if !s.UpdatedAt.IsZero() {
		resp.UpdatedAt = formatTime(s.UpdatedAt)
	}
	return resp
}

type ProspectResponse struct {
	ID           string `json:"id"`
	WorkspaceID  string `json:"workspace_id,omitempty"`
	Name         string `json:"name"`
	Platform     string `json:"platform,omitempty"`
	Notes        string `json:"notes,omitempty"`
	CurrentStage string `json:"current_stage"`
	Outcome      string `json:"outcome"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func prospectToResponse(p *domain.Prospect) *ProspectResponse {
	return &ProspectResponse{
		ID:           p.ID,
		WorkspaceID:  p.WorkspaceID,
		Name:         p.Name,
		Platform:     p.Platform,
		Notes:        p.Notes,
		CurrentStage: string(p.CurrentStage),
		Outcome:      string(p.Outcome),
		CreatedAt:    formatTime(p.CreatedAt),
		UpdatedAt:    formatTime(p.UpdatedAt),
	}
}

type SuggestionResponse struct {
	ID           string  `json:"id"`
	MessageID    string  `json:"message_id,omitempty"`
	Type         string  `json:"type"`
	Text         string  `json:"text"`
	WhyThisWorks string  `json:"why_this_works,omitempty"`
	Used         bool    `json:"used"`
	UsedAt       *string `json:"used_at,omitempty"`
	Feedback     string  `json:"feedback"`
}

func suggestionToResponse(s *domain.Suggestion) *SuggestionResponse {
	resp := &SuggestionResponse{
		ID:           s.ID,
		MessageID:    s.MessageID,
		Type:         string(s.Type),
		Text:         s.Text,
		WhyThisWorks: s.WhyThisWorks,
		Used:         s.Used,
		Feedback:     string(s.Feedback),
	}
	if s.UsedAt != nil {
		usedAt := formatTime(*s.UsedAt)
		resp.UsedAt = &usedAt
	}
	return resp
}

func suggestionsToResponse(items []*domain.Suggestion) []*SuggestionResponse {
	out := make([]*SuggestionResponse, 0, len(items))
	for _, s := range items {
		out = append(out, suggestionToResponse(s))
	}
	return out
}

type WorkspaceResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Offer          string `json:"offer,omitempty"`
	TargetAudience string `json:"target_audience,omitempty"`
	BrandVoice     string `json:"brand_voice,omitempty"`
	CreatedAt      string `json:"created_at"`
}

func workspaceToResponse(ws *domain.Workspace) *WorkspaceResponse {
	return &WorkspaceResponse{
		ID:             ws.ID,
		Name:           ws.Name,
		Offer:          ws.Offer,
		TargetAudience: ws.TargetAudience,
		BrandVoice:     ws.BrandVoice,
		CreatedAt:      formatTime(ws.CreatedAt),
	}
}
