package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/closerbrain/internal/api/handlers"
	"github.com/cloo-solutions/closerbrain/internal/api/middleware"
	"github.com/cloo-solutions/closerbrain/internal/domain"
	"github.com/cloo-solutions/closerbrain/internal/service"
)

// stubServices answers every handler dependency and records the owner it was called with.
type stubServices struct {
	lastOwner string
}

func (s *stubServices) CreateSource(ctx context.Context, input service.CreateSourceInput) (*domain.SourceItem, error) {
	s.lastOwner = input.OwnerID
	now := time.Now().UTC()
	return &domain.SourceItem{ID: "src-1", OwnerID: input.OwnerID, Kind: input.Kind, Title: "t", Status: domain.SourceStatusQueued, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *stubServices) Process(ctx context.Context, ownerID, sourceID string) (*service.ProcessResult, error) {
	s.lastOwner = ownerID
	return nil, domain.ErrSourceBusy
}

func (s *stubServices) GetSource(ctx context.Context, ownerID, sourceID string) (*domain.SourceItem, error) {
	s.lastOwner = ownerID
	return nil, domain.ErrSourceNotFound
}

func (s *stubServices) ListSources(ctx context.Context, input service.ListSourcesInput) (*service.ListSourcesOutput, error) {
	s.lastOwner = input.OwnerID
	return &service.ListSourcesOutput{}, nil
}

func (s *stubServices) DeleteSource(ctx context.Context, ownerID, sourceID string) (*domain.BrainStats, error) {
	s.lastOwner = ownerID
	return domain.EmptyBrainStats(ownerID), nil
}

func (s *stubServices) ListSourceChunks(ctx context.Context, ownerID, sourceID string) ([]*domain.KnowledgeChunk, error) {
	s.lastOwner = ownerID
	return nil, nil
}

func (s *stubServices) Get(ctx context.Context, ownerID string) (*domain.BrainStats, error) {
	s.lastOwner = ownerID
	return domain.EmptyBrainStats(ownerID), nil
}

type stubProspects struct{}

func (s *stubProspects) Create(ctx context.Context, input service.CreateProspectInput) (*domain.Prospect, error) {
	return domain.NewProspect("p-1", input.OwnerID, input.Name, time.Now().UTC()), nil
}

func (s *stubProspects) Get(ctx context.Context, ownerID, id string) (*domain.Prospect, error) {
	return nil, domain.ErrProspectNotFound
}

func (s *stubProspects) UpdateOutcome(ctx context.Context, ownerID, id string, outcome domain.Outcome) (*domain.Prospect, error) {
	return nil, domain.ErrProspectNotFound
}

type stubSuggestions struct{}

func (stubSuggestions) Generate(ctx context.Context, input service.GenerateInput) (*service.GenerateResult, error) {
	return nil, domain.ErrKnowledgeBaseEmpty
}

func (stubSuggestions) DraftOpener(ctx context.Context, ownerID, prospectID string, persona domain.Persona) (*service.DraftResult, error) {
	return nil, domain.ErrKnowledgeBaseEmpty
}

func (stubSuggestions) Reengage(ctx context.Context, ownerID, prospectID string, persona domain.Persona) (*service.DraftResult, error) {
	return nil, domain.ErrKnowledgeBaseEmpty
}

func (stubSuggestions) MarkUsed(ctx context.Context, ownerID, suggestionID string) (*domain.Suggestion, error) {
	return nil, domain.ErrSuggestionNotFound
}

func (stubSuggestions) RecordFeedback(ctx context.Context, ownerID, suggestionID string, feedback domain.Feedback) (*domain.Suggestion, error) {
	return nil, domain.ErrSuggestionNotFound
}

type stubWorkspaces struct{}

func (stubWorkspaces) Create(ctx context.Context, input service.CreateWorkspaceInput) (*domain.Workspace, error) {
	return &domain.Workspace{ID: "ws-1", OwnerID: input.OwnerID, Name: input.Name}, nil
}

func (stubWorkspaces) Get(ctx context.Context, ownerID, id string) (*domain.Workspace, error) {
	return nil, domain.ErrWorkspaceNotFound
}

func setupRouter(healthCheck func(context.Context) error) (http.Handler, *stubServices) {
	sources := &stubServices{}
	cfg := RouterConfig{
		HealthCheck:       healthCheck,
		SourceHandler:     handlers.NewSourceHandler(sources),
		BrainHandler:      handlers.NewBrainHandler(sources),
		ProspectHandler:   handlers.NewProspectHandler(&stubProspects{}),
		SuggestionHandler: handlers.NewSuggestionHandler(stubSuggestions{}),
		WorkspaceHandler:  handlers.NewWorkspaceHandler(stubWorkspaces{}),
	}
	return NewRouter(cfg), sources
}

func TestRouter_HealthEndpoint(t *testing.T) {
	router, _ := setupRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "ok", data["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRouter_HealthEndpoint_Degraded(t *testing.T) {
	router, _ := setupRouter(func(context.Context) error { return errors.New("db down") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}

func TestRouter_OwnedRoutes_RequireOwner(t *testing.T) {
	router, _ := setupRouter(nil)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/sources"},
		{http.MethodGet, "/sources"},
		{http.MethodGet, "/sources/src-1"},
		{http.MethodDelete, "/sources/src-1"},
		{http.MethodPost, "/sources/src-1/process"},
		{http.MethodGet, "/sources/src-1/chunks"},
		{http.MethodGet, "/brain"},
		{http.MethodPost, "/prospects"},
		{http.MethodGet, "/prospects/p-1"},
		{http.MethodPut, "/prospects/p-1/outcome"},
		{http.MethodPost, "/prospects/p-1/suggestions"},
		{http.MethodPost, "/prospects/p-1/opener"},
		{http.MethodPost, "/prospects/p-1/reengage"},
		{http.MethodPost, "/suggestions/s-1/use"},
		{http.MethodPost, "/suggestions/s-1/feedback"},
		{http.MethodPost, "/workspaces"},
		{http.MethodGet, "/workspaces/ws-1"},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			req := httptest.NewRequest(route.method, route.path, nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestRouter_OwnedRoutes_ReachHandlers(t *testing.T) {
	router, sources := setupRouter(nil)

	tests := []struct {
		method   string
		path     string
		body     string
		expected int
	}{
		{http.MethodPost, "/sources", `{"url":"https://youtu.be/x"}`, http.StatusCreated},
		{http.MethodGet, "/sources", "", http.StatusOK},
		{http.MethodGet, "/sources/src-1", "", http.StatusNotFound},
		{http.MethodPost, "/sources/src-1/process", "", http.StatusConflict},
		{http.MethodDelete, "/sources/src-1", "", http.StatusOK},
		{http.MethodGet, "/sources/src-1/chunks", "", http.StatusOK},
		{http.MethodGet, "/brain", "", http.StatusOK},
		{http.MethodPost, "/prospects", `{"name":"Dana"}`, http.StatusCreated},
		{http.MethodGet, "/prospects/p-1", "", http.StatusNotFound},
		{http.MethodPost, "/prospects/p-1/suggestions", `{"persona":"setter","content":"hey"}`, http.StatusPreconditionFailed},
		{http.MethodPost, "/prospects/p-1/opener", `{"persona":"setter"}`, http.StatusPreconditionFailed},
		{http.MethodPost, "/prospects/p-1/reengage", `{"persona":"closer"}`, http.StatusPreconditionFailed},
		{http.MethodPost, "/suggestions/s-1/use", "", http.StatusNotFound},
		{http.MethodPost, "/workspaces", `{"name":"Coaching"}`, http.StatusCreated},
		{http.MethodGet, "/workspaces/ws-1", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(middleware.OwnerHeader, "owner-1")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expected, w.Code, w.Body.String())
		})
	}
	assert.Equal(t, "owner-1", sources.lastOwner)
}

func TestRouter_RejectsOversizedBody(t *testing.T) {
	router, _ := setupRouter(nil)

	req := httptest.NewRequest(http.MethodPost, "/prospects", strings.NewReader(strings.Repeat("x", int(maxBodyBytes)+1)))
	req.Header.Set(middleware.OwnerHeader, "owner-1")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
