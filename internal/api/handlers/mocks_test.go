package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/closerbrain/internal/api/middleware"
	"github.com/cloo-solutions/closerbrain/internal/domain"
	"github.com/cloo-solutions/closerbrain/internal/service"
)

const testOwner = "owner-456"

type MockSourceService struct {
	mock.Mock
}

func (m *MockSourceService) CreateSource(ctx context.Context, input service.CreateSourceInput) (*domain.SourceItem, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SourceItem), args.Error(1)
}

func (m *MockSourceService) Process(ctx context.Context, ownerID, sourceID string) (*service.ProcessResult, error) {
	args := m.Called(ctx, ownerID, sourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ProcessResult), args.Error(1)
}

func (m *MockSourceService) GetSource(ctx context.Context, ownerID, sourceID string) (*domain.SourceItem, error) {
	args := m.Called(ctx, ownerID, sourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SourceItem), args.Error(1)
}

func (m *MockSourceService) ListSources(ctx context.Context, input service.ListSourcesInput) (*service.ListSourcesOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ListSourcesOutput), args.Error(1)
}

func (m *MockSourceService) DeleteSource(ctx context.Context, ownerID, sourceID string) (*domain.BrainStats, error) {
	args := m.Called(ctx, ownerID, sourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BrainStats), args.Error(1)
}

func (m *MockSourceService) ListSourceChunks(ctx context.Context, ownerID, sourceID string) ([]*domain.KnowledgeChunk, error) {
	args := m.Called(ctx, ownerID, sourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.KnowledgeChunk), args.Error(1)
}

type MockBrainReader struct {
	mock.Mock
}

func (m *MockBrainReader) Get(ctx context.Context, ownerID string) (*domain.BrainStats, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BrainStats), args.Error(1)
}

type MockProspectService struct {
	mock.Mock
}

func (m *MockProspectService) Create(ctx context.Context, input service.CreateProspectInput) (*domain.Prospect, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Prospect), args.Error(1)
}

func (m *MockProspectService) Get(ctx context.Context, ownerID, id string) (*domain.Prospect, error) {
	args := m.Called(ctx, ownerID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Prospect), args.Error(1)
}

func (m *MockProspectService) UpdateOutcome(ctx context.Context, ownerID, id string, outcome domain.Outcome) (*domain.Prospect, error) {
	args := m.Called(ctx, ownerID, id, outcome)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Prospect), args.Error(1)
}

type MockSuggestionService struct {
	mock.Mock
}

func (m *MockSuggestionService) Generate(ctx context.Context, input service.GenerateInput) (*service.GenerateResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.GenerateResult), args.Error(1)
}

func (m *MockSuggestionService) DraftOpener(ctx context.Context, ownerID, prospectID string, persona domain.Persona) (*service.DraftResult, error) {
	args := m.Called(ctx, ownerID, prospectID, persona)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DraftResult), args.Error(1)
}

func (m *MockSuggestionService) Reengage(ctx context.Context, ownerID, prospectID string, persona domain.Persona) (*service.DraftResult, error) {
	args := m.Called(ctx, ownerID, prospectID, persona)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DraftResult), args.Error(1)
}

func (m *MockSuggestionService) MarkUsed(ctx context.Context, ownerID, suggestionID string) (*domain.Suggestion, error) {
	args := m.Called(ctx, ownerID, suggestionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Suggestion), args.Error(1)
}

func (m *MockSuggestionService) RecordFeedback(ctx context.Context, ownerID, suggestionID string, feedback domain.Feedback) (*domain.Suggestion, error) {
	args := m.Called(ctx, ownerID, suggestionID, feedback)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Suggestion), args.Error(1)
}

type MockWorkspaceService struct {
	mock.Mock
}

func (m *MockWorkspaceService) Create(ctx context.Context, input service.CreateWorkspaceInput) (*domain.Workspace, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Workspace), args.Error(1)
}

func (m *MockWorkspaceService) Get(ctx context.Context, ownerID, id string) (*domain.Workspace, error) {
	args := m.Called(ctx, ownerID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Workspace), args.Error(1)
}

// ownedRequest builds a request scoped to testOwner with optional chi URL params given
// as key, value pairs.
func ownedRequest(method, url string, body []byte, params ...string) *http.Request {
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	ctx := middleware.WithOwnerID(req.Context(), testOwner)
	if len(params) > 0 {
		rctx := chi.NewRouteContext()
		for i := 0; i+1 < len(params); i += 2 {
			rctx.URLParams.Add(params[i], params[i+1])
		}
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	return req.WithContext(ctx)
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %s", w.Body.String())
	return data
}
