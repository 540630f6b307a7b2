package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/cloo-solutions/closerbrain/internal/domain"
	"github.com/cloo-solutions/closerbrain/internal/generation"
	"github.com/cloo-solutions/closerbrain/internal/pagination"
	"github.com/cloo-solutions/closerbrain/internal/storage"
)

// memDB is an in-memory stand-in for the postgres repositories. Each repository type
// below is a view over the same state.
type memDB struct {
	mu          sync.Mutex
	sources     map[string]*domain.SourceItem
	chunks      map[string]*domain.KnowledgeChunk
	stats       map[string]*domain.BrainStats
	prospects   map[string]*domain.Prospect
	messages    []*domain.Message
	suggestions map[string]*domain.Suggestion
	workspaces  map[string]*domain.Workspace

	insertErr error
	txCount   int
}

func newMemDB() *memDB {
	return &memDB{
		sources:     map[string]*domain.SourceItem{},
		chunks:      map[string]*domain.KnowledgeChunk{},
		stats:       map[string]*domain.BrainStats{},
		prospects:   map[string]*domain.Prospect{},
		suggestions: map[string]*domain.Suggestion{},
		workspaces:  map[string]*domain.Workspace{},
	}
}

func (db *memDB) Sources() SourceRepositoryInterface             { return &memSources{db} }
func (db *memDB) Chunks() ChunkRepositoryInterface               { return &memChunks{db} }
func (db *memDB) Stats() BrainStatsRepositoryInterface           { return &memStats{db} }
func (db *memDB) Prospects() ProspectRepositoryInterface         { return &memProspects{db} }
func (db *memDB) Conversations() ConversationRepositoryInterface { return &memConversations{db} }
func (db *memDB) Workspaces() WorkspaceRepositoryInterface       { return &memWorkspaces{db} }

type memSnapshot struct {
	sources     map[string]domain.SourceItem
	chunks      map[string]domain.KnowledgeChunk
	prospects   map[string]domain.Prospect
	messages    int
	suggestions map[string]domain.Suggestion
}

// WithTx restores the touched tables when fn fails.
func (db *memDB) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	db.mu.Lock()
	db.txCount++
	snap := memSnapshot{
		sources:     map[string]domain.SourceItem{},
		chunks:      map[string]domain.KnowledgeChunk{},
		prospects:   map[string]domain.Prospect{},
		messages:    len(db.messages),
		suggestions: map[string]domain.Suggestion{},
	}
	for k, v := range db.sources {
		snap.sources[k] = *v
	}
	for k, v := range db.chunks {
		snap.chunks[k] = *v
	}
	for k, v := range db.prospects {
		snap.prospects[k] = *v
	}
	for k, v := range db.suggestions {
		snap.suggestions[k] = *v
	}
	db.mu.Unlock()

	if err := fn(db); err != nil {
		db.mu.Lock()
		defer db.mu.Unlock()
		db.sources = map[string]*domain.SourceItem{}
		for k, v := range snap.sources {
			db.sources[k] = &v
		}
		db.chunks = map[string]*domain.KnowledgeChunk{}
		for k, v := range snap.chunks {
			db.chunks[k] = &v
		}
		db.prospects = map[string]*domain.Prospect{}
		for k, v := range snap.prospects {
			db.prospects[k] = &v
		}
		db.messages = db.messages[:snap.messages]
		db.suggestions = map[string]*domain.Suggestion{}
		for k, v := range snap.suggestions {
			db.suggestions[k] = &v
		}
		return err
	}
	return nil
}

func (db *memDB) chunkCount(ownerID, sourceID string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, c := range db.chunks {
		if c.OwnerID == ownerID && (sourceID == "" || c.SourceID == sourceID) {
			n++
		}
	}
	return n
}

func (db *memDB) source(id string) domain.SourceItem {
	db.mu.Lock()
	defer db.mu.Unlock()
	return *db.sources[id]
}

type memSources struct{ db *memDB }

func (r *memSources) Create(ctx context.Context, s *domain.SourceItem) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c := *s
	r.db.sources[s.ID] = &c
	return nil
}

func (r *memSources) GetByID(ctx context.Context, ownerID, id string) (*domain.SourceItem, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.sources[id]
	if !ok || s.OwnerID != ownerID {
		return nil, domain.ErrSourceNotFound
	}
	c := *s
	return &c, nil
}

// pastCursor mirrors the repository's keyset predicate for newest-first listings.
func pastCursor(c *pagination.Cursor, createdAt time.Time, id string) bool {
	if c == nil {
		return true
	}
	if !createdAt.Equal(c.CreatedAt) {
		return createdAt.Before(c.CreatedAt)
	}
	return id < c.ID
}

func (r *memSources) ListByOwnerWithCursor(ctx context.Context, ownerID string, cursor *pagination.Cursor, limit int) (*SourcePageResult, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var items []*domain.SourceItem
	for _, s := range r.db.sources {
		if s.OwnerID != ownerID {
			continue
		}
		if !pastCursor(cursor, s.CreatedAt, s.ID) {
			continue
		}
		c := *s
		items = append(items, &c)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
	res := &SourcePageResult{}
	if len(items) > limit {
		items = items[:limit]
		res.HasMore = true
		last := items[len(items)-1]
		res.NextCursor = pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	res.Items = items
	return res, nil
}

func (r *memSources) ListReadySummaries(ctx context.Context, ownerID string, personas []domain.Persona, limit int) ([]*domain.SourceItem, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*domain.SourceItem
	for _, s := range r.db.sources {
		if s.OwnerID == ownerID && s.Status == domain.SourceStatusReady && personaIn(s.Persona, personas) {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memSources) StartRun(ctx context.Context, run domain.IngestionRun, prevRunID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.sources[run.SourceID]
	if !ok || s.OwnerID != run.OwnerID {
		return domain.ErrSourceNotFound
	}
	if s.RunID != prevRunID {
		return domain.ErrRunSuperseded
	}
	s.RunID = run.RunID
	s.Status = domain.SourceStatusExtracting
	s.Progress = 5
	s.ErrorMessage = ""
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memSources) Checkpoint(ctx context.Context, run domain.IngestionRun, cp SourceCheckpoint) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.sources[run.SourceID]
	if !ok || s.RunID != run.RunID || s.Status != cp.From {
		return domain.ErrRunSuperseded
	}
	s.Status = cp.To.Status
	s.Progress = cp.To.Progress
	if cp.FullText != nil {
		s.FullText = *cp.FullText
	}
	if cp.Summary != nil {
		s.Summary = *cp.Summary
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memSources) MarkFailed(ctx context.Context, run domain.IngestionRun, message string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.sources[run.SourceID]
	if !ok || s.RunID != run.RunID || s.State().IsTerminal() {
		return domain.ErrRunSuperseded
	}
	s.Status = domain.SourceStatusFailed
	s.ErrorMessage = message
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memSources) FailStaleRuns(ctx context.Context, before time.Time, message string) ([]domain.IngestionRun, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var runs []domain.IngestionRun
	for _, s := range r.db.sources {
		if s.State().IsInFlight() && s.UpdatedAt.Before(before) {
			s.Status = domain.SourceStatusFailed
			s.ErrorMessage = message
			runs = append(runs, domain.IngestionRun{OwnerID: s.OwnerID, SourceID: s.ID, RunID: s.RunID})
		}
	}
	return runs, nil
}

func (r *memSources) Delete(ctx context.Context, ownerID, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.sources[id]
	if !ok || s.OwnerID != ownerID {
		return domain.ErrSourceNotFound
	}
	delete(r.db.sources, id)
	return nil
}

func (r *memSources) CountReady(ctx context.Context, ownerID string) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for _, s := range r.db.sources {
		if s.OwnerID == ownerID && s.Status == domain.SourceStatusReady {
			n++
		}
	}
	return n, nil
}

type memChunks struct{ db *memDB }

func (r *memChunks) InsertBatch(ctx context.Context, chunks []*domain.KnowledgeChunk) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.insertErr != nil {
		return r.db.insertErr
	}
	for _, c := range chunks {
		cp := *c
		r.db.chunks[c.ID] = &cp
	}
	return nil
}

func (r *memChunks) DeleteBySource(ctx context.Context, ownerID, sourceID string) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for id, c := range r.db.chunks {
		if c.OwnerID == ownerID && c.SourceID == sourceID {
			delete(r.db.chunks, id)
			n++
		}
	}
	return n, nil
}

func (r *memChunks) Select(ctx context.Context, q domain.ChunkQuery) ([]*domain.KnowledgeChunk, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*domain.KnowledgeChunk
	for _, c := range r.db.chunks {
		if c.OwnerID != q.OwnerID || !personaIn(c.Persona, q.Personas) || !categoryIn(c.Category, q.Categories) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.RelevanceScore != b.RelevanceScore {
			return a.RelevanceScore > b.RelevanceScore
		}
		if q.Embedding != nil && a.Embedding != nil && b.Embedding != nil {
			da, dbb := cosineDistance(q.Embedding, a.Embedding), cosineDistance(q.Embedding, b.Embedding)
			if da != dbb {
				return da < dbb
			}
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *memChunks) ListBySource(ctx context.Context, ownerID, sourceID string) ([]*domain.KnowledgeChunk, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*domain.KnowledgeChunk
	for _, c := range r.db.chunks {
		if c.OwnerID == ownerID && c.SourceID == sourceID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memChunks) CountByCategory(ctx context.Context, ownerID string) (map[domain.Category]int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := map[domain.Category]int{}
	for _, c := range r.db.chunks {
		if c.OwnerID == ownerID {
			out[c.Category]++
		}
	}
	return out, nil
}

type memStats struct{ db *memDB }

func (r *memStats) Get(ctx context.Context, ownerID string) (*domain.BrainStats, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.stats[ownerID]
	if !ok {
		return nil, nil
	}
	c := *s
	return &c, nil
}

func (r *memStats) Upsert(ctx context.Context, stats *domain.BrainStats) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c := *stats
	r.db.stats[stats.OwnerID] = &c
	return nil
}

type memProspects struct{ db *memDB }

func (r *memProspects) Create(ctx context.Context, p *domain.Prospect) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c := *p
	r.db.prospects[p.ID] = &c
	return nil
}

func (r *memProspects) GetByID(ctx context.Context, ownerID, id string) (*domain.Prospect, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.prospects[id]
	if !ok || p.OwnerID != ownerID {
		return nil, domain.ErrProspectNotFound
	}
	c := *p
	return &c, nil
}

func (r *memProspects) UpdateStage(ctx context.Context, ownerID, id string, stage domain.Stage) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.prospects[id]
	if !ok || p.OwnerID != ownerID {
		return domain.ErrProspectNotFound
	}
	p.CurrentStage = stage
	return nil
}

func (r *memProspects) UpdateOutcome(ctx context.Context, ownerID, id string, outcome domain.Outcome) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.prospects[id]
	if !ok || p.OwnerID != ownerID {
		return domain.ErrProspectNotFound
	}
	p.Outcome = outcome
	return nil
}

type memConversations struct{ db *memDB }

func (r *memConversations) CreateMessage(ctx context.Context, m *domain.Message) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c := *m
	r.db.messages = append(r.db.messages, &c)
	return nil
}

func (r *memConversations) ListMessages(ctx context.Context, ownerID, prospectID string, personas ...domain.Persona) ([]*domain.Message, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*domain.Message
	for _, m := range r.db.messages {
		if m.OwnerID != ownerID || m.ProspectID != prospectID {
			continue
		}
		if len(personas) > 0 && !personaIn(m.Persona, personas) {
			continue
		}
		c := *m
		out = append(out, &c)
	}
	return out, nil
}

func (r *memConversations) CreateSuggestions(ctx context.Context, suggestions []*domain.Suggestion) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, s := range suggestions {
		c := *s
		r.db.suggestions[s.ID] = &c
	}
	return nil
}

func (r *memConversations) GetSuggestion(ctx context.Context, ownerID, id string) (*domain.Suggestion, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.suggestions[id]
	if !ok || s.OwnerID != ownerID {
		return nil, domain.ErrSuggestionNotFound
	}
	c := *s
	return &c, nil
}

func (r *memConversations) MarkSuggestionUsed(ctx context.Context, ownerID, id string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.suggestions[id]
	if !ok || s.OwnerID != ownerID {
		return domain.ErrSuggestionNotFound
	}
	s.Used = true
	s.UsedAt = &at
	return nil
}

func (r *memConversations) SetSuggestionFeedback(ctx context.Context, ownerID, id string, feedback domain.Feedback) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.suggestions[id]
	if !ok || s.OwnerID != ownerID {
		return domain.ErrSuggestionNotFound
	}
	s.Feedback = feedback
	return nil
}

type memWorkspaces struct{ db *memDB }

func (r *memWorkspaces) Create(ctx context.Context, w *domain.Workspace) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c := *w
	r.db.workspaces[w.ID] = &c
	return nil
}

func (r *memWorkspaces) GetByID(ctx context.Context, ownerID, id string) (*domain.Workspace, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	w, ok := r.db.workspaces[id]
	if !ok || w.OwnerID != ownerID {
		return nil, domain.ErrWorkspaceNotFound
	}
	c := *w
	return &c, nil
}

func personaIn(p domain.Persona, set []domain.Persona) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == p {
			return true
		}
	}
	return false
}

func categoryIn(c domain.Category, set []domain.Category) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == c {
			return true
		}
	}
	return false
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// fakeGen answers generation requests by schema name, or by a substring of the system
// prompt for unstructured calls, and records every request.
type fakeGen struct {
	mu       sync.Mutex
	bySchema map[string]func(generation.Request) (*generation.Response, error)
	byPrompt map[string]func(generation.Request) (*generation.Response, error)
	requests []generation.Request
	// afterCall runs once each request has been recorded.
	afterCall func()
}

func newFakeGen() *fakeGen {
	return &fakeGen{
		bySchema: map[string]func(generation.Request) (*generation.Response, error){},
		byPrompt: map[string]func(generation.Request) (*generation.Response, error){},
	}
}

func (f *fakeGen) onSchema(name string, content string) *fakeGen {
	f.bySchema[name] = func(generation.Request) (*generation.Response, error) { return textResponse(content), nil }
	return f
}

func (f *fakeGen) onSchemaJSON(name string, v any) *fakeGen {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return f.onSchema(name, string(data))
}

func (f *fakeGen) onSchemaErr(name string, err error) *fakeGen {
	f.bySchema[name] = func(generation.Request) (*generation.Response, error) { return nil, err }
	return f
}

func (f *fakeGen) onPrompt(fragment, content string) *fakeGen {
	f.byPrompt[fragment] = func(generation.Request) (*generation.Response, error) { return textResponse(content), nil }
	return f
}

func (f *fakeGen) onPromptErr(fragment string, err error) *fakeGen {
	f.byPrompt[fragment] = func(generation.Request) (*generation.Response, error) { return nil, err }
	return f
}

func (f *fakeGen) Invoke(ctx context.Context, req generation.Request) (*generation.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	after := f.afterCall
	f.mu.Unlock()
	if after != nil {
		after()
	}

	if req.Schema != nil {
		if h, ok := f.bySchema[req.Schema.Name]; ok {
			return h(req)
		}
		return nil, fmt.Errorf("unexpected schema %q", req.Schema.Name)
	}
	system := ""
	if len(req.Messages) > 0 {
		system = req.Messages[0].Text()
	}
	for fragment, h := range f.byPrompt {
		if strings.Contains(system, fragment) {
			return h(req)
		}
	}
	return nil, fmt.Errorf("unexpected unstructured request")
}

func (f *fakeGen) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeGen) requestsFor(schema string) []generation.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []generation.Request
	for _, r := range f.requests {
		if r.Schema != nil && r.Schema.Name == schema {
			out = append(out, r)
		}
	}
	return out
}

func textResponse(content string) *generation.Response {
	return &generation.Response{Choices: []generation.Choice{{Message: generation.ResponseMessage{Content: content}}}}
}

// requestText joins the text of every message in req.
func requestText(req generation.Request) string {
	var b strings.Builder
	for _, m := range req.Messages {
		b.WriteString(m.Text())
		b.WriteString("\n")
	}
	return b.String()
}

// MockObjectStore is a mock implementation of ObjectStore
type MockObjectStore struct {
	mock.Mock
}

func (m *MockObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) (*storage.Object, error) {
	args := m.Called(ctx, key, data, contentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Object), args.Error(1)
}

func (m *MockObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockObjectStore) PresignedURL(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockObjectStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// MockEmbedder is a mock implementation of Embedder
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// MockUUIDGenerator hands out the given IDs in order, then numbered defaults.
type MockUUIDGenerator struct {
	mu        sync.Mutex
	callCount int
	uuids     []string
}

func NewMockUUIDGenerator(uuids ...string) *MockUUIDGenerator {
	return &MockUUIDGenerator{uuids: uuids}
}

func (m *MockUUIDGenerator) NewString() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	if m.callCount <= len(m.uuids) {
		return m.uuids[m.callCount-1]
	}
	return fmt.Sprintf("uuid-%d", m.callCount)
}

// memObjectStore keeps uploads in memory.
type memObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{objects: map[string][]byte{}}
}

func (s *memObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) (*storage.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return &storage.Object{Key: key, URL: "https://files.test/" + key}, nil
}

func (s *memObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such key %s", key)
	}
	return data, nil
}

func (s *memObjectStore) PresignedURL(ctx context.Context, key string) (string, error) {
	return "https://files.test/" + key + "?signature=test", nil
}

func (s *memObjectStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}
