package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/closerbrain/internal/domain"
	"github.com/cloo-solutions/closerbrain/internal/events"
	"github.com/cloo-solutions/closerbrain/internal/generation"
	"github.com/cloo-solutions/closerbrain/internal/prompts"
)

const testOwner = "owner-1"

var fullSummary = map[string]string{
	"summary":               "A course on closing high-ticket deals in DMs.",
	"psychology":            "People buy certainty, not information.",
	"rapport_techniques":    "Mirror their wording before asking anything.",
	"conversation_starters": "Ask about the last thing they posted.",
	"objection_frameworks":  "Acknowledge, isolate, reframe, ask.",
	"closing_techniques":    "Assumptive close on the next available slot.",
	"language_patterns":     "Use 'imagine if' to future-pace.",
	"emotional_triggers":    "Fear of staying stuck another year.",
	"trust_strategies":      "Share a client story with numbers.",
}

func chunkJSON(entries ...chunkEntry) chunkOutput {
	return chunkOutput{Chunks: entries}
}

func entry(category domain.Category, content string) chunkEntry {
	return chunkEntry{
		Category:       string(category),
		Content:        content,
		TriggerPhrases: []string{"too expensive"},
		UsageExample:   "Totally fair, what would make it a no-brainer?",
	}
}

// testEnv wires every service over the in-memory repositories.
type testEnv struct {
	db          *memDB
	gen         *fakeGen
	store       *memObjectStore
	progress    *recordingPublisher
	brain       *BrainService
	knowledge   *KnowledgeStore
	ingestion   *IngestionService
	selector    *RetrievalSelector
	suggestions *SuggestionService
	learning    *LearningService
	prospects   *ProspectService
	workspaces  *WorkspaceService
}

func newTestEnv(t *testing.T, gen *fakeGen) *testEnv {
	t.Helper()

	db := newMemDB()
	store := newMemObjectStore()
	progress := &recordingPublisher{}
	catalog := prompts.Default()
	retrier := generation.NewRetrier(gen, generation.RetryConfig{MaxAttempts: 3}, nil)

	brain := NewBrainService(db.Sources(), db.Chunks(), db.Stats())
	knowledge := NewKnowledgeStore(db.Sources(), db.Chunks(), db, brain, store, nil)
	selector := NewRetrievalSelector(knowledge, db.Sources(), nil, nil)
	learning := NewLearningService(db.Conversations(), knowledge, retrier, catalog, nil)

	return &testEnv{
		db:        db,
		gen:       gen,
		store:     store,
		progress:  progress,
		brain:     brain,
		knowledge: knowledge,
		selector:  selector,
		learning:  learning,
		ingestion: NewIngestionService(IngestionDeps{
			Sources:   db.Sources(),
			TxRunner:  db,
			Store:     store,
			Extractor: NewContentExtractor(retrier, store, catalog, 0),
			Distiller: NewKnowledgeDistiller(retrier, catalog, nil, nil),
			Knowledge: knowledge,
			Brain:     brain,
			Publisher: progress,
		}),
		suggestions: NewSuggestionService(SuggestionDeps{
			Prospects:     db.Prospects(),
			Conversations: db.Conversations(),
			Workspaces:    db.Workspaces(),
			TxRunner:      db,
			Store:         store,
			Brain:         brain,
			Classifier:    NewStageClassifier(retrier, catalog),
			Selector:      selector,
			Retrier:       retrier,
			Prompts:       catalog,
		}),
		prospects:  NewProspectService(db.Prospects(), db.Workspaces(), learning, nil),
		workspaces: NewWorkspaceService(db.Workspaces()),
	}
}

// ingestionGen answers the extraction, summary and chunk calls of one ingestion run.
func ingestionGen(extracted string, chunks chunkOutput) *fakeGen {
	return newFakeGen().
		onPrompt("You extract sales knowledge", extracted).
		onSchemaJSON("source_summary", fullSummary).
		onSchemaJSON("knowledge_chunks", chunks)
}

// seedChunk stores a chunk directly and recomputes stats.
func (e *testEnv) seedChunk(t *testing.T, c *domain.KnowledgeChunk) {
	t.Helper()
	if c.OwnerID == "" {
		c.OwnerID = testOwner
	}
	if c.SourceID == "" {
		c.SourceID = "seed-source"
	}
	if c.RelevanceScore == 0 {
		c.RelevanceScore = domain.DefaultRelevanceScore
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	require.NoError(t, e.db.Chunks().InsertBatch(context.Background(), []*domain.KnowledgeChunk{c}))
	_, err := e.brain.Recompute(context.Background(), c.OwnerID)
	require.NoError(t, err)
}

func (e *testEnv) seedProspect(t *testing.T, name string) *domain.Prospect {
	t.Helper()
	p, err := e.prospects.Create(context.Background(), CreateProspectInput{OwnerID: testOwner, Name: name})
	require.NoError(t, err)
	return p
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Progress
}

func (p *recordingPublisher) PublishProgress(ctx context.Context, ev events.Progress) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) statuses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, fmt.Sprintf("%s/%d", ev.Status, ev.Progress))
	}
	return out
}
