//go:build integration

package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/closerbrain/internal/domain"
	"github.com/cloo-solutions/closerbrain/internal/pagination"
	"github.com/cloo-solutions/closerbrain/internal/service"
	"github.com/cloo-solutions/closerbrain/internal/testutil"
)

const owner = "owner-1"

func setupPool(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()
	pc := testutil.NewPostgresContainer(ctx, t)
	t.Cleanup(func() { _ = pc.Terminate(context.Background()) })

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	t.Cleanup(pool.Close)
	return pool
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func createSource(ctx context.Context, t *testing.T, repo *SourceRepository, persona domain.Persona) *domain.SourceItem {
	t.Helper()
	s := &domain.SourceItem{
		ID:        uuid.NewString(),
		OwnerID:   owner,
		Kind:      domain.SourceKindLink,
		Title:     "Objection handling 101",
		OriginURL: "https://youtu.be/x",
		Platform:  domain.PlatformYouTube,
		Persona:   persona,
		Status:    domain.SourceStatusQueued,
		CreatedAt: now(),
		UpdatedAt: now(),
	}
	require.NoError(t, repo.Create(ctx, s))
	return s
}

func vector(hot int) []float32 {
	v := make([]float32, 1536)
	v[hot] = 1
	return v
}

func TestSourceRepository_RunGuards(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	repo := NewSourceRepository(pool)
	src := createSource(ctx, t, repo, domain.PersonaBoth)

	first := domain.IngestionRun{OwnerID: owner, SourceID: src.ID, RunID: "run-1"}
	require.NoError(t, repo.StartRun(ctx, first, ""))
	assert.ErrorIs(t, repo.StartRun(ctx, domain.IngestionRun{OwnerID: owner, SourceID: src.ID, RunID: "run-x"}, ""), domain.ErrRunSuperseded)

	text := "full text"
	err := repo.Checkpoint(ctx, first, service.SourceCheckpoint{
		From:     domain.SourceStatusSummarizing,
		To:       domain.IngestionState{Status: domain.SourceStatusChunking, Progress: 70},
		FullText: &text,
	})
	assert.ErrorIs(t, err, domain.ErrRunSuperseded, "wrong from status")

	require.NoError(t, repo.Checkpoint(ctx, first, service.SourceCheckpoint{
		From:     domain.SourceStatusExtracting,
		To:       domain.IngestionState{Status: domain.SourceStatusSummarizing, Progress: 40},
		FullText: &text,
	}))

	second := domain.IngestionRun{OwnerID: owner, SourceID: src.ID, RunID: "run-2"}
	require.NoError(t, repo.StartRun(ctx, second, "run-1"))

	summary := domain.SourceSummary{Summary: "s", TrustStrategies: domain.NotExtracted}
	err = repo.Checkpoint(ctx, first, service.SourceCheckpoint{
		From:    domain.SourceStatusExtracting,
		To:      domain.IngestionState{Status: domain.SourceStatusSummarizing, Progress: 40},
		Summary: &summary,
	})
	assert.ErrorIs(t, err, domain.ErrRunSuperseded, "old run")
	assert.ErrorIs(t, repo.MarkFailed(ctx, first, "boom"), domain.ErrRunSuperseded)

	require.NoError(t, repo.MarkFailed(ctx, second, "boom"))
	got, err := repo.GetByID(ctx, owner, src.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceStatusFailed, got.Status)
	assert.Equal(t, "boom", got.ErrorMessage)
	assert.Equal(t, "full text", got.FullText)
	assert.Equal(t, "run-2", got.RunID)
	assert.ErrorIs(t, repo.MarkFailed(ctx, second, "again"), domain.ErrRunSuperseded, "terminal rows stay put")

	assert.ErrorIs(t, repo.StartRun(ctx, domain.IngestionRun{OwnerID: "intruder", SourceID: src.ID, RunID: "r"}, "run-2"), domain.ErrSourceNotFound)
}

func TestSourceRepository_SummaryRoundTripAndReadyList(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	repo := NewSourceRepository(pool)

	setter := createSource(ctx, t, repo, domain.PersonaSetter)
	closer := createSource(ctx, t, repo, domain.PersonaCloser)
	for _, src := range []*domain.SourceItem{setter, closer} {
		run := domain.IngestionRun{OwnerID: owner, SourceID: src.ID, RunID: "r-" + src.ID}
		require.NoError(t, repo.StartRun(ctx, run, ""))
		summary := domain.SourceSummary{Summary: "overview " + src.ID, ObjectionFrameworks: "isolate"}
		require.NoError(t, repo.Checkpoint(ctx, run, service.SourceCheckpoint{
			From:    domain.SourceStatusExtracting,
			To:      domain.IngestionState{Status: domain.SourceStatusReady, Progress: 100},
			Summary: &summary,
		}))
	}

	ready, err := repo.ListReadySummaries(ctx, owner, []domain.Persona{domain.PersonaSetter, domain.PersonaBoth}, 3)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, setter.ID, ready[0].ID)
	assert.Equal(t, "isolate", ready[0].Summary.ObjectionFrameworks)

	n, err := repo.CountReady(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSourceRepository_Pagination(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	repo := NewSourceRepository(pool)
	for i := 0; i < 5; i++ {
		createSource(ctx, t, repo, domain.PersonaBoth)
		time.Sleep(2 * time.Millisecond)
	}

	seen := map[string]bool{}
	page, err := repo.ListByOwnerWithCursor(ctx, owner, nil, 2)
	require.NoError(t, err)
	for page.HasMore {
		for _, s := range page.Items {
			seen[s.ID] = true
		}
		cursor, err := pagination.Decode(page.NextCursor)
		require.NoError(t, err)
		page, err = repo.ListByOwnerWithCursor(ctx, owner, cursor, 2)
		require.NoError(t, err)
	}
	for _, s := range page.Items {
		seen[s.ID] = true
	}
	assert.Len(t, seen, 5)
}

func TestChunkRepository_SelectOrdering(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	sources := NewSourceRepository(pool)
	chunks := NewChunkRepository(pool)
	src := createSource(ctx, t, sources, domain.PersonaBoth)

	base := now()
	mk := func(id string, score int, persona domain.Persona, emb []float32, age time.Duration) *domain.KnowledgeChunk {
		return &domain.KnowledgeChunk{
			ID: id, OwnerID: owner, SourceID: src.ID, Category: domain.CategoryObjectionHandling,
			Content: id, TriggerPhrases: []string{"too expensive"}, RelevanceScore: score,
			Persona: persona, Embedding: emb, CreatedAt: base.Add(-age),
		}
	}
	learned := mk("learned", domain.ConversationRelevanceScore, domain.PersonaBoth, nil, time.Hour)
	learned.SourceID = domain.ConversationSourceID
	require.NoError(t, chunks.InsertBatch(ctx, []*domain.KnowledgeChunk{
		learned,
		mk("near", 50, domain.PersonaSetter, vector(0), 2*time.Hour),
		mk("far", 50, domain.PersonaBoth, vector(1), time.Minute),
		mk("plain", 50, domain.PersonaBoth, nil, 0),
		mk("closer-only", 90, domain.PersonaCloser, nil, 0),
	}))

	got, err := chunks.Select(ctx, domain.ChunkQuery{
		OwnerID:    owner,
		Personas:   []domain.Persona{domain.PersonaSetter, domain.PersonaBoth},
		Categories: []domain.Category{domain.CategoryObjectionHandling},
		Embedding:  vector(0),
		Limit:      8,
	})
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, c := range got {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"learned", "near", "far", "plain"}, ids)
	assert.Equal(t, domain.ConversationSourceID, got[0].SourceID)
	assert.Equal(t, []string{"too expensive"}, got[1].TriggerPhrases)

	got, err = chunks.Select(ctx, domain.ChunkQuery{OwnerID: owner, Personas: []domain.Persona{domain.PersonaBoth}, Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "learned", got[0].ID)
	assert.Equal(t, "plain", got[1].ID, "without a query embedding ties fall back to recency")
}

func TestChunkRepository_DeleteAndCount(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	sources := NewSourceRepository(pool)
	chunks := NewChunkRepository(pool)
	src := createSource(ctx, t, sources, domain.PersonaBoth)

	require.NoError(t, chunks.InsertBatch(ctx, []*domain.KnowledgeChunk{
		{ID: "a", OwnerID: owner, SourceID: src.ID, Category: domain.CategoryTrustBuilding, Content: "a", RelevanceScore: 50, Persona: domain.PersonaBoth},
		{ID: "b", OwnerID: owner, SourceID: src.ID, Category: domain.CategoryTrustBuilding, Content: "b", RelevanceScore: 50, Persona: domain.PersonaBoth},
		{ID: "c", OwnerID: owner, SourceID: domain.ConversationSourceID, Category: domain.CategoryGeneralWisdom, Content: "c", RelevanceScore: 80, Persona: domain.PersonaBoth},
	}))

	counts, err := chunks.CountByCategory(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, map[domain.Category]int{domain.CategoryTrustBuilding: 2, domain.CategoryGeneralWisdom: 1}, counts)

	n, err := chunks.DeleteBySource(ctx, owner, src.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	learned, err := chunks.ListBySource(ctx, owner, domain.ConversationSourceID)
	require.NoError(t, err)
	require.Len(t, learned, 1)
	assert.Equal(t, "c", learned[0].ID)
}

func TestBrainStatsRepository_Upsert(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	repo := NewBrainStatsRepository(pool)

	got, err := repo.Get(ctx, owner)
	require.NoError(t, err)
	assert.Nil(t, got)

	stats := domain.ComputeBrainStats(owner, 1, map[domain.Category]int{domain.CategoryRapportBuilding: 4}, now())
	require.NoError(t, repo.Upsert(ctx, stats))
	stats = domain.ComputeBrainStats(owner, 2, map[domain.Category]int{domain.CategoryRapportBuilding: 6}, now())
	require.NoError(t, repo.Upsert(ctx, stats))

	got, err = repo.Get(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalSources)
	assert.Equal(t, 6, got.CategoryBreakdown[domain.CategoryRapportBuilding])
	assert.Equal(t, stats.Title, got.Title)
}

func TestConversationRepository_MessagesAndSuggestions(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	prospects := NewProspectRepository(pool)
	conv := NewConversationRepository(pool)

	p := domain.NewProspect(uuid.NewString(), owner, "Sam", now())
	require.NoError(t, prospects.Create(ctx, p))
	require.NoError(t, prospects.UpdateStage(ctx, owner, p.ID, domain.StagePainDiscovery))

	warning := "slow down"
	inbound := &domain.Message{
		ID: uuid.NewString(), OwnerID: owner, ProspectID: p.ID, Persona: domain.PersonaSetter,
		Direction: domain.DirectionInbound, Content: "too expensive", CreatedAt: now(),
		Analysis: &domain.Analysis{Stage: domain.StageObjectionResistance, Tone: "hesitant", PushyWarning: &warning},
	}
	require.NoError(t, conv.CreateMessage(ctx, inbound))
	require.NoError(t, conv.CreateMessage(ctx, &domain.Message{
		ID: uuid.NewString(), OwnerID: owner, ProspectID: p.ID, Persona: domain.PersonaCloser,
		Direction: domain.DirectionOutbound, Content: "let's talk", CreatedAt: now().Add(time.Second),
	}))

	setterThread, err := conv.ListMessages(ctx, owner, p.ID, domain.PersonaSetter)
	require.NoError(t, err)
	require.Len(t, setterThread, 1)
	require.NotNil(t, setterThread[0].Analysis)
	assert.Equal(t, "slow down", *setterThread[0].Analysis.PushyWarning)

	all, err := conv.ListMessages(ctx, owner, p.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Nil(t, all[1].Analysis)

	opener := &domain.Suggestion{
		ID: uuid.NewString(), OwnerID: owner, ProspectID: p.ID, Persona: domain.PersonaSetter,
		Type: domain.SuggestionPrimary, Text: "hey!", Feedback: domain.FeedbackNone, CreatedAt: now(),
	}
	require.NoError(t, conv.CreateSuggestions(ctx, []*domain.Suggestion{opener}))

	first := now()
	require.NoError(t, conv.MarkSuggestionUsed(ctx, owner, opener.ID, first))
	require.NoError(t, conv.MarkSuggestionUsed(ctx, owner, opener.ID, first.Add(time.Hour)))
	require.NoError(t, conv.SetSuggestionFeedback(ctx, owner, opener.ID, domain.FeedbackPositive))

	got, err := conv.GetSuggestion(ctx, owner, opener.ID)
	require.NoError(t, err)
	assert.Empty(t, got.MessageID)
	assert.True(t, got.Used)
	assert.True(t, first.Equal(*got.UsedAt))
	assert.Equal(t, domain.FeedbackPositive, got.Feedback)

	_, err = conv.GetSuggestion(ctx, "intruder", opener.ID)
	assert.ErrorIs(t, err, domain.ErrSuggestionNotFound)
}

func TestTxRunner_RollsBack(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	sources := NewSourceRepository(pool)
	src := createSource(ctx, t, sources, domain.PersonaBoth)
	runner := NewTxRunner(pool)

	boom := errors.New("boom")
	err := runner.WithTx(ctx, func(repos service.TxRepositories) error {
		if err := repos.Sources().StartRun(ctx, domain.IngestionRun{OwnerID: owner, SourceID: src.ID, RunID: "r"}, ""); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := sources.GetByID(ctx, owner, src.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceStatusQueued, got.Status)
	assert.Empty(t, got.RunID)
}

func TestWorkspaceRepository(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	repo := NewWorkspaceRepository(pool)

	ws := &domain.Workspace{ID: uuid.NewString(), OwnerID: owner, Name: "Fit", Offer: "12 weeks", CreatedAt: now()}
	require.NoError(t, repo.Create(ctx, ws))

	got, err := repo.GetByID(ctx, owner, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, "12 weeks", got.Offer)

	_, err = repo.GetByID(ctx, "intruder", ws.ID)
	assert.ErrorIs(t, err, domain.ErrWorkspaceNotFound)
}
