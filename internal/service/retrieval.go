package service

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/closerbrain/internal/domain"
	"github.com/cloo-solutions/closerbrain/internal/logger"
	"github.com/cloo-solutions/closerbrain/internal/telemetry"
)

const (
	// LiveReplyLimit is the chunk budget for replies to an inbound message.
	LiveReplyLimit = 8
	// DraftLimit is the chunk budget for openers and re-engagement drafts.
	DraftLimit = 5
	// maxContextSummaries bounds the source summaries added as secondary context.
	maxContextSummaries = 3
)

var stageCategories = map[domain.Stage][]domain.Category{
	domain.StageFirstContact:        {domain.CategoryOpeningLines, domain.CategoryRapportBuilding, domain.CategoryPsychologyInsight},
	domain.StageWarmRapport:         {domain.CategoryRapportBuilding, domain.CategoryEmotionalTrigger, domain.CategoryLanguagePattern},
	domain.StagePainDiscovery:       {domain.CategoryPainDiscovery, domain.CategoryPsychologyInsight, domain.CategoryEmotionalTrigger},
	domain.StageObjectionResistance: {domain.CategoryObjectionHandling, domain.CategoryTrustBuilding, domain.CategoryPsychologyInsight},
	domain.StageTrustReinforcement:  {domain.CategoryTrustBuilding, domain.CategoryRapportBuilding, domain.CategoryLanguagePattern},
	domain.StageReferralToExpert:    {domain.CategoryClosingTechniques, domain.CategoryTrustBuilding, domain.CategoryLanguagePattern},
	domain.StageExpertClose:         {domain.CategoryClosingTechniques, domain.CategoryObjectionHandling, domain.CategoryPsychologyInsight},
}

var defaultStageCategories = []domain.Category{
	domain.CategoryGeneralWisdom, domain.CategoryRapportBuilding, domain.CategoryPsychologyInsight,
}

// CategoriesForStage returns the categories retrieved for a stage. Unknown stages use
// the general mapping.
func CategoriesForStage(stage domain.Stage) []domain.Category {
	cats, ok := stageCategories[stage]
	if !ok {
		cats = defaultStageCategories
	}
	out := make([]domain.Category, len(cats))
	copy(out, cats)
	return out
}

// SummarySection is one labeled piece of a source summary.
type SummarySection struct {
	Label string
	Text  string
}

// SourceContext is the stage-relevant part of one ready source summary.
type SourceContext struct {
	SourceID string
	Title    string
	Sections []SummarySection
}

// RetrievedKnowledge is the context handed to the suggestion prompt.
type RetrievedKnowledge struct {
	Stage      domain.Stage
	Categories []domain.Category
	Chunks     []*domain.KnowledgeChunk
	Sources    []SourceContext
}

// PromptContext renders the retrieved knowledge for a generation prompt. Chunk content
// is included verbatim.
func (k *RetrievedKnowledge) PromptContext() string {
	var b strings.Builder
	b.WriteString("## Knowledge\n")
	if len(k.Chunks) == 0 {
		b.WriteString("(no matching knowledge)\n")
	}
	for i, c := range k.Chunks {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, c.Category, c.Content)
		if len(c.TriggerPhrases) > 0 {
			fmt.Fprintf(&b, "   Triggers: %s\n", strings.Join(c.TriggerPhrases, "; "))
		}
		if c.UsageExample != "" {
			fmt.Fprintf(&b, "   Example: %s\n", c.UsageExample)
		}
	}
	for _, s := range k.Sources {
		fmt.Fprintf(&b, "\n## From %q\n", s.Title)
		for _, sec := range s.Sections {
			fmt.Fprintf(&b, "%s: %s\n", sec.Label, sec.Text)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// SelectInput scopes a retrieval.
type SelectInput struct {
	OwnerID   string
	Stage     domain.Stage
	Persona   domain.Persona
	Limit     int
	QueryText string
}

// RetrievalSelector picks the knowledge relevant to a conversation stage.
type RetrievalSelector struct {
	knowledge *KnowledgeStore
	sources   SourceRepositoryInterface
	embedder  Embedder
	log       *logger.Logger
}

// NewRetrievalSelector creates a RetrievalSelector. embedder may be nil.
func NewRetrievalSelector(knowledge *KnowledgeStore, sources SourceRepositoryInterface, embedder Embedder, log *logger.Logger) *RetrievalSelector {
	if log == nil {
		log = logger.NewNop()
	}
	return &RetrievalSelector{
		knowledge: knowledge,
		sources:   sources,
		embedder:  embedder,
		log:       log.With("service", "RetrievalSelector"),
	}
}

// Select loads ranked chunks and source summaries for the stage concurrently.
func (r *RetrievalSelector) Select(ctx context.Context, in SelectInput) (*RetrievedKnowledge, error) {
	ctx, span := telemetry.StartSpan(ctx, "RetrievalSelector.Select", telemetry.SpanAttributes{
		OwnerID:   in.OwnerID,
		Operation: string(in.Stage),
	})
	defer span.End()

	limit := in.Limit
	if limit <= 0 {
		limit = LiveReplyLimit
	}
	personas := personaScope(in.Persona)
	out := &RetrievedKnowledge{
		Stage:      in.Stage,
		Categories: CategoriesForStage(in.Stage),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		chunks, err := r.knowledge.Select(gctx, domain.ChunkQuery{
			OwnerID:    in.OwnerID,
			Personas:   personas,
			Categories: out.Categories,
			Embedding:  r.queryEmbedding(gctx, in.QueryText),
			Limit:      limit,
		})
		if err != nil {
			return fmt.Errorf("select chunks: %w", err)
		}
		out.Chunks = chunks
		return nil
	})
	g.Go(func() error {
		items, err := r.sources.ListReadySummaries(gctx, in.OwnerID, personas, maxContextSummaries)
		if err != nil {
			return fmt.Errorf("list summaries: %w", err)
		}
		for _, item := range items {
			sections := StageSummarySections(in.Stage, item.Summary)
			if len(sections) == 0 {
				continue
			}
			out.Sources = append(out.Sources, SourceContext{SourceID: item.ID, Title: item.Title, Sections: sections})
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		span.SetError(err)
		return nil, err
	}
	return out, nil
}

// queryEmbedding is best-effort; without it ranking falls back to score and recency.
func (r *RetrievalSelector) queryEmbedding(ctx context.Context, text string) []float32 {
	if r.embedder == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	vec, err := r.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		r.log.Warn("query embedding failed", "error", err)
		return nil
	}
	return vec
}

// StageSummarySections keeps the overview plus the summary fields relevant to stage.
// Placeholder fields are skipped.
func StageSummarySections(stage domain.Stage, s domain.SourceSummary) []SummarySection {
	name := string(stage)
	candidates := []SummarySection{{"Overview", s.Summary}}
	if strings.Contains(name, "objection") {
		candidates = append(candidates, SummarySection{"Objection frameworks", s.ObjectionFrameworks})
	}
	if strings.Contains(name, "close") {
		candidates = append(candidates, SummarySection{"Closing techniques", s.ClosingTechniques})
	}
	if strings.Contains(name, "rapport") || stage == domain.StageFirstContact {
		candidates = append(candidates,
			SummarySection{"Rapport techniques", s.RapportTechniques},
			SummarySection{"Conversation starters", s.ConversationStarters},
		)
	}
	if strings.Contains(name, "trust") {
		candidates = append(candidates, SummarySection{"Trust strategies", s.TrustStrategies})
	}
	if strings.Contains(name, "pain") {
		candidates = append(candidates,
			SummarySection{"Psychology", s.Psychology},
			SummarySection{"Emotional triggers", s.EmotionalTriggers},
		)
	}

	out := make([]SummarySection, 0, len(candidates))
	for _, c := range candidates {
		text := strings.TrimSpace(c.Text)
		if text == "" || text == domain.NotExtracted {
			continue
		}
		out = append(out, SummarySection{Label: c.Label, Text: text})
	}
	return out
}

func personaScope(p domain.Persona) []domain.Persona {
	if p == "" || p == domain.PersonaBoth {
		return []domain.Persona{domain.PersonaSetter, domain.PersonaCloser, domain.PersonaBoth}
	}
	return []domain.Persona{p, domain.PersonaBoth}
}
