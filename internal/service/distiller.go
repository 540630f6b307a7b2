package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai/jsonschema"
	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/closerbrain/internal/domain"
	"github.com/cloo-solutions/closerbrain/internal/generation"
	"github.com/cloo-solutions/closerbrain/internal/logger"
	"github.com/cloo-solutions/closerbrain/internal/prompts"
	"github.com/cloo-solutions/closerbrain/internal/telemetry"
)

// MaxChunksPerSource caps the chunks kept from one distillation.
const MaxChunksPerSource = 25

const embedConcurrency = 4

type summaryOutput struct {
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

func (s *summaryOutput) Validate() error {
	if strings.TrimSpace(s.Summary) == "" {
		return fmt.Errorf("summary is empty")
	}
	return nil
}

func (s *summaryOutput) toDomain() domain.SourceSummary {
	orPlaceholder := func(v string) string {
		if strings.TrimSpace(v) == "" {
			return domain.NotExtracted
		}
		return strings.TrimSpace(v)
	}
	return domain.SourceSummary{
		Summary:              strings.TrimSpace(s.Summary),
		Psychology:           orPlaceholder(s.Psychology),
		RapportTechniques:    orPlaceholder(s.RapportTechniques),
		ConversationStarters: orPlaceholder(s.ConversationStarters),
		ObjectionFrameworks:  orPlaceholder(s.ObjectionFrameworks),
		ClosingTechniques:    orPlaceholder(s.ClosingTechniques),
		LanguagePatterns:     orPlaceholder(s.LanguagePatterns),
		EmotionalTriggers:    orPlaceholder(s.EmotionalTriggers),
		TrustStrategies:      orPlaceholder(s.TrustStrategies),
	}
}

var summaryFields = []string{
	"summary", "psychology", "rapport_techniques", "conversation_starters", "objection_frameworks",
	"closing_techniques", "language_patterns", "emotional_triggers", "trust_strategies",
}

// SummarySchema requires all nine summary fields.
func SummarySchema() *generation.Schema {
	props := make(map[string]jsonschema.Definition, len(summaryFields))
	for _, f := range summaryFields {
		props[f] = jsonschema.Definition{Type: jsonschema.String}
	}
	return &generation.Schema{
		Name: "source_summary",
		Definition: jsonschema.Definition{
			Type:       jsonschema.Object,
			Properties: props,
			Required:   summaryFields,
		},
	}
}

type chunkEntry struct {
	Category       string   `json:"category"`
	Content        string   `json:"content"`
	TriggerPhrases []string `json:"trigger_phrases"`
	UsageExample   string   `json:"usage_example"`
}

type chunkOutput struct {
	Chunks []chunkEntry `json:"chunks"`
}

// ChunkSchema constrains chunk categories to the fixed enumeration.
func ChunkSchema() *generation.Schema {
	return &generation.Schema{
		Name: "knowledge_chunks",
		Definition: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"chunks": {
					Type: jsonschema.Array,
					Items: &jsonschema.Definition{
						Type: jsonschema.Object,
						Properties: map[string]jsonschema.Definition{
							"category":        {Type: jsonschema.String, Enum: domain.CategoryNames()},
							"content":         {Type: jsonschema.String},
							"trigger_phrases": {Type: jsonschema.Array, Items: &jsonschema.Definition{Type: jsonschema.String}},
							"usage_example":   {Type: jsonschema.String},
						},
						Required: []string{"category", "content", "trigger_phrases", "usage_example"},
					},
				},
			},
			Required: []string{"chunks"},
		},
	}
}

// KnowledgeDistiller turns full text into a structured summary and knowledge chunks.
type KnowledgeDistiller struct {
	retrier  *generation.Retrier
	prompts  *prompts.Catalog
	embedder Embedder
	uuidGen  UUIDGenerator
	log      *logger.Logger
	now      func() time.Time
}

// NewKnowledgeDistiller creates a KnowledgeDistiller. embedder may be nil.
func NewKnowledgeDistiller(retrier *generation.Retrier, catalog *prompts.Catalog, embedder Embedder, log *logger.Logger) *KnowledgeDistiller {
	if catalog == nil {
		catalog = prompts.Default()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &KnowledgeDistiller{
		retrier:  retrier,
		prompts:  catalog,
		embedder: embedder,
		uuidGen:  &DefaultUUIDGenerator{},
		log:      log.With("service", "KnowledgeDistiller"),
		now:      utcNow,
	}
}

// Summarize requests the nine-field summary. Content that breaks the schema degrades
// to domain.DegradedSummary; only upstream failures are returned as errors.
func (d *KnowledgeDistiller) Summarize(ctx context.Context, src *domain.SourceItem, fullText string) (domain.SourceSummary, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeDistiller.Summarize", telemetry.SpanAttributes{
		OwnerID:  src.OwnerID,
		SourceID: src.ID,
	})
	defer span.End()

	req := generation.Request{
		Messages: []generation.Message{
			generation.SystemMessage(d.prompts.Summary),
			generation.UserMessage(generation.TextPart(materialPrompt(src, fullText))),
		},
		Schema: SummarySchema(),
	}

	parsed, err := generation.CallStructured[summaryOutput](ctx, d.retrier, req)
	if err != nil {
		span.SetError(err)
		return domain.SourceSummary{}, err
	}
	if !parsed.OK() {
		d.log.Warn("summary did not match schema, using degraded summary",
			"source_id", src.ID, "reason", parsed.Malformed.Reason)
		return domain.DegradedSummary(fullText), nil
	}
	return parsed.Value.toDomain(), nil
}

// Chunks requests 15-25 knowledge chunks. Malformed content yields zero chunks;
// entries with an unknown category or no content are dropped.
func (d *KnowledgeDistiller) Chunks(ctx context.Context, src *domain.SourceItem, fullText string) ([]*domain.KnowledgeChunk, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeDistiller.Chunks", telemetry.SpanAttributes{
		OwnerID:  src.OwnerID,
		SourceID: src.ID,
	})
	defer span.End()

	system := d.prompts.Chunks + "\nAllowed categories: " + strings.Join(domain.CategoryNames(), ", ")
	req := generation.Request{
		Messages: []generation.Message{
			generation.SystemMessage(system),
			generation.UserMessage(generation.TextPart(materialPrompt(src, fullText))),
		},
		Schema: ChunkSchema(),
	}

	parsed, err := generation.CallStructured[chunkOutput](ctx, d.retrier, req)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	if !parsed.OK() {
		d.log.Warn("chunks did not match schema, continuing with none",
			"source_id", src.ID, "reason", parsed.Malformed.Reason)
		return nil, nil
	}

	now := d.now()
	chunks := make([]*domain.KnowledgeChunk, 0, len(parsed.Value.Chunks))
	for i, entry := range parsed.Value.Chunks {
		category, err := domain.ParseCategory(strings.TrimSpace(entry.Category))
		if err != nil {
			d.log.Warn("dropping chunk with unknown category", "source_id", src.ID, "index", i, "category", entry.Category)
			continue
		}
		content := strings.TrimSpace(entry.Content)
		if content == "" {
			d.log.Warn("dropping empty chunk", "source_id", src.ID, "index", i)
			continue
		}
		chunks = append(chunks, &domain.KnowledgeChunk{
			ID:             d.uuidGen.NewString(),
			OwnerID:        src.OwnerID,
			SourceID:       src.ID,
			Category:       category,
			Content:        content,
			TriggerPhrases: cleanPhrases(entry.TriggerPhrases),
			UsageExample:   strings.TrimSpace(entry.UsageExample),
			RelevanceScore: domain.DefaultRelevanceScore,
			Persona:        src.Persona,
			CreatedAt:      now,
		})
		if len(chunks) == MaxChunksPerSource {
			break
		}
	}

	d.embed(ctx, chunks)
	return chunks, nil
}

// embed attaches embeddings best-effort; failures leave the chunk without one.
func (d *KnowledgeDistiller) embed(ctx context.Context, chunks []*domain.KnowledgeChunk) {
	if d.embedder == nil || len(chunks) == 0 {
		return
	}
	var g errgroup.Group
	g.SetLimit(embedConcurrency)
	for _, c := range chunks {
		g.Go(func() error {
			vec, err := d.embedder.GenerateEmbedding(ctx, c.Content)
			if err != nil {
				d.log.Warn("chunk embedding failed", "chunk_id", c.ID, "error", err)
				return nil
			}
			c.Embedding = vec
			return nil
		})
	}
	_ = g.Wait()
}

func materialPrompt(src *domain.SourceItem, fullText string) string {
	return fmt.Sprintf("Title: %s\n\nMaterial:\n%s", src.Title, fullText)
}

func cleanPhrases(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
