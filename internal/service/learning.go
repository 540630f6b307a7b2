package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/cloo-solutions/closerbrain/internal/domain"
	"github.com/cloo-solutions/closerbrain/internal/generation"
	"github.com/cloo-solutions/closerbrain/internal/logger"
	"github.com/cloo-solutions/closerbrain/internal/prompts"
	"github.com/cloo-solutions/closerbrain/internal/telemetry"
)

// MaxLearnedPatterns caps the patterns kept from one conversation.
const MaxLearnedPatterns = 5

type patternEntry struct {
	Technique   string `json:"technique"`
	WhyItWorked string `json:"why_it_worked"`
	HowToApply  string `json:"how_to_apply"`
}

type patternOutput struct {
	Patterns []patternEntry `json:"patterns"`
}

func (p *patternOutput) Validate() error {
	if len(p.Patterns) == 0 {
		return errors.New("no patterns returned")
	}
	return nil
}

// PatternSchema requests technique triples.
func PatternSchema() *generation.Schema {
	str := jsonschema.Definition{Type: jsonschema.String}
	return &generation.Schema{
		Name: "learned_patterns",
		Definition: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"patterns": {
					Type: jsonschema.Array,
					Items: &jsonschema.Definition{
						Type: jsonschema.Object,
						Properties: map[string]jsonschema.Definition{
							"technique":     str,
							"why_it_worked": str,
							"how_to_apply":  str,
						},
						Required: []string{"technique", "why_it_worked", "how_to_apply"},
					},
				},
			},
			Required: []string{"patterns"},
		},
	}
}

// LearningService turns successful conversations into knowledge.
type LearningService struct {
	conversations ConversationRepositoryInterface
	knowledge     *KnowledgeStore
	retrier       *generation.Retrier
	prompts       *prompts.Catalog
	uuidGen       UUIDGenerator
	log           *logger.Logger
	now           func() time.Time
}

func NewLearningService(conversations ConversationRepositoryInterface, knowledge *KnowledgeStore, retrier *generation.Retrier, catalog *prompts.Catalog, log *logger.Logger) *LearningService {
	if catalog == nil {
		catalog = prompts.Default()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &LearningService{
		conversations: conversations,
		knowledge:     knowledge,
		retrier:       retrier,
		prompts:       catalog,
		uuidGen:       &DefaultUUIDGenerator{},
		log:           log.With("service", "LearningService"),
		now:           utcNow,
	}
}

// ExtractPatterns reads the whole conversation with a prospect and appends what worked
// as high-relevance general wisdom. It returns the number of chunks added.
func (l *LearningService) ExtractPatterns(ctx context.Context, ownerID, prospectID string) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "LearningService.ExtractPatterns", telemetry.SpanAttributes{
		OwnerID:    ownerID,
		ProspectID: prospectID,
		Operation:  "learn",
	})
	defer span.End()

	messages, err := l.conversations.ListMessages(ctx, ownerID, prospectID)
	if err != nil {
		return 0, fmt.Errorf("load conversation: %w", err)
	}
	if len(messages) == 0 {
		return 0, nil
	}

	req := generation.Request{
		Messages: []generation.Message{
			generation.SystemMessage(l.prompts.Learning),
			generation.UserMessage(generation.TextPart("Transcript:\n" + Transcript(messages, 0))),
		},
		Schema: PatternSchema(),
	}
	parsed, err := generation.CallStructured[patternOutput](ctx, l.retrier, req)
	if err != nil {
		span.SetError(err)
		return 0, err
	}
	if !parsed.OK() {
		return 0, parsed.Malformed
	}

	now := l.now()
	chunks := make([]*domain.KnowledgeChunk, 0, MaxLearnedPatterns)
	for _, p := range parsed.Value.Patterns {
		technique := strings.TrimSpace(p.Technique)
		if technique == "" {
			continue
		}
		content := technique
		if why := strings.TrimSpace(p.WhyItWorked); why != "" {
			content += "\nWhy it worked: " + why
		}
		chunks = append(chunks, &domain.KnowledgeChunk{
			ID:             l.uuidGen.NewString(),
			OwnerID:        ownerID,
			SourceID:       domain.ConversationSourceID,
			Category:       domain.CategoryGeneralWisdom,
			Content:        content,
			UsageExample:   strings.TrimSpace(p.HowToApply),
			RelevanceScore: domain.ConversationRelevanceScore,
			Persona:        domain.PersonaBoth,
			CreatedAt:      now,
		})
		if len(chunks) == MaxLearnedPatterns {
			break
		}
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	if _, err := l.knowledge.AppendChunks(ctx, ownerID, chunks); err != nil {
		span.SetError(err)
		return 0, err
	}
	l.log.Info("learned from conversation", "owner_id", ownerID, "prospect_id", prospectID, "chunks", len(chunks))
	return len(chunks), nil
}
