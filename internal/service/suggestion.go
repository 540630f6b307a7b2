package service

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/cloo-solutions/closerbrain/internal/domain"
	"github.com/cloo-solutions/closerbrain/internal/generation"
	"github.com/cloo-solutions/closerbrain/internal/logger"
	"github.com/cloo-solutions/closerbrain/internal/prompts"
	"github.com/cloo-solutions/closerbrain/internal/telemetry"
)

type replyOutput struct {
	Stage            string   `json:"stage"`
	DetectedTone     string   `json:"detected_tone"`
	PrimaryReply     string   `json:"primary_reply"`
	AlternativeReply string   `json:"alternative_reply"`
	SoftReply        string   `json:"soft_reply"`
	WhyThisWorks     string   `json:"why_this_works"`
	KnowledgeUsed    []string `json:"knowledge_used"`
	PushyWarning     *string  `json:"pushy_warning"`
}

func (r *replyOutput) Validate() error {
	if strings.TrimSpace(r.PrimaryReply) == "" ||
		strings.TrimSpace(r.AlternativeReply) == "" ||
		strings.TrimSpace(r.SoftReply) == "" {
		return errors.New("all three replies are required")
	}
	return nil
}

// ReplySchema requires all eight reply fields; pushy_warning may be null.
func ReplySchema() *generation.Schema {
	str := jsonschema.Definition{Type: jsonschema.String}
	return &generation.Schema{
		Name: "reply_suggestions",
		Definition: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"stage":             {Type: jsonschema.String, Enum: append(domain.StageNames(), string(domain.StageGeneral))},
				"detected_tone":     str,
				"primary_reply":     str,
				"alternative_reply": str,
				"soft_reply":        str,
				"why_this_works":    str,
				"knowledge_used":    {Type: jsonschema.Array, Items: &str},
				"pushy_warning":     {Type: jsonschema.String, Description: "null unless the conversation is getting pushy"},
			},
			Required: []string{
				"stage", "detected_tone", "primary_reply", "alternative_reply",
				"soft_reply", "why_this_works", "knowledge_used", "pushy_warning",
			},
		},
		Nullable: []string{"pushy_warning"},
	}
}

type draftOutput struct {
	PrimaryReply     string `json:"primary_reply"`
	AlternativeReply string `json:"alternative_reply"`
	SoftReply        string `json:"soft_reply"`
	WhyThisWorks     string `json:"why_this_works"`
}

func (d *draftOutput) Validate() error {
	if strings.TrimSpace(d.PrimaryReply) == "" ||
		strings.TrimSpace(d.AlternativeReply) == "" ||
		strings.TrimSpace(d.SoftReply) == "" {
		return errors.New("all three drafts are required")
	}
	return nil
}

// DraftSchema is used for openers and re-engagement messages.
func DraftSchema() *generation.Schema {
	str := jsonschema.Definition{Type: jsonschema.String}
	return &generation.Schema{
		Name: "message_drafts",
		Definition: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"primary_reply":     str,
				"alternative_reply": str,
				"soft_reply":        str,
				"why_this_works":    str,
			},
			Required: []string{"primary_reply", "alternative_reply", "soft_reply", "why_this_works"},
		},
	}
}

// GenerateInput is one inbound prospect message to answer.
type GenerateInput struct {
	OwnerID            string
	ProspectID         string
	Persona            domain.Persona
	Content            string
	Screenshot         []byte
	ScreenshotMimeType string
}

// GenerateResult is the outcome of a reply generation.
type GenerateResult struct {
	MessageID     string
	Analysis      domain.Analysis
	Suggestions   []*domain.Suggestion
	KnowledgeUsed []string
}

// DraftResult holds the suggestions of an opener or re-engagement draft.
type DraftResult struct {
	ProspectID  string
	Stage       domain.Stage
	Suggestions []*domain.Suggestion
}

// SuggestionDeps groups the collaborators of SuggestionService.
type SuggestionDeps struct {
	Prospects     ProspectRepositoryInterface
	Conversations ConversationRepositoryInterface
	Workspaces    WorkspaceRepositoryInterface
	TxRunner      TxRunner
	Store         ObjectStore
	Brain         *BrainService
	Classifier    *StageClassifier
	Selector      *RetrievalSelector
	Retrier       *generation.Retrier
	Prompts       *prompts.Catalog
	Logger        *logger.Logger
}

// SuggestionService writes reply suggestions grounded in the owner's knowledge.
type SuggestionService struct {
	prospects     ProspectRepositoryInterface
	conversations ConversationRepositoryInterface
	workspaces    WorkspaceRepositoryInterface
	txRunner      TxRunner
	store         ObjectStore
	brain         *BrainService
	classifier    *StageClassifier
	selector      *RetrievalSelector
	retrier       *generation.Retrier
	prompts       *prompts.Catalog
	uuidGen       UUIDGenerator
	log           *logger.Logger
	now           func() time.Time
}

// NewSuggestionService creates a new SuggestionService instance
func NewSuggestionService(deps SuggestionDeps) *SuggestionService {
	return NewSuggestionServiceWithUUIDGen(deps, &DefaultUUIDGenerator{})
}

// NewSuggestionServiceWithUUIDGen creates a SuggestionService with a custom UUID generator (for testing)
func NewSuggestionServiceWithUUIDGen(deps SuggestionDeps, uuidGen UUIDGenerator) *SuggestionService {
	catalog := deps.Prompts
	if catalog == nil {
		catalog = prompts.Default()
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &SuggestionService{
		prospects:     deps.Prospects,
		conversations: deps.Conversations,
		workspaces:    deps.Workspaces,
		txRunner:      deps.TxRunner,
		store:         deps.Store,
		brain:         deps.Brain,
		classifier:    deps.Classifier,
		selector:      deps.Selector,
		retrier:       deps.Retrier,
		prompts:       catalog,
		uuidGen:       uuidGen,
		log:           log.With("service", "SuggestionService"),
		now:           utcNow,
	}
}

// Generate answers an inbound message with three reply variants. Nothing is persisted
// unless the generation call produced a complete result.
func (s *SuggestionService) Generate(ctx context.Context, input GenerateInput) (*GenerateResult, error) {
	// Generation and the writes that follow it are not cut short by a disconnect.
	ctx = context.WithoutCancel(ctx)
	ctx, span := telemetry.StartSpan(ctx, "SuggestionService.Generate", telemetry.SpanAttributes{
		OwnerID:    input.OwnerID,
		ProspectID: input.ProspectID,
		Operation:  "generate",
	})
	defer span.End()

	persona, err := conversationalPersona(input.Persona)
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(input.Content)
	if content == "" && len(input.Screenshot) == 0 {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "message content or screenshot is required")
	}

	if err := s.requireKnowledge(ctx, input.OwnerID); err != nil {
		return nil, err
	}

	prospect, err := s.prospects.GetByID(ctx, input.OwnerID, input.ProspectID)
	if err != nil {
		return nil, err
	}
	history, err := s.conversations.ListMessages(ctx, input.OwnerID, prospect.ID, persona)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	messageID := s.uuidGen.NewString()
	stored := false
	var screenshotURL, screenshotRef string
	if len(input.Screenshot) > 0 {
		var key string
		key, screenshotURL, screenshotRef, err = s.uploadScreenshot(ctx, input.OwnerID, messageID, input.Screenshot, input.ScreenshotMimeType)
		if err != nil {
			span.SetError(err)
			return nil, err
		}
		defer func() {
			if !stored {
				s.discardScreenshot(ctx, key)
			}
		}()
	}

	classifierInput := content
	if classifierInput == "" {
		classifierInput = "[screenshot of the latest messages]"
	}
	stage, err := s.classifier.Classify(ctx, history, classifierInput)
	if err != nil {
		s.log.Warn("stage classification failed, using general", "prospect_id", prospect.ID, "error", err)
		stage = domain.StageGeneral
	}

	knowledge, err := s.selector.Select(ctx, SelectInput{
		OwnerID:   input.OwnerID,
		Stage:     stage,
		Persona:   persona,
		Limit:     LiveReplyLimit,
		QueryText: content,
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	parts := []generation.Part{generation.TextPart(s.replyPrompt(ctx, prospect, stage, history, knowledge, content))}
	if screenshotRef != "" {
		parts = append(parts, generation.ImagePart(screenshotRef))
	}
	req := generation.Request{
		Messages: []generation.Message{
			generation.SystemMessage(s.prompts.Persona(persona) + "\n" + s.prompts.Suggestion),
			generation.UserMessage(parts...),
		},
		Schema: ReplySchema(),
	}

	parsed, err := generation.CallStructured[replyOutput](ctx, s.retrier, req)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	if !parsed.OK() {
		span.SetError(parsed.Malformed)
		return nil, parsed.Malformed
	}
	out := parsed.Value

	if stage == domain.StageGeneral {
		stage = domain.NormalizeStage(out.Stage)
	}

	now := s.now()
	analysis := domain.Analysis{
		Stage:        stage,
		Tone:         strings.TrimSpace(out.DetectedTone),
		Reasoning:    strings.TrimSpace(out.WhyThisWorks),
		PushyWarning: trimmedOrNil(out.PushyWarning),
	}
	msg := &domain.Message{
		ID:            messageID,
		OwnerID:       input.OwnerID,
		ProspectID:    prospect.ID,
		Persona:       persona,
		Direction:     domain.DirectionInbound,
		Content:       content,
		ScreenshotURL: screenshotURL,
		Analysis:      &analysis,
		CreatedAt:     now,
	}
	suggestions := s.newSuggestions(input.OwnerID, prospect.ID, messageID, persona, now,
		out.PrimaryReply, out.AlternativeReply, out.SoftReply, out.WhyThisWorks)

	err = s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Conversations().CreateMessage(ctx, msg); err != nil {
			return err
		}
		if err := repos.Conversations().CreateSuggestions(ctx, suggestions); err != nil {
			return err
		}
		if stage == domain.StageGeneral {
			return nil
		}
		return repos.Prospects().UpdateStage(ctx, input.OwnerID, prospect.ID, stage)
	})
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("store suggestions: %w", err)
	}
	stored = true

	return &GenerateResult{
		MessageID:     messageID,
		Analysis:      analysis,
		Suggestions:   suggestions,
		KnowledgeUsed: cleanPhrases(out.KnowledgeUsed),
	}, nil
}

// DraftOpener drafts the first message to a prospect.
func (s *SuggestionService) DraftOpener(ctx context.Context, ownerID, prospectID string, persona domain.Persona) (*DraftResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "SuggestionService.DraftOpener", telemetry.SpanAttributes{
		OwnerID:    ownerID,
		ProspectID: prospectID,
		Operation:  "opener",
	})
	defer span.End()

	return s.draft(ctx, ownerID, prospectID, persona, false)
}

// Reengage drafts a nudge for a prospect who stopped replying.
func (s *SuggestionService) Reengage(ctx context.Context, ownerID, prospectID string, persona domain.Persona) (*DraftResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "SuggestionService.Reengage", telemetry.SpanAttributes{
		OwnerID:    ownerID,
		ProspectID: prospectID,
		Operation:  "reengage",
	})
	defer span.End()

	return s.draft(ctx, ownerID, prospectID, persona, true)
}

func (s *SuggestionService) draft(ctx context.Context, ownerID, prospectID string, persona domain.Persona, reengage bool) (*DraftResult, error) {
	persona, err := conversationalPersona(persona)
	if err != nil {
		return nil, err
	}
	if err := s.requireKnowledge(ctx, ownerID); err != nil {
		return nil, err
	}
	prospect, err := s.prospects.GetByID(ctx, ownerID, prospectID)
	if err != nil {
		return nil, err
	}

	stage := domain.StageFirstContact
	instructions := s.prompts.Opener
	var history []*domain.Message
	if reengage {
		stage = prospect.CurrentStage
		instructions = s.prompts.Reengage
		history, err = s.conversations.ListMessages(ctx, ownerID, prospect.ID, persona)
		if err != nil {
			return nil, fmt.Errorf("load conversation: %w", err)
		}
	}

	knowledge, err := s.selector.Select(ctx, SelectInput{
		OwnerID: ownerID,
		Stage:   stage,
		Persona: persona,
		Limit:   DraftLimit,
	})
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString(s.businessContext(ctx, prospect))
	fmt.Fprintf(&b, "\n## Prospect\nName: %s\n", prospect.Name)
	if prospect.Platform != "" {
		fmt.Fprintf(&b, "Platform: %s\n", prospect.Platform)
	}
	if prospect.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", prospect.Notes)
	}
	if reengage {
		fmt.Fprintf(&b, "Stage when they went quiet: %s\n\n## Conversation\n%s\n", stage, Transcript(history, maxHistoryMessages))
	}
	b.WriteString("\n" + knowledge.PromptContext())

	req := generation.Request{
		Messages: []generation.Message{
			generation.SystemMessage(s.prompts.Persona(persona) + "\n" + instructions),
			generation.UserMessage(generation.TextPart(b.String())),
		},
		Schema: DraftSchema(),
	}
	parsed, err := generation.CallStructured[draftOutput](ctx, s.retrier, req)
	if err != nil {
		return nil, err
	}
	if !parsed.OK() {
		return nil, parsed.Malformed
	}

	suggestions := s.newSuggestions(ownerID, prospect.ID, "", persona, s.now(),
		parsed.Value.PrimaryReply, parsed.Value.AlternativeReply, parsed.Value.SoftReply, parsed.Value.WhyThisWorks)
	err = s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		return repos.Conversations().CreateSuggestions(ctx, suggestions)
	})
	if err != nil {
		return nil, fmt.Errorf("store drafts: %w", err)
	}
	return &DraftResult{ProspectID: prospect.ID, Stage: stage, Suggestions: suggestions}, nil
}

// MarkUsed records that the owner sent a suggestion and appends it to the thread as an
// outbound message. Marking an already used suggestion is a no-op.
func (s *SuggestionService) MarkUsed(ctx context.Context, ownerID, suggestionID string) (*domain.Suggestion, error) {
	ctx, span := telemetry.StartSpan(ctx, "SuggestionService.MarkUsed", telemetry.SpanAttributes{
		OwnerID:   ownerID,
		Operation: "use",
	})
	defer span.End()

	sug, err := s.conversations.GetSuggestion(ctx, ownerID, suggestionID)
	if err != nil {
		return nil, err
	}
	if sug.Used {
		return sug, nil
	}

	now := s.now()
	msg := &domain.Message{
		ID:         s.uuidGen.NewString(),
		OwnerID:    ownerID,
		ProspectID: sug.ProspectID,
		Persona:    sug.Persona,
		Direction:  domain.DirectionOutbound,
		Content:    sug.Text,
		CreatedAt:  now,
	}
	err = s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Conversations().MarkSuggestionUsed(ctx, ownerID, suggestionID, now); err != nil {
			return err
		}
		return repos.Conversations().CreateMessage(ctx, msg)
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	sug.Used = true
	sug.UsedAt = &now
	return sug, nil
}

// RecordFeedback stores the owner's rating of a suggestion.
func (s *SuggestionService) RecordFeedback(ctx context.Context, ownerID, suggestionID string, feedback domain.Feedback) (*domain.Suggestion, error) {
	ctx, span := telemetry.StartSpan(ctx, "SuggestionService.RecordFeedback", telemetry.SpanAttributes{
		OwnerID:   ownerID,
		Operation: "feedback",
	})
	defer span.End()

	if _, err := domain.ParseFeedback(string(feedback)); err != nil {
		return nil, err
	}
	if err := s.conversations.SetSuggestionFeedback(ctx, ownerID, suggestionID, feedback); err != nil {
		return nil, err
	}
	return s.conversations.GetSuggestion(ctx, ownerID, suggestionID)
}

// requireKnowledge fails fast when the owner has not trained any knowledge yet.
func (s *SuggestionService) requireKnowledge(ctx context.Context, ownerID string) error {
	stats, err := s.brain.Get(ctx, ownerID)
	if err != nil {
		return err
	}
	if stats.IsEmpty() {
		return domain.ErrKnowledgeBaseEmpty
	}
	return nil
}

// uploadScreenshot stores the image and returns its key and durable URL plus a readable
// reference for the model.
func (s *SuggestionService) uploadScreenshot(ctx context.Context, ownerID, messageID string, data []byte, mimeType string) (string, string, string, error) {
	if s.store == nil {
		return "", "", "", domain.ErrStorageNotConfigured
	}
	if mimeType == "" {
		mimeType = "image/png"
	}
	ext := ".png"
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		ext = exts[0]
	}
	key := fmt.Sprintf("%s/screenshots/%s%s", ownerID, messageID, ext)
	obj, err := s.store.Put(ctx, key, data, mimeType)
	if err != nil {
		return "", "", "", domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, domain.ErrStorageOperationFail.Message, err)
	}
	ref, err := s.store.PresignedURL(ctx, obj.Key)
	if err != nil {
		s.discardScreenshot(ctx, obj.Key)
		return "", "", "", domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, domain.ErrStorageOperationFail.Message, err)
	}
	return obj.Key, obj.URL, ref, nil
}

// discardScreenshot removes a screenshot whose message was never stored.
func (s *SuggestionService) discardScreenshot(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil {
		s.log.Warn("failed to delete orphaned screenshot", "key", key, "error", err)
	}
}

func (s *SuggestionService) replyPrompt(ctx context.Context, p *domain.Prospect, stage domain.Stage, history []*domain.Message, knowledge *RetrievedKnowledge, content string) string {
	var b strings.Builder
	b.WriteString(s.businessContext(ctx, p))
	fmt.Fprintf(&b, "\n## Prospect\nName: %s\nRecorded stage: %s\nDetected stage: %s\n", p.Name, p.CurrentStage, stage)
	if p.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", p.Notes)
	}
	fmt.Fprintf(&b, "\n## Conversation\n%s\n\n", Transcript(history, maxHistoryMessages))
	b.WriteString(knowledge.PromptContext())
	if content == "" {
		content = "(see the attached screenshot)"
	}
	fmt.Fprintf(&b, "\n\n## Latest message from the prospect\n%s", content)
	return b.String()
}

// businessContext renders the prospect's workspace, or nothing when it is unavailable.
func (s *SuggestionService) businessContext(ctx context.Context, p *domain.Prospect) string {
	if p.WorkspaceID == "" || s.workspaces == nil {
		return ""
	}
	ws, err := s.workspaces.GetByID(ctx, p.OwnerID, p.WorkspaceID)
	if err != nil {
		s.log.Warn("workspace unavailable", "workspace_id", p.WorkspaceID, "error", err)
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## Business\nName: %s\n", ws.Name)
	if ws.Offer != "" {
		fmt.Fprintf(&b, "Offer: %s\n", ws.Offer)
	}
	if ws.TargetAudience != "" {
		fmt.Fprintf(&b, "Audience: %s\n", ws.TargetAudience)
	}
	if ws.BrandVoice != "" {
		fmt.Fprintf(&b, "Voice: %s\n", ws.BrandVoice)
	}
	return b.String()
}

func (s *SuggestionService) newSuggestions(ownerID, prospectID, messageID string, persona domain.Persona, now time.Time, primary, alternative, soft, why string) []*domain.Suggestion {
	variants := []struct {
		kind domain.SuggestionType
		text string
		why  string
	}{
		{domain.SuggestionPrimary, primary, why},
		{domain.SuggestionAlternative, alternative, ""},
		{domain.SuggestionSoft, soft, ""},
	}
	out := make([]*domain.Suggestion, 0, len(variants))
	for _, v := range variants {
		out = append(out, &domain.Suggestion{
			ID:           s.uuidGen.NewString(),
			OwnerID:      ownerID,
			MessageID:    messageID,
			ProspectID:   prospectID,
			Persona:      persona,
			Type:         v.kind,
			Text:         strings.TrimSpace(v.text),
			WhyThisWorks: strings.TrimSpace(v.why),
			Feedback:     domain.FeedbackNone,
			CreatedAt:    now,
		})
	}
	return out
}

func conversationalPersona(p domain.Persona) (domain.Persona, error) {
	if p == "" {
		return domain.PersonaSetter, nil
	}
	if !p.IsConversational() {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeValidation, domain.ErrInvalidPersona.Message, fmt.Errorf("%q", p))
	}
	return p, nil
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" || strings.EqualFold(v, "null") {
		return nil
	}
	return &v
}
