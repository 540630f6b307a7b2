package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/cloo-solutions/closerbrain/internal/document"
	"github.com/cloo-solutions/closerbrain/internal/domain"
	"github.com/cloo-solutions/closerbrain/internal/events"
	"github.com/cloo-solutions/closerbrain/internal/generation"
	"github.com/cloo-solutions/closerbrain/internal/logger"
	"github.com/cloo-solutions/closerbrain/internal/pagination"
	"github.com/cloo-solutions/closerbrain/internal/telemetry"
)

// DefaultStaleRunAfter is how long an in-flight run may go without a checkpoint before
// a new run can take over.
const DefaultStaleRunAfter = 15 * time.Minute

const (
	defaultSourcePageSize = 20
	maxSourcePageSize     = 100
)

// IngestionService drives a source item from upload to ready knowledge.
type IngestionService struct {
	sources   SourceRepositoryInterface
	txRunner  TxRunner
	store     ObjectStore
	extractor *ContentExtractor
	distiller *KnowledgeDistiller
	knowledge *KnowledgeStore
	brain     *BrainService
	publisher events.Publisher
	uuidGen   UUIDGenerator
	log       *logger.Logger

	staleAfter time.Duration
	now        func() time.Time
}

// IngestionDeps groups the collaborators of IngestionService.
type IngestionDeps struct {
	Sources   SourceRepositoryInterface
	TxRunner  TxRunner
	Store     ObjectStore
	Extractor *ContentExtractor
	Distiller *KnowledgeDistiller
	Knowledge *KnowledgeStore
	Brain     *BrainService
	Publisher events.Publisher
	Logger    *logger.Logger
	// StaleAfter defaults to DefaultStaleRunAfter.
	StaleAfter time.Duration
}

// NewIngestionService creates a new IngestionService instance
func NewIngestionService(deps IngestionDeps) *IngestionService {
	return NewIngestionServiceWithUUIDGen(deps, &DefaultUUIDGenerator{})
}

// NewIngestionServiceWithUUIDGen creates an IngestionService with a custom UUID generator (for testing)
func NewIngestionServiceWithUUIDGen(deps IngestionDeps, uuidGen UUIDGenerator) *IngestionService {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	staleAfter := deps.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleRunAfter
	}
	return &IngestionService{
		sources:    deps.Sources,
		txRunner:   deps.TxRunner,
		store:      deps.Store,
		extractor:  deps.Extractor,
		distiller:  deps.Distiller,
		knowledge:  deps.Knowledge,
		brain:      deps.Brain,
		publisher:  publisher,
		uuidGen:    uuidGen,
		log:        log.With("service", "IngestionService"),
		staleAfter: staleAfter,
		now:        utcNow,
	}
}

// CreateSourceInput describes a new link reference or document upload.
type CreateSourceInput struct {
	OwnerID     string
	WorkspaceID string
	Kind        domain.SourceKind
	Title       string
	URL         string
	Persona     domain.Persona
	Filename    string
	MimeType    string
	Data        []byte
}

// ProcessResult is returned by a successful ingestion run.
type ProcessResult struct {
	Success         bool
	Summary         domain.SourceSummary
	ChunksExtracted int
	BrainStats      *domain.BrainStats
	Source          *domain.SourceItem
}

type ListSourcesInput struct {
	OwnerID string
	Cursor  string
	Limit   int
}

type ListSourcesOutput struct {
	Items   []*domain.SourceItem
	Cursor  string
	HasMore bool
}

// CreateSource stores a new source item in the queued state. Documents are uploaded to
// object storage first and only their locator is kept.
func (s *IngestionService) CreateSource(ctx context.Context, input CreateSourceInput) (*domain.SourceItem, error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.CreateSource", telemetry.SpanAttributes{
		OwnerID:   input.OwnerID,
		Operation: "create",
	})
	defer span.End()

	persona := input.Persona
	if persona == "" {
		persona = domain.PersonaBoth
	}
	if _, err := domain.ParsePersona(string(persona)); err != nil {
		return nil, err
	}

	now := s.now()
	state := domain.NewIngestionState()
	src := &domain.SourceItem{
		ID:          s.uuidGen.NewString(),
		OwnerID:     input.OwnerID,
		WorkspaceID: input.WorkspaceID,
		Kind:        input.Kind,
		Title:       strings.TrimSpace(input.Title),
		Persona:     persona,
		Status:      state.Status,
		Progress:    state.Progress,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	switch input.Kind {
	case domain.SourceKindLink:
		src.OriginURL = strings.TrimSpace(input.URL)
		src.Platform = domain.DetectPlatform(src.OriginURL)
		if src.Title == "" {
			src.Title = src.OriginURL
		}
	case domain.SourceKindDocument:
		if len(input.Data) == 0 {
			return nil, domain.NewDomainError(domain.ErrCodeValidation, "document content is required")
		}
		if _, ok := document.Detect(input.MimeType, input.Filename); !ok {
			return nil, domain.ErrUnsupportedDocument
		}
		if s.store == nil {
			return nil, domain.ErrStorageNotConfigured
		}
		if src.Title == "" {
			src.Title = input.Filename
		}
		src.MimeType = input.MimeType
		key := fmt.Sprintf("%s/sources/%s%s", input.OwnerID, src.ID, path.Ext(input.Filename))
		obj, err := s.store.Put(ctx, key, input.Data, input.MimeType)
		if err != nil {
			span.SetError(err)
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, domain.ErrStorageOperationFail.Message, err)
		}
		src.StorageKey = obj.Key
	default:
		return nil, domain.ErrInvalidSourceKind
	}

	if err := domain.ValidateSourceItem(src); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid source", err)
	}

	if err := s.sources.Create(ctx, src); err != nil {
		span.SetError(err)
		return nil, err
	}
	return src, nil
}

// Process runs one ingestion of the source synchronously. Every write of the run is
// conditioned on its run ID; when a newer run takes over, this one stops with
// domain.ErrRunSuperseded and leaves the item alone.
func (s *IngestionService) Process(ctx context.Context, ownerID, sourceID string) (*ProcessResult, error) {
	// Once started, a run completes even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.Process", telemetry.SpanAttributes{
		OwnerID:   ownerID,
		SourceID:  sourceID,
		Operation: "process",
	})
	defer span.End()

	src, err := s.sources.GetByID(ctx, ownerID, sourceID)
	if err != nil {
		return nil, err
	}

	state, err := src.State().Restart(src.UpdatedAt, s.now(), s.staleAfter)
	if err != nil {
		return nil, err
	}

	run := domain.IngestionRun{OwnerID: ownerID, SourceID: sourceID, RunID: s.uuidGen.NewString()}
	err = s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Sources().StartRun(ctx, run, src.RunID); err != nil {
			return err
		}
		_, err := repos.Chunks().DeleteBySource(ctx, ownerID, sourceID)
		return err
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	src.RunID = run.RunID
	s.checkpointed(ctx, run, state, "")

	if _, err := s.brain.Recompute(ctx, ownerID); err != nil {
		return nil, s.fail(ctx, run, state, err)
	}

	fullText, err := s.extractor.Extract(ctx, src)
	if err != nil {
		return nil, s.fail(ctx, run, state, err)
	}
	if state, err = s.advance(ctx, run, state, domain.SourceStatusSummarizing, SourceCheckpoint{FullText: &fullText}); err != nil {
		return nil, s.fail(ctx, run, state, err)
	}
	src.FullText = fullText

	summary, err := s.distiller.Summarize(ctx, src, fullText)
	if err != nil {
		return nil, s.fail(ctx, run, state, err)
	}
	if state, err = s.advance(ctx, run, state, domain.SourceStatusChunking, SourceCheckpoint{Summary: &summary}); err != nil {
		return nil, s.fail(ctx, run, state, err)
	}
	src.Summary = summary

	chunks, err := s.distiller.Chunks(ctx, src, fullText)
	if err != nil {
		return nil, s.fail(ctx, run, state, err)
	}

	stats, err := s.knowledge.CommitSourceChunks(ctx, run, chunks)
	if err != nil {
		return nil, s.fail(ctx, run, state, err)
	}

	ready, _ := state.Next(domain.SourceStatusReady)
	s.checkpointed(ctx, run, ready, "")
	src.Status, src.Progress, src.ErrorMessage = ready.Status, ready.Progress, ""

	s.log.Info("source processed",
		"owner_id", ownerID,
		"source_id", sourceID,
		"chunks", len(chunks),
		"degraded_summary", summary.IsDegraded(),
	)

	return &ProcessResult{
		Success:         true,
		Summary:         summary,
		ChunksExtracted: len(chunks),
		BrainStats:      stats,
		Source:          src,
	}, nil
}

// advance writes the next checkpoint of run and returns the new state.
func (s *IngestionService) advance(ctx context.Context, run domain.IngestionRun, from domain.IngestionState, to domain.SourceStatus, cp SourceCheckpoint) (domain.IngestionState, error) {
	next, err := from.Next(to)
	if err != nil {
		return from, err
	}
	cp.From = from.Status
	cp.To = next
	if err := s.sources.Checkpoint(ctx, run, cp); err != nil {
		return from, err
	}
	s.checkpointed(ctx, run, next, "")
	return next, nil
}

// fail records the failure on the item unless a newer run owns it, then returns cause.
func (s *IngestionService) fail(ctx context.Context, run domain.IngestionRun, state domain.IngestionState, cause error) error {
	telemetry.CaptureError(ctx, cause)
	if errors.Is(cause, domain.ErrRunSuperseded) {
		s.log.Info("ingestion run superseded", "source_id", run.SourceID, "run_id", run.RunID)
		return cause
	}

	msg := FailureMessage(cause)
	s.log.Error("ingestion failed",
		"owner_id", run.OwnerID,
		"source_id", run.SourceID,
		"status", string(state.Status),
		"error", cause,
	)

	// The failure must be recorded even when the caller went away.
	writeCtx := context.WithoutCancel(ctx)
	if err := s.sources.MarkFailed(writeCtx, run, msg); err != nil && !errors.Is(err, domain.ErrRunSuperseded) {
		s.log.Error("failed to record ingestion failure", "source_id", run.SourceID, "error", err)
	}
	failed, ferr := state.Fail()
	if ferr != nil {
		failed = domain.IngestionState{Status: domain.SourceStatusFailed, Progress: state.Progress}
	}
	s.checkpointed(writeCtx, run, failed, msg)
	return cause
}

// checkpointed reports a stored checkpoint to the progress publisher and Sentry.
func (s *IngestionService) checkpointed(ctx context.Context, run domain.IngestionRun, state domain.IngestionState, errMsg string) {
	telemetry.AddBreadcrumb(ctx, "ingestion", fmt.Sprintf("%s %s %d%%", run.SourceID, state.Status, state.Progress))
	err := s.publisher.PublishProgress(ctx, events.Progress{
		OwnerID:  run.OwnerID,
		SourceID: run.SourceID,
		RunID:    run.RunID,
		Status:   string(state.Status),
		Progress: state.Progress,
		Error:    errMsg,
		At:       s.now(),
	})
	if err != nil {
		s.log.Warn("failed to publish ingestion progress", "source_id", run.SourceID, "error", err)
	}
}

// StaleRunMessage is stored on items whose run stopped checkpointing.
const StaleRunMessage = "Processing timed out. Please try again."

// SweepStaleRuns fails in-flight items that have not checkpointed within the stale
// window so they can be reprocessed. Returns the number of items failed.
func (s *IngestionService) SweepStaleRuns(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.SweepStaleRuns", telemetry.SpanAttributes{
		Operation: "sweep",
	})
	defer span.End()

	runs, err := s.sources.FailStaleRuns(ctx, s.now().Add(-s.staleAfter), StaleRunMessage)
	if err != nil {
		span.SetError(err)
		return 0, fmt.Errorf("fail stale runs: %w", err)
	}
	for _, run := range runs {
		s.log.Warn("stale ingestion run failed", "owner_id", run.OwnerID, "source_id", run.SourceID, "run_id", run.RunID)
		s.checkpointed(ctx, run, domain.IngestionState{Status: domain.SourceStatusFailed}, StaleRunMessage)
	}
	return len(runs), nil
}

// FailureMessage turns a processing error into the text stored on the source item.
func FailureMessage(err error) string {
	var genErr *generation.Error
	if errors.As(err, &genErr) {
		return genErr.UserMessage()
	}
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return "Processing failed. Please try again."
}

// GetSource returns an owned source item.
func (s *IngestionService) GetSource(ctx context.Context, ownerID, sourceID string) (*domain.SourceItem, error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.GetSource", telemetry.SpanAttributes{
		OwnerID:   ownerID,
		SourceID:  sourceID,
		Operation: "get",
	})
	defer span.End()

	return s.sources.GetByID(ctx, ownerID, sourceID)
}

// ListSources returns the owner's sources newest first.
func (s *IngestionService) ListSources(ctx context.Context, input ListSourcesInput) (*ListSourcesOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.ListSources", telemetry.SpanAttributes{
		OwnerID:   input.OwnerID,
		Operation: "list",
	})
	defer span.End()

	limit := pagination.Limit(input.Limit, defaultSourcePageSize, maxSourcePageSize)
	cursor, err := pagination.Decode(input.Cursor)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
	}

	page, err := s.sources.ListByOwnerWithCursor(ctx, input.OwnerID, cursor, limit)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	return &ListSourcesOutput{Items: page.Items, Cursor: page.NextCursor, HasMore: page.HasMore}, nil
}

// DeleteSource removes the source, its chunks and its stored document.
func (s *IngestionService) DeleteSource(ctx context.Context, ownerID, sourceID string) (*domain.BrainStats, error) {
	return s.knowledge.DeleteSource(ctx, ownerID, sourceID)
}

// ListSourceChunks returns the knowledge distilled from one source.
func (s *IngestionService) ListSourceChunks(ctx context.Context, ownerID, sourceID string) ([]*domain.KnowledgeChunk, error) {
	return s.knowledge.ListBySource(ctx, ownerID, sourceID)
}
