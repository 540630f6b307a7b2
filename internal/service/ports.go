package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cloo-solutions/closerbrain/internal/domain"
	"github.com/cloo-solutions/closerbrain/internal/pagination"
	"github.com/cloo-solutions/closerbrain/internal/storage"
)

// SourceCheckpoint is one conditional write of the ingestion pipeline. It only applies
// while the row still carries the run's ID and is in status From.
type SourceCheckpoint struct {
	From     domain.SourceStatus
	To       domain.IngestionState
	FullText *string
	Summary  *domain.SourceSummary
}

// SourceRepositoryInterface defines the repository interface for source item persistence.
// Every lookup is owner-scoped; a row owned by someone else is reported as not found.
type SourceRepositoryInterface interface {
	Create(ctx context.Context, s *domain.SourceItem) error
	GetByID(ctx context.Context, ownerID, id string) (*domain.SourceItem, error)
	ListByOwnerWithCursor(ctx context.Context, ownerID string, cursor *pagination.Cursor, limit int) (*SourcePageResult, error)
	ListReadySummaries(ctx context.Context, ownerID string, personas []domain.Persona, limit int) ([]*domain.SourceItem, error)
	// StartRun claims the item for run when its run ID still equals prevRunID, moving it
	// to extracting and clearing the previous error.
	StartRun(ctx context.Context, run domain.IngestionRun, prevRunID string) error
	Checkpoint(ctx context.Context, run domain.IngestionRun, cp SourceCheckpoint) error
	MarkFailed(ctx context.Context, run domain.IngestionRun, message string) error
	// FailStaleRuns fails every in-flight item whose last checkpoint is older than
	// before and returns the runs it stopped.
	FailStaleRuns(ctx context.Context, before time.Time, message string) ([]domain.IngestionRun, error)
	Delete(ctx context.Context, ownerID, id string) error
	CountReady(ctx context.Context, ownerID string) (int, error)
}

type SourcePageResult struct {
	Items      []*domain.SourceItem
	NextCursor string
	HasMore    bool
}

// ChunkRepositoryInterface defines the repository interface for knowledge chunk persistence
type ChunkRepositoryInterface interface {
	InsertBatch(ctx context.Context, chunks []*domain.KnowledgeChunk) error
	DeleteBySource(ctx context.Context, ownerID, sourceID string) (int64, error)
	// Select returns chunks ordered by relevance score, then embedding distance to
	// q.Embedding when given, then newest first.
	Select(ctx context.Context, q domain.ChunkQuery) ([]*domain.KnowledgeChunk, error)
	ListBySource(ctx context.Context, ownerID, sourceID string) ([]*domain.KnowledgeChunk, error)
	CountByCategory(ctx context.Context, ownerID string) (map[domain.Category]int, error)
}

// BrainStatsRepositoryInterface persists the per-owner rollup. Get returns nil when
// no row exists yet.
type BrainStatsRepositoryInterface interface {
	Get(ctx context.Context, ownerID string) (*domain.BrainStats, error)
	Upsert(ctx context.Context, stats *domain.BrainStats) error
}

// ProspectRepositoryInterface defines the repository interface for prospects
type ProspectRepositoryInterface interface {
	Create(ctx context.Context, p *domain.Prospect) error
	GetByID(ctx context.Context, ownerID, id string) (*domain.Prospect, error)
	UpdateStage(ctx context.Context, ownerID, id string, stage domain.Stage) error
	UpdateOutcome(ctx context.Context, ownerID, id string, outcome domain.Outcome) error
}

// ConversationRepositoryInterface persists messages and suggestions. Messages are
// immutable once written.
type ConversationRepositoryInterface interface {
	CreateMessage(ctx context.Context, m *domain.Message) error
	// ListMessages returns the prospect's messages oldest first, limited to the given
	// personas (all personas when none are given).
	ListMessages(ctx context.Context, ownerID, prospectID string, personas ...domain.Persona) ([]*domain.Message, error)
	CreateSuggestions(ctx context.Context, suggestions []*domain.Suggestion) error
	GetSuggestion(ctx context.Context, ownerID, id string) (*domain.Suggestion, error)
	MarkSuggestionUsed(ctx context.Context, ownerID, id string, at time.Time) error
	SetSuggestionFeedback(ctx context.Context, ownerID, id string, feedback domain.Feedback) error
}

// WorkspaceRepositoryInterface defines the repository interface for workspaces
type WorkspaceRepositoryInterface interface {
	Create(ctx context.Context, w *domain.Workspace) error
	GetByID(ctx context.Context, ownerID, id string) (*domain.Workspace, error)
}

// ObjectStore is the object storage boundary used for documents and screenshots.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (*storage.Object, error)
	Get(ctx context.Context, key string) ([]byte, error)
	PresignedURL(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Embedder produces vectors for semantic tie-breaks between equally scored chunks.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

func utcNow() time.Time {
	return time.Now().UTC()
}
