package service

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/closerbrain/internal/domain"
	"github.com/cloo-solutions/closerbrain/internal/logger"
	"github.com/cloo-solutions/closerbrain/internal/telemetry"
)

// KnowledgeStore owns chunk mutations and keeps brain stats in step with them.
type KnowledgeStore struct {
	sources  SourceRepositoryInterface
	chunks   ChunkRepositoryInterface
	txRunner TxRunner
	brain    *BrainService
	store    ObjectStore
	log      *logger.Logger
}

// NewKnowledgeStore creates a KnowledgeStore. store may be nil.
func NewKnowledgeStore(
	sources SourceRepositoryInterface,
	chunks ChunkRepositoryInterface,
	txRunner TxRunner,
	brain *BrainService,
	store ObjectStore,
	log *logger.Logger,
) *KnowledgeStore {
	if log == nil {
		log = logger.NewNop()
	}
	return &KnowledgeStore{
		sources:  sources,
		chunks:   chunks,
		txRunner: txRunner,
		brain:    brain,
		store:    store,
		log:      log.With("service", "KnowledgeStore"),
	}
}

// CommitSourceChunks replaces the source's chunks and marks it ready in one
// transaction. The commit only applies while run still owns the item in chunking.
func (k *KnowledgeStore) CommitSourceChunks(ctx context.Context, run domain.IngestionRun, chunks []*domain.KnowledgeChunk) (*domain.BrainStats, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeStore.CommitSourceChunks", telemetry.SpanAttributes{
		OwnerID:   run.OwnerID,
		SourceID:  run.SourceID,
		Operation: "commit",
	})
	defer span.End()

	for _, c := range chunks {
		if c.OwnerID != run.OwnerID || c.SourceID != run.SourceID {
			return nil, fmt.Errorf("chunk %s does not belong to source %s", c.ID, run.SourceID)
		}
		if err := domain.ValidateKnowledgeChunk(c); err != nil {
			return nil, err
		}
	}

	ready, err := domain.IngestionState{Status: domain.SourceStatusChunking}.Next(domain.SourceStatusReady)
	if err != nil {
		return nil, err
	}

	err = k.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Sources().Checkpoint(ctx, run, SourceCheckpoint{
			From: domain.SourceStatusChunking,
			To:   ready,
		}); err != nil {
			return err
		}
		if _, err := repos.Chunks().DeleteBySource(ctx, run.OwnerID, run.SourceID); err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return repos.Chunks().InsertBatch(ctx, chunks)
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	return k.brain.Recompute(ctx, run.OwnerID)
}

// AppendChunks adds chunks that do not belong to a source run, such as those learned
// from conversations.
func (k *KnowledgeStore) AppendChunks(ctx context.Context, ownerID string, chunks []*domain.KnowledgeChunk) (*domain.BrainStats, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeStore.AppendChunks", telemetry.SpanAttributes{
		OwnerID:   ownerID,
		Operation: "append",
	})
	defer span.End()

	for _, c := range chunks {
		if c.OwnerID != ownerID {
			return nil, fmt.Errorf("chunk %s does not belong to owner", c.ID)
		}
		if err := domain.ValidateKnowledgeChunk(c); err != nil {
			return nil, err
		}
	}
	if len(chunks) > 0 {
		if err := k.chunks.InsertBatch(ctx, chunks); err != nil {
			span.SetError(err)
			return nil, err
		}
	}
	return k.brain.Recompute(ctx, ownerID)
}

// Select returns ranked chunks for a query.
func (k *KnowledgeStore) Select(ctx context.Context, q domain.ChunkQuery) ([]*domain.KnowledgeChunk, error) {
	return k.chunks.Select(ctx, q)
}

// ListBySource returns the chunks of an owned source.
func (k *KnowledgeStore) ListBySource(ctx context.Context, ownerID, sourceID string) ([]*domain.KnowledgeChunk, error) {
	if _, err := k.sources.GetByID(ctx, ownerID, sourceID); err != nil {
		return nil, err
	}
	return k.chunks.ListBySource(ctx, ownerID, sourceID)
}

// DeleteSource removes a source and its chunks, then drops the stored document.
func (k *KnowledgeStore) DeleteSource(ctx context.Context, ownerID, sourceID string) (*domain.BrainStats, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeStore.DeleteSource", telemetry.SpanAttributes{
		OwnerID:   ownerID,
		SourceID:  sourceID,
		Operation: "delete",
	})
	defer span.End()

	src, err := k.sources.GetByID(ctx, ownerID, sourceID)
	if err != nil {
		return nil, err
	}

	err = k.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		if _, err := repos.Chunks().DeleteBySource(ctx, ownerID, sourceID); err != nil {
			return err
		}
		return repos.Sources().Delete(ctx, ownerID, sourceID)
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	if src.StorageKey != "" && k.store != nil {
		if err := k.store.Delete(ctx, src.StorageKey); err != nil {
			k.log.Warn("failed to delete stored document", "source_id", sourceID, "key", src.StorageKey, "error", err)
			telemetry.CaptureError(ctx, err)
		}
	}

	return k.brain.Recompute(ctx, ownerID)
}
