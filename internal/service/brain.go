package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cloo-solutions/closerbrain/internal/domain"
	"github.com/cloo-solutions/closerbrain/internal/telemetry"
)

// BrainService maintains the per-owner knowledge rollup.
type BrainService struct {
	sources SourceRepositoryInterface
	chunks  ChunkRepositoryInterface
	stats   BrainStatsRepositoryInterface
	now     func() time.Time
}

// NewBrainService creates a new BrainService instance
func NewBrainService(sources SourceRepositoryInterface, chunks ChunkRepositoryInterface, stats BrainStatsRepositoryInterface) *BrainService {
	return &BrainService{
		sources: sources,
		chunks:  chunks,
		stats:   stats,
		now:     utcNow,
	}
}

// Recompute rebuilds the owner's stats from the current chunk set and stores them.
// The row is always replaced whole, never patched.
func (s *BrainService) Recompute(ctx context.Context, ownerID string) (*domain.BrainStats, error) {
	ctx, span := telemetry.StartSpan(ctx, "BrainService.Recompute", telemetry.SpanAttributes{
		OwnerID:   ownerID,
		Operation: "recompute",
	})
	defer span.End()

	ready, err := s.sources.CountReady(ctx, ownerID)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("count ready sources: %w", err)
	}

	breakdown, err := s.chunks.CountByCategory(ctx, ownerID)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("count chunks: %w", err)
	}

	stats := domain.ComputeBrainStats(ownerID, ready, breakdown, s.now())
	if err := s.stats.Upsert(ctx, stats); err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("store brain stats: %w", err)
	}
	return stats, nil
}

// Get returns the stored stats, or empty stats when none were computed yet.
func (s *BrainService) Get(ctx context.Context, ownerID string) (*domain.BrainStats, error) {
	ctx, span := telemetry.StartSpan(ctx, "BrainService.Get", telemetry.SpanAttributes{
		OwnerID:   ownerID,
		Operation: "get",
	})
	defer span.End()

	stats, err := s.stats.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		return domain.EmptyBrainStats(ownerID), nil
	}
	return stats, nil
}
