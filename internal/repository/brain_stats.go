package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/closerbrain/internal/domain"
)

// BrainStatsRepository stores one rollup row per owner.
type BrainStatsRepository struct {
	db dbtx
}

func NewBrainStatsRepository(pool *pgxpool.Pool) *BrainStatsRepository {
	return &BrainStatsRepository{db: pool}
}

// Get returns nil, nil when the owner has no row yet.
func (r *BrainStatsRepository) Get(ctx context.Context, ownerID string) (*domain.BrainStats, error) {
	var s domain.BrainStats
	var breakdown []byte
	err := r.db.QueryRow(ctx,
		`SELECT owner_id, total_sources, total_chunks, category_breakdown, level, title, updated_at
		 FROM brain_stats WHERE owner_id = $1`,
		ownerID,
	).Scan(&s.OwnerID, &s.TotalSources, &s.TotalChunks, &breakdown, &s.Level, &s.Title, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.CategoryBreakdown = map[domain.Category]int{}
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &s.CategoryBreakdown); err != nil {
			return nil, fmt.Errorf("decode category breakdown: %w", err)
		}
	}
	return &s, nil
}

func (r *BrainStatsRepository) Upsert(ctx context.Context, stats *domain.BrainStats) error {
	breakdown := stats.CategoryBreakdown
	if breakdown == nil {
		breakdown = map[domain.Category]int{}
	}
	raw, err := json.Marshal(breakdown)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO brain_stats (owner_id, total_sources, total_chunks, category_breakdown, level, title, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (owner_id) DO UPDATE SET
		   total_sources = EXCLUDED.total_sources,
		   total_chunks = EXCLUDED.total_chunks,
		   category_breakdown = EXCLUDED.category_breakdown,
		   level = EXCLUDED.level,
		   title = EXCLUDED.title,
		   updated_at = EXCLUDED.updated_at`,
		stats.OwnerID, stats.TotalSources, stats.TotalChunks, raw, stats.Level, stats.Title, stats.UpdatedAt,
	)
	return err
}
