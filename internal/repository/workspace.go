package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/closerbrain/internal/domain"
)

type WorkspaceRepository struct {
	db dbtx
}

func NewWorkspaceRepository(pool *pgxpool.Pool) *WorkspaceRepository {
	return &WorkspaceRepository{db: pool}
}

func (r *WorkspaceRepository) Create(ctx context.Context, w *domain.Workspace) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO workspaces (id, owner_id, name, offer, target_audience, brand_voice, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		w.ID, w.OwnerID, w.Name, w.Offer, w.TargetAudience, w.BrandVoice, w.CreatedAt,
	)
	return err
}

func (r *WorkspaceRepository) GetByID(ctx context.Context, ownerID, id string) (*domain.Workspace, error) {
	var w domain.Workspace
	err := r.db.QueryRow(ctx,
		`SELECT id, owner_id, name, offer, target_audience, brand_voice, created_at
		 FROM workspaces WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	).Scan(&w.ID, &w.OwnerID, &w.Name, &w.Offer, &w.TargetAudience, &w.BrandVoice, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWorkspaceNotFound
		}
		return nil, err
	}
	return &w, nil
}
