package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/closerbrain/internal/domain"
)

type ProspectRepository struct {
	db dbtx
}

func NewProspectRepository(pool *pgxpool.Pool) *ProspectRepository {
	return &ProspectRepository{db: pool}
}

func NewProspectRepositoryWithTx(tx pgx.Tx) *ProspectRepository {
	return &ProspectRepository{db: tx}
}

func (r *ProspectRepository) Create(ctx context.Context, p *domain.Prospect) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO prospects (id, owner_id, workspace_id, name, platform, notes, current_stage, outcome, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.OwnerID, nullableString(p.WorkspaceID), p.Name, p.Platform, p.Notes, p.CurrentStage, p.Outcome, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (r *ProspectRepository) GetByID(ctx context.Context, ownerID, id string) (*domain.Prospect, error) {
	var p domain.Prospect
	var workspaceID *string
	err := r.db.QueryRow(ctx,
		`SELECT id, owner_id, workspace_id, name, platform, notes, current_stage, outcome, created_at, updated_at
		 FROM prospects WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	).Scan(&p.ID, &p.OwnerID, &workspaceID, &p.Name, &p.Platform, &p.Notes, &p.CurrentStage, &p.Outcome, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProspectNotFound
		}
		return nil, err
	}
	p.WorkspaceID = derefString(workspaceID)
	return &p, nil
}

func (r *ProspectRepository) UpdateStage(ctx context.Context, ownerID, id string, stage domain.Stage) error {
	return r.update(ctx, `UPDATE prospects SET current_stage = $3, updated_at = $4 WHERE id = $1 AND owner_id = $2`,
		id, ownerID, stage, time.Now().UTC())
}

func (r *ProspectRepository) UpdateOutcome(ctx context.Context, ownerID, id string, outcome domain.Outcome) error {
	return r.update(ctx, `UPDATE prospects SET outcome = $3, updated_at = $4 WHERE id = $1 AND owner_id = $2`,
		id, ownerID, outcome, time.Now().UTC())
}

func (r *ProspectRepository) update(ctx context.Context, sql string, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProspectNotFound
	}
	return nil
}
