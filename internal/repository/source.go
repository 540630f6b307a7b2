package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/closerbrain/internal/domain"
	"github.com/cloo-solutions/closerbrain/internal/pagination"
	"github.com/cloo-solutions/closerbrain/internal/service"
)

const sourceColumns = `id, owner_id, workspace_id, kind, title, origin_url, storage_key, mime_type, platform,
	full_text, summary, persona, status, progress, error_message, run_id, created_at, updated_at`

// summaryDoc is the JSONB shape of a source summary.
type summaryDoc struct {
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

func encodeSummary(s domain.SourceSummary) ([]byte, error) {
	return json.Marshal(summaryDoc(s))
}

func decodeSummary(raw []byte) (domain.SourceSummary, error) {
	if len(raw) == 0 {
		return domain.SourceSummary{}, nil
	}
	var doc summaryDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.SourceSummary{}, fmt.Errorf("decode summary: %w", err)
	}
	return domain.SourceSummary(doc), nil
}

// SourceRepository persists source items and guards ingestion checkpoints with the
// run ID stored on each row.
type SourceRepository struct {
	db dbtx
}

func NewSourceRepository(pool *pgxpool.Pool) *SourceRepository {
	return &SourceRepository{db: pool}
}

func NewSourceRepositoryWithTx(tx pgx.Tx) *SourceRepository {
	return &SourceRepository{db: tx}
}

func (r *SourceRepository) Create(ctx context.Context, s *domain.SourceItem) error {
	summary, err := encodeSummary(s.Summary)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO source_items (`+sourceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		s.ID, s.OwnerID, nullableString(s.WorkspaceID), s.Kind, s.Title,
		nullableString(s.OriginURL), nullableString(s.StorageKey), nullableString(s.MimeType), nullableString(string(s.Platform)),
		s.FullText, summary, s.Persona, s.Status, s.Progress,
		nullableString(s.ErrorMessage), nullableString(s.RunID), s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func (r *SourceRepository) GetByID(ctx context.Context, ownerID, id string) (*domain.SourceItem, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM source_items WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)
	s, err := scanSource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSourceNotFound
		}
		return nil, err
	}
	return s, nil
}

func (r *SourceRepository) ListByOwnerWithCursor(ctx context.Context, ownerID string, cursor *pagination.Cursor, limit int) (*service.SourcePageResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error
	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+sourceColumns+` FROM source_items
			 WHERE owner_id = $1 AND (created_at, id) < ($2, $3)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $4`,
			ownerID, cursor.CreatedAt, cursor.ID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+sourceColumns+` FROM source_items
			 WHERE owner_id = $1
			 ORDER BY created_at DESC, id DESC
			 LIMIT $2`,
			ownerID, limit+1,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanSourceRows(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	var nextCursor string
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		nextCursor = pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}

	return &service.SourcePageResult{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

func (r *SourceRepository) ListReadySummaries(ctx context.Context, ownerID string, personas []domain.Persona, limit int) ([]*domain.SourceItem, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+sourceColumns+` FROM source_items
		 WHERE owner_id = $1 AND status = $2
		   AND (cardinality($3::text[]) = 0 OR persona = ANY($3::text[]))
		 ORDER BY updated_at DESC
		 LIMIT $4`,
		ownerID, domain.SourceStatusReady, stringsOf(personas), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSourceRows(rows)
}

// StartRun claims the row for run. The previous run ID is compared with IS NOT DISTINCT
// FROM so a never-processed row (NULL run_id) matches an empty prevRunID.
func (r *SourceRepository) StartRun(ctx context.Context, run domain.IngestionRun, prevRunID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE source_items
		 SET run_id = $3, status = $4, progress = $5, error_message = NULL, updated_at = $6
		 WHERE id = $1 AND owner_id = $2 AND run_id IS NOT DISTINCT FROM $7`,
		run.SourceID, run.OwnerID, run.RunID, domain.SourceStatusExtracting, 5, time.Now().UTC(), nullableString(prevRunID),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrSuperseded(ctx, run)
	}
	return nil
}

func (r *SourceRepository) Checkpoint(ctx context.Context, run domain.IngestionRun, cp service.SourceCheckpoint) error {
	var summary []byte
	if cp.Summary != nil {
		var err error
		if summary, err = encodeSummary(*cp.Summary); err != nil {
			return err
		}
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE source_items
		 SET status = $4, progress = $5,
		     full_text = COALESCE($6, full_text),
		     summary = COALESCE($7::jsonb, summary),
		     updated_at = $8
		 WHERE id = $1 AND owner_id = $2 AND run_id = $3 AND status = $9`,
		run.SourceID, run.OwnerID, run.RunID, cp.To.Status, cp.To.Progress,
		cp.FullText, summary, time.Now().UTC(), cp.From,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRunSuperseded
	}
	return nil
}

func (r *SourceRepository) MarkFailed(ctx context.Context, run domain.IngestionRun, message string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE source_items
		 SET status = $4, error_message = $5, updated_at = $6
		 WHERE id = $1 AND owner_id = $2 AND run_id = $3 AND status NOT IN ($7, $4)`,
		run.SourceID, run.OwnerID, run.RunID, domain.SourceStatusFailed, message, time.Now().UTC(), domain.SourceStatusReady,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRunSuperseded
	}
	return nil
}

func (r *SourceRepository) FailStaleRuns(ctx context.Context, before time.Time, message string) ([]domain.IngestionRun, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE source_items
		 SET status = $1, error_message = $2, updated_at = $3
		 WHERE status = ANY($4::text[]) AND updated_at < $5
		 RETURNING owner_id, id, run_id`,
		domain.SourceStatusFailed, message, time.Now().UTC(),
		stringsOf([]domain.SourceStatus{domain.SourceStatusExtracting, domain.SourceStatusSummarizing, domain.SourceStatusChunking}),
		before,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.IngestionRun
	for rows.Next() {
		var run domain.IngestionRun
		var runID *string
		if err := rows.Scan(&run.OwnerID, &run.SourceID, &runID); err != nil {
			return nil, err
		}
		run.RunID = derefString(runID)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *SourceRepository) Delete(ctx context.Context, ownerID, id string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM source_items WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSourceNotFound
	}
	return nil
}

func (r *SourceRepository) CountReady(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM source_items WHERE owner_id = $1 AND status = $2`,
		ownerID, domain.SourceStatusReady,
	).Scan(&n)
	return n, err
}

func (r *SourceRepository) missOrSuperseded(ctx context.Context, run domain.IngestionRun) error {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM source_items WHERE id = $1 AND owner_id = $2)`,
		run.SourceID, run.OwnerID,
	).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrSourceNotFound
	}
	return domain.ErrRunSuperseded
}

func scanSource(row pgx.Row) (*domain.SourceItem, error) {
	var s domain.SourceItem
	var workspaceID, originURL, storageKey, mimeType, platform, errorMessage, runID *string
	var summary []byte
	if err := row.Scan(&s.ID, &s.OwnerID, &workspaceID, &s.Kind, &s.Title, &originURL, &storageKey, &mimeType, &platform,
		&s.FullText, &summary, &s.Persona, &s.Status, &s.Progress, &errorMessage, &runID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	decoded, err := decodeSummary(summary)
	if err != nil {
		return nil, err
	}
	s.Summary = decoded
	s.WorkspaceID = derefString(workspaceID)
	s.OriginURL = derefString(originURL)
	s.StorageKey = derefString(storageKey)
	s.MimeType = derefString(mimeType)
	s.Platform = domain.Platform(derefString(platform))
	s.ErrorMessage = derefString(errorMessage)
	s.RunID = derefString(runID)
	return &s, nil
}

func scanSourceRows(rows pgx.Rows) ([]*domain.SourceItem, error) {
	var results []*domain.SourceItem
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, s)
	}
	return results, rows.Err()
}
