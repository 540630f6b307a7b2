package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/closerbrain/internal/domain"
)

const suggestionColumns = `id, owner_id, message_id, prospect_id, persona, type, text, why_this_works, used, used_at, feedback, created_at`

// ConversationRepository persists messages and the suggestions generated for them.
type ConversationRepository struct {
	db dbtx
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: pool}
}

func NewConversationRepositoryWithTx(tx pgx.Tx) *ConversationRepository {
	return &ConversationRepository{db: tx}
}

func (r *ConversationRepository) CreateMessage(ctx context.Context, m *domain.Message) error {
	var stage, tone, reasoning, pushy *string
	if a := m.Analysis; a != nil {
		stage = nullableString(string(a.Stage))
		tone = nullableString(a.Tone)
		reasoning = nullableString(a.Reasoning)
		pushy = a.PushyWarning
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO messages
			(id, owner_id, prospect_id, persona, direction, content, screenshot_url, stage, tone, reasoning, pushy_warning, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID, m.OwnerID, m.ProspectID, m.Persona, m.Direction, m.Content, nullableString(m.ScreenshotURL),
		stage, tone, reasoning, pushy, m.CreatedAt,
	)
	return err
}

func (r *ConversationRepository) ListMessages(ctx context.Context, ownerID, prospectID string, personas ...domain.Persona) ([]*domain.Message, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, owner_id, prospect_id, persona, direction, content, screenshot_url, stage, tone, reasoning, pushy_warning, created_at
		 FROM messages
		 WHERE owner_id = $1 AND prospect_id = $2
		   AND (cardinality($3::text[]) = 0 OR persona = ANY($3::text[]))
		 ORDER BY created_at, id`,
		ownerID, prospectID, stringsOf(personas),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.Message
	for rows.Next() {
		var m domain.Message
		var screenshot, stage, tone, reasoning, pushy *string
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.ProspectID, &m.Persona, &m.Direction, &m.Content, &screenshot,
			&stage, &tone, &reasoning, &pushy, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ScreenshotURL = derefString(screenshot)
		if stage != nil {
			m.Analysis = &domain.Analysis{
				Stage:        domain.Stage(*stage),
				Tone:         derefString(tone),
				Reasoning:    derefString(reasoning),
				PushyWarning: pushy,
			}
		}
		results = append(results, &m)
	}
	return results, rows.Err()
}

func (r *ConversationRepository) CreateSuggestions(ctx context.Context, suggestions []*domain.Suggestion) error {
	if len(suggestions) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range suggestions {
		batch.Queue(
			`INSERT INTO suggestions (`+suggestionColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			s.ID, s.OwnerID, nullableString(s.MessageID), s.ProspectID, s.Persona, s.Type, s.Text,
			s.WhyThisWorks, s.Used, s.UsedAt, s.Feedback, s.CreatedAt,
		)
	}
	results := r.db.SendBatch(ctx, batch)
	for range suggestions {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	return results.Close()
}

func (r *ConversationRepository) GetSuggestion(ctx context.Context, ownerID, id string) (*domain.Suggestion, error) {
	var s domain.Suggestion
	var messageID *string
	err := r.db.QueryRow(ctx,
		`SELECT `+suggestionColumns+` FROM suggestions WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	).Scan(&s.ID, &s.OwnerID, &messageID, &s.ProspectID, &s.Persona, &s.Type, &s.Text,
		&s.WhyThisWorks, &s.Used, &s.UsedAt, &s.Feedback, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSuggestionNotFound
		}
		return nil, err
	}
	s.MessageID = derefString(messageID)
	return &s, nil
}

// MarkSuggestionUsed keeps the first used_at when called again.
func (r *ConversationRepository) MarkSuggestionUsed(ctx context.Context, ownerID, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE suggestions SET used = TRUE, used_at = COALESCE(used_at, $3) WHERE id = $1 AND owner_id = $2`,
		id, ownerID, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSuggestionNotFound
	}
	return nil
}

func (r *ConversationRepository) SetSuggestionFeedback(ctx context.Context, ownerID, id string, feedback domain.Feedback) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE suggestions SET feedback = $3 WHERE id = $1 AND owner_id = $2`,
		id, ownerID, feedback,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSuggestionNotFound
	}
	return nil
}
