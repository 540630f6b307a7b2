package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/cloo-solutions/closerbrain/internal/domain"
)

const chunkColumns = `id, owner_id, source_id, category, content, trigger_phrases, usage_example, relevance_score, persona, created_at`

// ChunkRepository handles persistence of knowledge chunks. Chunks learned from
// conversations are stored with a NULL source_id.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

func chunkSourceID(sourceID string) *string {
	if sourceID == domain.ConversationSourceID {
		return nil
	}
	return nullableString(sourceID)
}

func chunkEmbedding(embedding []float32) *pgvector.Vector {
	if len(embedding) == 0 {
		return nil
	}
	v := pgvector.NewVector(embedding)
	return &v
}

func (r *ChunkRepository) InsertBatch(ctx context.Context, chunks []*domain.KnowledgeChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		phrases := c.TriggerPhrases
		if phrases == nil {
			phrases = []string{}
		}
		batch.Queue(
			`INSERT INTO knowledge_chunks
				(id, owner_id, source_id, category, content, trigger_phrases, usage_example, relevance_score, persona, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			c.ID, c.OwnerID, chunkSourceID(c.SourceID), c.Category, c.Content, phrases,
			c.UsageExample, c.RelevanceScore, c.Persona, chunkEmbedding(c.Embedding), createdAt,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	for range chunks {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	return results.Close()
}

func (r *ChunkRepository) DeleteBySource(ctx context.Context, ownerID, sourceID string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM knowledge_chunks WHERE owner_id = $1 AND source_id IS NOT DISTINCT FROM $2`,
		ownerID, chunkSourceID(sourceID),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Select ranks by relevance score, then cosine distance to the query embedding (rows
// without an embedding, or a query without one, fall through), then recency.
func (r *ChunkRepository) Select(ctx context.Context, q domain.ChunkQuery) ([]*domain.KnowledgeChunk, error) {
	var limit *int
	if q.Limit > 0 {
		limit = &q.Limit
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+chunkColumns+` FROM knowledge_chunks
		 WHERE owner_id = $1
		   AND (cardinality($2::text[]) = 0 OR persona = ANY($2::text[]))
		   AND (cardinality($3::text[]) = 0 OR category = ANY($3::text[]))
		 ORDER BY relevance_score DESC, embedding <=> $4::vector NULLS LAST, created_at DESC
		 LIMIT $5`,
		q.OwnerID, stringsOf(q.Personas), stringsOf(q.Categories), chunkEmbedding(q.Embedding), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

func (r *ChunkRepository) ListBySource(ctx context.Context, ownerID, sourceID string) ([]*domain.KnowledgeChunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+chunkColumns+` FROM knowledge_chunks
		 WHERE owner_id = $1 AND source_id IS NOT DISTINCT FROM $2
		 ORDER BY created_at, id`,
		ownerID, chunkSourceID(sourceID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

func (r *ChunkRepository) CountByCategory(ctx context.Context, ownerID string) (map[domain.Category]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT category, count(*) FROM knowledge_chunks WHERE owner_id = $1 GROUP BY category`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.Category]int)
	for rows.Next() {
		var category domain.Category
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return nil, err
		}
		counts[category] = n
	}
	return counts, rows.Err()
}

func scanChunkRows(rows pgx.Rows) ([]*domain.KnowledgeChunk, error) {
	var results []*domain.KnowledgeChunk
	for rows.Next() {
		var c domain.KnowledgeChunk
		var sourceID *string
		if err := rows.Scan(&c.ID, &c.OwnerID, &sourceID, &c.Category, &c.Content, &c.TriggerPhrases,
			&c.UsageExample, &c.RelevanceScore, &c.Persona, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.SourceID = domain.ConversationSourceID
		if sourceID != nil {
			c.SourceID = *sourceID
		}
		results = append(results, &c)
	}
	return results, rows.Err()
}
