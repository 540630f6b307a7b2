package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/closerbrain/internal/service"
)

// TxRunner runs a unit of work against transaction-bound repositories.
type TxRunner struct {
	pool *pgxpool.Pool
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// WithTx commits when fn returns nil and rolls back otherwise, including on panic.
// Errors from fn are returned unwrapped so callers can match domain sentinels.
func (r *TxRunner) WithTx(ctx context.Context, fn func(repos service.TxRepositories) error) error {
	var fnErr error
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		fnErr = fn(txRepos{tx: tx})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return fmt.Errorf("transaction: %w", err)
	}
	return nil
}

type txRepos struct {
	tx pgx.Tx
}

func (r txRepos) Sources() service.SourceRepositoryInterface {
	return NewSourceRepositoryWithTx(r.tx)
}

func (r txRepos) Chunks() service.ChunkRepositoryInterface {
	return NewChunkRepositoryWithTx(r.tx)
}

func (r txRepos) Prospects() service.ProspectRepositoryInterface {
	return NewProspectRepositoryWithTx(r.tx)
}

func (r txRepos) Conversations() service.ConversationRepositoryInterface {
	return NewConversationRepositoryWithTx(r.tx)
}
