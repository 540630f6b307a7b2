package jobs

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/closerbrain/internal/logger"
)

// RunSweeper fails ingestion runs that stopped reporting progress.
type RunSweeper interface {
	SweepStaleRuns(ctx context.Context) (int, error)
}

// StaleRunProcessor adapts a RunSweeper to the worker loop.
type StaleRunProcessor struct {
	sweeper RunSweeper
	log     *logger.Logger
}

func NewStaleRunProcessor(sweeper RunSweeper, log *logger.Logger) *StaleRunProcessor {
	if log == nil {
		log = logger.NewNop()
	}
	return &StaleRunProcessor{sweeper: sweeper, log: log}
}

// ProcessJobs implements JobProcessor.
func (p *StaleRunProcessor) ProcessJobs(ctx context.Context) error {
	n, err := p.sweeper.SweepStaleRuns(ctx)
	if err != nil {
		return fmt.Errorf("failed to sweep stale runs: %w", err)
	}
	if n > 0 {
		p.log.Info("stale runs failed", "count", n)
	}
	return nil
}
