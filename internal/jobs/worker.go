package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/cloo-solutions/closerbrain/internal/logger"
)

// JobProcessor runs one pass of background work.
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker calls its processor on a fixed interval until stopped.
type Worker struct {
	name         string
	processor    JobProcessor
	pollInterval time.Duration
	log          *logger.Logger
	stopChan     chan struct{}
	doneChan     chan struct{}
	stopOnce     sync.Once
}

// NewWorker creates a Worker. A nil logger discards output.
func NewWorker(name string, processor JobProcessor, pollInterval time.Duration, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.NewNop()
	}
	return &Worker{
		name:         name,
		processor:    processor,
		pollInterval: pollInterval,
		log:          log.With("worker", name),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Start runs the polling loop and blocks until ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	defer close(w.doneChan)

	w.log.Info("worker started", "poll_interval", w.pollInterval.String())

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopped", "reason", "context cancelled")
			return
		case <-w.stopChan:
			w.log.Info("worker stopped", "reason", "stop requested")
			return
		case <-ticker.C:
			if err := w.processor.ProcessJobs(ctx); err != nil {
				w.log.Error("job pass failed", "error", err)
			}
		}
	}
}

// Stop signals the loop and waits for it to exit. It must only be called after Start.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.doneChan
}
