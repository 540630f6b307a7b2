package domain

import (
	"fmt"
	"slices"
	"time"
)

// SourceStatus is the lifecycle status of a source item.
type SourceStatus string

const (
	SourceStatusQueued      SourceStatus = "queued"
	SourceStatusExtracting  SourceStatus = "extracting"
	SourceStatusSummarizing SourceStatus = "summarizing"
	SourceStatusChunking    SourceStatus = "chunking"
	SourceStatusReady       SourceStatus = "ready"
	SourceStatusFailed      SourceStatus = "failed"
)

// entryProgress is the progress a status reports when it is entered.
var entryProgress = map[SourceStatus]int{
	SourceStatusQueued:      0,
	SourceStatusExtracting:  5,
	SourceStatusSummarizing: 40,
	SourceStatusChunking:    70,
	SourceStatusReady:       100,
}

var allowedTransitions = map[SourceStatus][]SourceStatus{
	SourceStatusQueued:      {SourceStatusExtracting, SourceStatusFailed},
	SourceStatusExtracting:  {SourceStatusSummarizing, SourceStatusFailed},
	SourceStatusSummarizing: {SourceStatusChunking, SourceStatusFailed},
	SourceStatusChunking:    {SourceStatusReady, SourceStatusFailed},
	SourceStatusReady:       {SourceStatusExtracting},
	SourceStatusFailed:      {SourceStatusExtracting},
}

// IngestionState is the stored checkpoint of the ingestion pipeline.
type IngestionState struct {
	Status   SourceStatus
	Progress int
}

// NewIngestionState returns the state of a freshly created source.
func NewIngestionState() IngestionState {
	return IngestionState{Status: SourceStatusQueued, Progress: 0}
}

// IsTerminal reports whether the pipeline has stopped (ready or failed).
func (s IngestionState) IsTerminal() bool {
	return s.Status == SourceStatusReady || s.Status == SourceStatusFailed
}

// IsInFlight reports whether a run is currently working on the item.
func (s IngestionState) IsInFlight() bool {
	switch s.Status {
	case SourceStatusExtracting, SourceStatusSummarizing, SourceStatusChunking:
		return true
	}
	return false
}

// Next moves to the given status, resetting progress to that status's entry value.
func (s IngestionState) Next(to SourceStatus) (IngestionState, error) {
	if to == SourceStatusFailed {
		return s.Fail()
	}
	if !canTransition(s.Status, to) {
		return s, transitionError(s.Status, to)
	}
	return IngestionState{Status: to, Progress: entryProgress[to]}, nil
}

// Fail marks the run failed. Progress is left untouched for diagnostics.
func (s IngestionState) Fail() (IngestionState, error) {
	if s.IsTerminal() {
		return s, transitionError(s.Status, SourceStatusFailed)
	}
	return IngestionState{Status: SourceStatusFailed, Progress: s.Progress}, nil
}

// CanRestart reports whether a new run may start. In-flight items qualify only once
// their last checkpoint is older than staleAfter, which covers runs whose process died.
func (s IngestionState) CanRestart(updatedAt, now time.Time, staleAfter time.Duration) bool {
	if slices.Contains(RestartableStatuses(), s.Status) {
		return true
	}
	return s.IsInFlight() && staleAfter > 0 && now.Sub(updatedAt) >= staleAfter
}

// Restart begins a new run at the start of extraction.
func (s IngestionState) Restart(updatedAt, now time.Time, staleAfter time.Duration) (IngestionState, error) {
	if !s.CanRestart(updatedAt, now, staleAfter) {
		return s, ErrSourceBusy
	}
	return IngestionState{Status: SourceStatusExtracting, Progress: entryProgress[SourceStatusExtracting]}, nil
}

// RestartableStatuses are the statuses a run may start from without a staleness check.
func RestartableStatuses() []SourceStatus {
	return []SourceStatus{SourceStatusQueued, SourceStatusReady, SourceStatusFailed}
}

func canTransition(from, to SourceStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func transitionError(from, to SourceStatus) error {
	return NewDomainErrorWithCause(ErrCodeInvalidOperation, ErrInvalidTransition.Message,
		fmt.Errorf("%s -> %s", from, to))
}

func isValidSourceStatus(s SourceStatus) bool {
	_, ok := allowedTransitions[s]
	return ok
}
