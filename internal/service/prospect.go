package service

import (
	"context"
	"strings"
	"time"

	"github.com/cloo-solutions/closerbrain/internal/domain"
	"github.com/cloo-solutions/closerbrain/internal/logger"
	"github.com/cloo-solutions/closerbrain/internal/telemetry"
)

// PatternLearner extracts knowledge from a finished conversation.
type PatternLearner interface {
	ExtractPatterns(ctx context.Context, ownerID, prospectID string) (int, error)
}

// ProspectService manages prospects and their outcomes.
type ProspectService struct {
	prospects  ProspectRepositoryInterface
	workspaces WorkspaceRepositoryInterface
	learner    PatternLearner
	uuidGen    UUIDGenerator
	log        *logger.Logger
	now        func() time.Time
}

// NewProspectService creates a ProspectService. learner may be nil to disable learning.
func NewProspectService(prospects ProspectRepositoryInterface, workspaces WorkspaceRepositoryInterface, learner PatternLearner, log *logger.Logger) *ProspectService {
	return NewProspectServiceWithUUIDGen(prospects, workspaces, learner, log, &DefaultUUIDGenerator{})
}

// NewProspectServiceWithUUIDGen creates a ProspectService with a custom UUID generator (for testing)
func NewProspectServiceWithUUIDGen(prospects ProspectRepositoryInterface, workspaces WorkspaceRepositoryInterface, learner PatternLearner, log *logger.Logger, uuidGen UUIDGenerator) *ProspectService {
	if log == nil {
		log = logger.NewNop()
	}
	return &ProspectService{
		prospects:  prospects,
		workspaces: workspaces,
		learner:    learner,
		uuidGen:    uuidGen,
		log:        log.With("service", "ProspectService"),
		now:        utcNow,
	}
}

// CreateProspectInput represents the input for creating a prospect
type CreateProspectInput struct {
	OwnerID     string
	WorkspaceID string
	Name        string
	Platform    string
	Notes       string
}

// Create creates a prospect at first contact.
func (s *ProspectService) Create(ctx context.Context, input CreateProspectInput) (*domain.Prospect, error) {
	ctx, span := telemetry.StartSpan(ctx, "ProspectService.Create", telemetry.SpanAttributes{
		OwnerID:   input.OwnerID,
		Operation: "create",
	})
	defer span.End()

	if input.WorkspaceID != "" && s.workspaces != nil {
		if _, err := s.workspaces.GetByID(ctx, input.OwnerID, input.WorkspaceID); err != nil {
			return nil, err
		}
	}

	p := domain.NewProspect(s.uuidGen.NewString(), input.OwnerID, strings.TrimSpace(input.Name), s.now())
	p.WorkspaceID = input.WorkspaceID
	p.Platform = strings.TrimSpace(input.Platform)
	p.Notes = strings.TrimSpace(input.Notes)
	if err := domain.ValidateProspect(p); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid prospect", err)
	}

	if err := s.prospects.Create(ctx, p); err != nil {
		span.SetError(err)
		return nil, err
	}
	return p, nil
}

// Get returns an owned prospect.
func (s *ProspectService) Get(ctx context.Context, ownerID, id string) (*domain.Prospect, error) {
	return s.prospects.GetByID(ctx, ownerID, id)
}

// UpdateOutcome records the outcome. Becoming successful triggers learning, whose
// failures never fail the update.
func (s *ProspectService) UpdateOutcome(ctx context.Context, ownerID, id string, outcome domain.Outcome) (*domain.Prospect, error) {
	ctx, span := telemetry.StartSpan(ctx, "ProspectService.UpdateOutcome", telemetry.SpanAttributes{
		OwnerID:    ownerID,
		ProspectID: id,
		Operation:  string(outcome),
	})
	defer span.End()

	if _, err := domain.ParseOutcome(string(outcome)); err != nil {
		return nil, err
	}

	p, err := s.prospects.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	previous := p.Outcome
	if err := s.prospects.UpdateOutcome(ctx, ownerID, id, outcome); err != nil {
		span.SetError(err)
		return nil, err
	}
	p.Outcome = outcome
	p.UpdatedAt = s.now()

	// Only the first success outcome feeds learning.
	if outcome.IsSuccess() && !previous.IsSuccess() && s.learner != nil {
		if _, err := s.learner.ExtractPatterns(ctx, ownerID, id); err != nil {
			s.log.Error("continuous learning failed", "prospect_id", id, "error", err)
			telemetry.CaptureError(ctx, err)
		}
	}
	return p, nil
}
