package service

import (
	"context"
	"strings"
	"time"

	"github.com/cloo-solutions/closerbrain/internal/domain"
	"github.com/cloo-solutions/closerbrain/internal/telemetry"
)

// WorkspaceService handles the business context replies are written for.
type WorkspaceService struct {
	repo    WorkspaceRepositoryInterface
	uuidGen UUIDGenerator
	now     func() time.Time
}

func NewWorkspaceService(repo WorkspaceRepositoryInterface) *WorkspaceService {
	return &WorkspaceService{repo: repo, uuidGen: &DefaultUUIDGenerator{}, now: utcNow}
}

// CreateWorkspaceInput represents the input for creating a workspace
type CreateWorkspaceInput struct {
	OwnerID        string
	Name           string
	Offer          string
	TargetAudience string
	BrandVoice     string
}

// Create creates a new workspace
func (s *WorkspaceService) Create(ctx context.Context, input CreateWorkspaceInput) (*domain.Workspace, error) {
	ctx, span := telemetry.StartSpan(ctx, "WorkspaceService.Create", telemetry.SpanAttributes{
		OwnerID:   input.OwnerID,
		Operation: "create",
	})
	defer span.End()

	ws := &domain.Workspace{
		ID:             s.uuidGen.NewString(),
		OwnerID:        input.OwnerID,
		Name:           strings.TrimSpace(input.Name),
		Offer:          strings.TrimSpace(input.Offer),
		TargetAudience: strings.TrimSpace(input.TargetAudience),
		BrandVoice:     strings.TrimSpace(input.BrandVoice),
		CreatedAt:      s.now(),
	}
	if err := domain.ValidateWorkspace(ws); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid workspace", err)
	}
	if err := s.repo.Create(ctx, ws); err != nil {
		span.SetError(err)
		return nil, err
	}
	return ws, nil
}

// Get returns an owned workspace.
func (s *WorkspaceService) Get(ctx context.Context, ownerID, id string) (*domain.Workspace, error) {
	return s.repo.GetByID(ctx, ownerID, id)
}
