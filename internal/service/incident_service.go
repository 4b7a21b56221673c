package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskflow/internal/auth"
	"taskflow/internal/errors"
	"taskflow/internal/metrics"
	"taskflow/internal/model"
	"taskflow/internal/repository"
)

// IncidentService exposes the integrity escalation queue to admins.
type IncidentService interface {
	List(ctx context.Context, openOnly bool) ([]model.Incident, error)
	Resolve(ctx context.Context, actor auth.Principal, id uuid.UUID) (*model.Incident, error)
}

type incidentService struct {
	deps Dependencies
}

// NewIncidentService creates a new incident service.
func NewIncidentService(deps Dependencies) IncidentService {
	return &incidentService{deps: deps.withDefaults()}
}

func (s *incidentService) List(ctx context.Context, openOnly bool) ([]model.Incident, error) {
	return s.deps.Store.Incidents().List(ctx, openOnly)
}

func (s *incidentService) Resolve(ctx context.Context, actor auth.Principal, id uuid.UUID) (*model.Incident, error) {
	if actor.Role != model.RoleAdmin {
		return nil, errors.ErrForbidden
	}
	incidents := s.deps.Store.Incidents()
	if _, err := incidents.FindByID(ctx, id); err != nil {
		if repository.IsNotFound(err) {
			return nil, errors.ErrIncidentNotFound
		}
		return nil, err
	}

	ok, err := incidents.Resolve(ctx, id, actor.UserID, s.deps.now())
	if err != nil {
		return nil, fmt.Errorf("resolve incident: %w", err)
	}
	if !ok {
		return nil, errors.ErrInvalidTransition
	}
	return incidents.FindByID(ctx, id)
}

// escalate records an integrity failure for manual reconciliation. It runs after
// the failing transaction rolled back, so the incident survives it.
func escalate(ctx context.Context, d Dependencies, cause error, campaignID, submissionID *uuid.UUID, detail string) {
	code := errors.CodeOf(cause)
	fields := []zap.Field{zap.String("code", code), zap.String("detail", detail), zap.Error(cause)}
	if campaignID != nil {
		fields = append(fields, zap.String("campaign_id", campaignID.String()))
	}
	if submissionID != nil {
		fields = append(fields, zap.String("submission_id", submissionID.String()))
	}
	open, err := d.Store.Incidents().HasOpen(ctx, code, campaignID, submissionID)
	if err != nil {
		d.Logger.Error("failed to check open incidents", append(fields, zap.NamedError("lookup_error", err))...)
	}
	if open {
		d.Logger.Warn("integrity violation already escalated", fields...)
		return
	}
	metrics.IntegrityIncidents.WithLabelValues(code).Inc()
	d.Logger.Error("integrity violation escalated", fields...)

	incident := &model.Incident{
		Code:         code,
		Detail:       detail,
		CampaignID:   campaignID,
		SubmissionID: submissionID,
		CreatedAt:    d.now(),
	}
	if err := d.Store.Incidents().Create(ctx, incident); err != nil {
		d.Logger.Error("failed to record incident", append(fields, zap.NamedError("record_error", err))...)
	}
}
