package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"taskflow/internal/model"
)

// IncidentRepository defines incident persistence operations.
type IncidentRepository interface {
	Create(ctx context.Context, incident *model.Incident) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Incident, error)
	List(ctx context.Context, openOnly bool) ([]model.Incident, error)
	// HasOpen reports whether an unresolved incident with code exists for the
	// submission, or for the campaign when submissionID is nil.
	HasOpen(ctx context.Context, code string, campaignID, submissionID *uuid.UUID) (bool, error)
	Resolve(ctx context.Context, id, resolvedBy uuid.UUID, at time.Time) (bool, error)
}

type incidentRepository struct {
	db *gorm.DB
}

// NewIncidentRepository creates a new incident repository.
func NewIncidentRepository(db *gorm.DB) IncidentRepository {
	return &incidentRepository{db: db}
}

func (r *incidentRepository) Create(ctx context.Context, incident *model.Incident) error {
	return r.db.WithContext(ctx).Create(incident).Error
}

func (r *incidentRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Incident, error) {
	var incident model.Incident
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&incident).Error; err != nil {
		return nil, err
	}
	return &incident, nil
}

func (r *incidentRepository) List(ctx context.Context, openOnly bool) ([]model.Incident, error) {
	var incidents []model.Incident
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if openOnly {
		q = q.Where("resolved_at IS NULL")
	}
	if err := q.Find(&incidents).Error; err != nil {
		return nil, err
	}
	return incidents, nil
}

func (r *incidentRepository) HasOpen(ctx context.Context, code string, campaignID, submissionID *uuid.UUID) (bool, error) {
	q := r.db.WithContext(ctx).Model(&model.Incident{}).
		Where("code = ? AND resolved_at IS NULL", code)
	switch {
	case submissionID != nil:
		q = q.Where("submission_id = ?", *submissionID)
	case campaignID != nil:
		q = q.Where("campaign_id = ? AND submission_id IS NULL", *campaignID)
	default:
		return false, nil
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Resolve closes an open incident. It reports false if it was already resolved.
func (r *incidentRepository) Resolve(ctx context.Context, id, resolvedBy uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Incident{}).
		Where("id = ? AND resolved_at IS NULL", id).
		Updates(map[string]interface{}{"resolved_at": at, "resolved_by": resolvedBy})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
