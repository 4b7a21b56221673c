package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"taskflow/internal/model"
)

// SubmissionRepository defines submission persistence operations.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *model.Submission) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Submission, error)
	FindActiveClaim(ctx context.Context, campaignID, workerID uuid.UUID) (*model.Submission, error)
	// Transition moves a submission out of from, guarded by its version. It reports
	// false when another writer got there first.
	Transition(ctx context.Context, id uuid.UUID, from model.SubmissionState, version int, fields map[string]interface{}) (bool, error)
	ListByWorker(ctx context.Context, workerID uuid.UUID) ([]model.Submission, error)
	ListOpenByWorker(ctx context.Context, workerID uuid.UUID) ([]model.Submission, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]model.Submission, error)
	ListOverdueClaims(ctx context.Context, now time.Time, limit int) ([]model.Submission, error)
	ListAutoApproveDue(ctx context.Context, submittedBefore time.Time, limit int) ([]model.Submission, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository creates a new submission repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

// Create creates a new submission record.
func (r *submissionRepository) Create(ctx context.Context, submission *model.Submission) error {
	if !submission.State.Terminal() {
		active := true
		submission.ActiveClaim = &active
	}
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(submission).Error
}

// FindByID finds a submission by ID.
func (r *submissionRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	var submission model.Submission
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&submission).Error; err != nil {
		return nil, err
	}
	return &submission, nil
}

// FindActiveClaim finds the worker's non-terminal submission on a campaign.
func (r *submissionRepository) FindActiveClaim(ctx context.Context, campaignID, workerID uuid.UUID) (*model.Submission, error) {
	var submission model.Submission
	if err := r.db.WithContext(ctx).
		Where("campaign_id = ? AND worker_id = ? AND active_claim = ?", campaignID, workerID, true).
		First(&submission).Error; err != nil {
		return nil, err
	}
	return &submission, nil
}

func (r *submissionRepository) Transition(ctx context.Context, id uuid.UUID, from model.SubmissionState, version int, fields map[string]interface{}) (bool, error) {
	updates := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		updates[k] = v
	}
	if state, ok := fields["state"].(model.SubmissionState); ok && state.Terminal() {
		updates["active_claim"] = gorm.Expr("NULL")
	}
	updates["version"] = gorm.Expr("version + 1")

	res := r.db.WithContext(ctx).Model(&model.Submission{}).
		Where("id = ? AND state = ? AND version = ?", id, from, version).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *submissionRepository) ListByWorker(ctx context.Context, workerID uuid.UUID) ([]model.Submission, error) {
	var submissions []model.Submission
	if err := r.db.WithContext(ctx).Where("worker_id = ?", workerID).
		Order("claimed_at DESC").Find(&submissions).Error; err != nil {
		return nil, err
	}
	return submissions, nil
}

func (r *submissionRepository) ListOpenByWorker(ctx context.Context, workerID uuid.UUID) ([]model.Submission, error) {
	var submissions []model.Submission
	if err := r.db.WithContext(ctx).Where("worker_id = ? AND active_claim = ?", workerID, true).
		Find(&submissions).Error; err != nil {
		return nil, err
	}
	return submissions, nil
}

func (r *submissionRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]model.Submission, error) {
	var submissions []model.Submission
	if err := r.db.WithContext(ctx).Where("campaign_id = ?", campaignID).
		Order("claimed_at ASC").Find(&submissions).Error; err != nil {
		return nil, err
	}
	return submissions, nil
}

const openIncidentFilter = "NOT EXISTS (SELECT 1 FROM incidents WHERE incidents.submission_id = submissions.id AND incidents.resolved_at IS NULL)"

// ListOverdueClaims lists claimed submissions whose deadline has passed,
// leaving out those held by an open incident.
func (r *submissionRepository) ListOverdueClaims(ctx context.Context, now time.Time, limit int) ([]model.Submission, error) {
	var submissions []model.Submission
	if err := r.db.WithContext(ctx).
		Where("submissions.state = ? AND submissions.deadline < ?", model.SubmissionStateClaimed, now).
		Where(openIncidentFilter).
		Order("submissions.deadline ASC").Limit(limit).
		Find(&submissions).Error; err != nil {
		return nil, err
	}
	return submissions, nil
}

// ListAutoApproveDue lists submitted work on auto-approving campaigns that has
// waited for review since before submittedBefore. Submissions with an open
// incident are held for an admin and left out.
func (r *submissionRepository) ListAutoApproveDue(ctx context.Context, submittedBefore time.Time, limit int) ([]model.Submission, error) {
	var submissions []model.Submission
	if err := r.db.WithContext(ctx).
		Joins("JOIN campaigns ON campaigns.id = submissions.campaign_id").
		Where("submissions.state = ? AND submissions.submitted_at <= ? AND campaigns.auto_approve = ?",
			model.SubmissionStateSubmitted, submittedBefore, true).
		Where(openIncidentFilter).
		Order("submissions.submitted_at ASC").Limit(limit).
		Find(&submissions).Error; err != nil {
		return nil, err
	}
	return submissions, nil
}
