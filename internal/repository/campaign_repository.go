package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"taskflow/internal/model"
)

// CampaignRepository defines campaign persistence operations.
type CampaignRepository interface {
	Create(ctx context.Context, campaign *model.Campaign) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
	// UpdateVersioned applies fields only if the row is still at version and bumps it.
	UpdateVersioned(ctx context.Context, id uuid.UUID, version int, fields map[string]interface{}) (bool, error)
	// DecrementSlot takes one slot from an active campaign with slots left.
	DecrementSlot(ctx context.Context, id uuid.UUID) (bool, error)
	// IncrementSlot returns one slot, never above total_slots.
	IncrementSlot(ctx context.Context, id uuid.UUID) (bool, error)
	ListActive(ctx context.Context, now time.Time) ([]model.Campaign, error)
	Search(ctx context.Context, text, category string, now time.Time) ([]model.Campaign, error)
	ListByEmployer(ctx context.Context, employerID uuid.UUID) ([]model.Campaign, error)
	ListOpenByEmployer(ctx context.Context, employerID uuid.UUID) ([]model.Campaign, error)
	ListByStatus(ctx context.Context, status model.CampaignStatus) ([]model.Campaign, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Campaign, error)
}

var openStatuses = []model.CampaignStatus{
	model.CampaignStatusDraft,
	model.CampaignStatusActive,
	model.CampaignStatusPaused,
}

type campaignRepository struct {
	db *gorm.DB
}

// NewCampaignRepository creates a new campaign repository.
func NewCampaignRepository(db *gorm.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

// Create creates a new campaign.
func (r *campaignRepository) Create(ctx context.Context, campaign *model.Campaign) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(campaign).Error
}

// FindByID finds a campaign by ID.
func (r *campaignRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	var campaign model.Campaign
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&campaign).Error; err != nil {
		return nil, err
	}
	return &campaign, nil
}

// FindByIDForUpdate finds a campaign by ID with row-level lock for update.
func (r *campaignRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	var campaign model.Campaign
	if err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&campaign).Error; err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (r *campaignRepository) UpdateVersioned(ctx context.Context, id uuid.UUID, version int, fields map[string]interface{}) (bool, error) {
	updates := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["version"] = gorm.Expr("version + 1")

	res := r.db.WithContext(ctx).Model(&model.Campaign{}).
		Where("id = ? AND version = ?", id, version).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *campaignRepository) DecrementSlot(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Campaign{}).
		Where("id = ? AND status = ? AND slots_remaining > 0", id, model.CampaignStatusActive).
		Updates(map[string]interface{}{
			"slots_remaining": gorm.Expr("slots_remaining - 1"),
			"version":         gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *campaignRepository) IncrementSlot(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Campaign{}).
		Where("id = ? AND slots_remaining < total_slots", id).
		Updates(map[string]interface{}{
			"slots_remaining": gorm.Expr("slots_remaining + 1"),
			"version":         gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListActive lists campaigns open for claiming, newest first.
func (r *campaignRepository) ListActive(ctx context.Context, now time.Time) ([]model.Campaign, error) {
	return r.Search(ctx, "", "", now)
}

// Search filters active campaigns by a case-insensitive text match on title or
// description and an exact category.
func (r *campaignRepository) Search(ctx context.Context, text, category string, now time.Time) ([]model.Campaign, error) {
	var campaigns []model.Campaign
	q := r.db.WithContext(ctx).
		Where("status = ? AND expires_at > ?", model.CampaignStatusActive, now)
	if text = strings.TrimSpace(text); text != "" {
		pattern := "%" + strings.ToLower(text) + "%"
		q = q.Where("(LOWER(title) LIKE ? OR LOWER(description) LIKE ?)", pattern, pattern)
	}
	if category != "" {
		q = q.Where("category = ?", category)
	}
	if err := q.Order("created_at DESC").Find(&campaigns).Error; err != nil {
		return nil, err
	}
	return campaigns, nil
}

func (r *campaignRepository) ListByEmployer(ctx context.Context, employerID uuid.UUID) ([]model.Campaign, error) {
	var campaigns []model.Campaign
	if err := r.db.WithContext(ctx).Where("employer_id = ?", employerID).
		Order("created_at DESC").Find(&campaigns).Error; err != nil {
		return nil, err
	}
	return campaigns, nil
}

func (r *campaignRepository) ListOpenByEmployer(ctx context.Context, employerID uuid.UUID) ([]model.Campaign, error) {
	var campaigns []model.Campaign
	if err := r.db.WithContext(ctx).Where("employer_id = ? AND status IN ?", employerID, openStatuses).
		Find(&campaigns).Error; err != nil {
		return nil, err
	}
	return campaigns, nil
}

// ListByStatus lists campaigns in status, or all campaigns when status is empty.
func (r *campaignRepository) ListByStatus(ctx context.Context, status model.CampaignStatus) ([]model.Campaign, error) {
	var campaigns []model.Campaign
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&campaigns).Error; err != nil {
		return nil, err
	}
	return campaigns, nil
}

// ListExpired lists open campaigns whose expiry has passed.
func (r *campaignRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Campaign, error) {
	var campaigns []model.Campaign
	if err := r.db.WithContext(ctx).
		Where("status IN ? AND expires_at <= ?", openStatuses, now).
		Order("expires_at ASC").Limit(limit).
		Find(&campaigns).Error; err != nil {
		return nil, err
	}
	return campaigns, nil
}
