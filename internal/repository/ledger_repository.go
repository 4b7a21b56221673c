package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"taskflow/internal/model"
)

// LedgerRepository defines ledger persistence operations. Entries are
// append-only; only the status columns change after creation.
type LedgerRepository interface {
	Create(ctx context.Context, entry *model.LedgerEntry) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.LedgerEntry, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*model.LedgerEntry, error)
	// UpdateStatus moves an entry from one status to another and reports
	// false when the entry was no longer in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.EntryStatus, fields map[string]interface{}) (bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID, statuses ...model.EntryStatus) ([]model.LedgerEntry, error)
	ListPending(ctx context.Context, kind model.EntryKind) ([]model.LedgerEntry, error)
	ListMaturedCredits(ctx context.Context, createdBefore time.Time, limit int) ([]model.LedgerEntry, error)
}

type ledgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a new ledger repository.
func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

// Create appends a ledger entry.
func (r *ledgerRepository) Create(ctx context.Context, entry *model.LedgerEntry) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(entry).Error
}

// FindByID finds a ledger entry by ID.
func (r *ledgerRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *ledgerRepository) FindByIdempotencyKey(ctx context.Context, key string) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *ledgerRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.EntryStatus, fields map[string]interface{}) (bool, error) {
	updates := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["status"] = to

	res := r.db.WithContext(ctx).Model(&model.LedgerEntry{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListByUser lists a user's entries newest first, optionally restricted to statuses.
func (r *ledgerRepository) ListByUser(ctx context.Context, userID uuid.UUID, statuses ...model.EntryStatus) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if err := q.Order("created_at DESC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ListPending lists pending entries oldest first, optionally of one kind.
func (r *ledgerRepository) ListPending(ctx context.Context, kind model.EntryKind) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	q := r.db.WithContext(ctx).Where("status = ?", model.EntryStatusPending)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if err := q.Order("created_at ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ListMaturedCredits lists pending earnings and refunds created at or before createdBefore.
func (r *ledgerRepository) ListMaturedCredits(ctx context.Context, createdBefore time.Time, limit int) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	if err := r.db.WithContext(ctx).
		Where("status = ? AND kind IN ? AND created_at <= ?", model.EntryStatusPending,
			[]model.EntryKind{model.EntryKindEarning, model.EntryKindRefund}, createdBefore).
		Order("created_at ASC").Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
