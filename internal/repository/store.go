package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

// Store groups the repositories that share one database handle. Inside
// WithTransaction every repository returned by tx is bound to the same transaction.
type Store interface {
	Users() UserRepository
	Campaigns() CampaignRepository
	Submissions() SubmissionRepository
	Ledger() LedgerRepository
	Incidents() IncidentRepository
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

type store struct {
	db *gorm.DB
}

// NewStore creates a GORM-backed store.
func NewStore(db *gorm.DB) Store {
	return &store{db: db}
}

func (s *store) Users() UserRepository             { return NewUserRepository(s.db) }
func (s *store) Campaigns() CampaignRepository     { return NewCampaignRepository(s.db) }
func (s *store) Submissions() SubmissionRepository { return NewSubmissionRepository(s.db) }
func (s *store) Ledger() LedgerRepository          { return NewLedgerRepository(s.db) }
func (s *store) Incidents() IncidentRepository     { return NewIncidentRepository(s.db) }

// WithTransaction executes fn within a database transaction.
func (s *store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &store{db: tx})
	})
}

// IsNotFound reports whether err is a missing-row error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// IsDuplicateKey reports whether err is a unique constraint violation.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed")
}
