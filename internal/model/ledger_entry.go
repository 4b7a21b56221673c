package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// EntryKind classifies a balance-affecting event.
type EntryKind string

const (
	EntryKindEarning    EntryKind = "earning"
	EntryKindWithdrawal EntryKind = "withdrawal"
	EntryKindRefund     EntryKind = "refund"
	// EntryKindDeposit records funds an employer paid in. It is booked completed.
	EntryKindDeposit EntryKind = "deposit"
	// EntryKindCharge is the negative debit that reserves a campaign's budget and fee at publish.
	EntryKindCharge EntryKind = "charge"
)

// EntryStatus represents the settlement status of a ledger entry.
type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "pending"
	EntryStatusCompleted EntryStatus = "completed"
	EntryStatusFailed    EntryStatus = "failed"
)

// LedgerEntry is an append-only balance event. Only Status (and the settlement
// bookkeeping next to it) changes after creation.
type LedgerEntry struct {
	ID                  uuid.UUID       `json:"id" gorm:"type:char(36);primaryKey"`
	UserID              uuid.UUID       `json:"user_id" gorm:"type:char(36);not null;index"`
	Amount              decimal.Decimal `json:"amount" gorm:"type:decimal(20,2);not null"`
	Kind                EntryKind       `json:"kind" gorm:"type:varchar(20);not null;index"`
	Status              EntryStatus     `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	RelatedSubmissionID *uuid.UUID      `json:"related_submission_id,omitempty" gorm:"type:char(36);index"`
	RelatedCampaignID   *uuid.UUID      `json:"related_campaign_id,omitempty" gorm:"type:char(36);index"`
	IdempotencyKey      *string         `json:"-" gorm:"size:100;uniqueIndex"`
	Description         string          `json:"description,omitempty" gorm:"size:255"`
	FailureReason       string          `json:"failure_reason,omitempty" gorm:"type:text"`
	CreatedAt           time.Time       `json:"created_at" gorm:"index"`
	UpdatedAt           time.Time       `json:"updated_at"`
	SettledAt           *time.Time      `json:"settled_at,omitempty"`

	// Relations
	User User `json:"-" gorm:"foreignKey:UserID"`
}

// BeforeCreate sets UUID before creating the record.
func (e *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
