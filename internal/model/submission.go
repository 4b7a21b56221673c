package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SubmissionState represents the state of a worker's attempt at one slot.
type SubmissionState string

const (
	SubmissionStateClaimed   SubmissionState = "claimed"
	SubmissionStateSubmitted SubmissionState = "submitted"
	SubmissionStateApproved  SubmissionState = "approved"
	SubmissionStateRejected  SubmissionState = "rejected"
	SubmissionStateExpired   SubmissionState = "expired"
)

// Terminal reports whether no further transition is possible from s.
func (s SubmissionState) Terminal() bool {
	return s == SubmissionStateApproved || s == SubmissionStateRejected || s == SubmissionStateExpired
}

// Submission tracks a worker's claim on a slot through proof submission and review.
//
// ActiveClaim is true while the submission is non-terminal and NULL afterwards; the
// composite unique index allows at most one open claim per (campaign, worker).
type Submission struct {
	ID          uuid.UUID       `json:"id" gorm:"type:char(36);primaryKey"`
	CampaignID  uuid.UUID       `json:"campaign_id" gorm:"type:char(36);not null;index;uniqueIndex:idx_submissions_active_claim,priority:1"`
	WorkerID    uuid.UUID       `json:"worker_id" gorm:"type:char(36);not null;index;uniqueIndex:idx_submissions_active_claim,priority:2"`
	ActiveClaim *bool           `json:"-" gorm:"uniqueIndex:idx_submissions_active_claim,priority:3"`
	State       SubmissionState `json:"state" gorm:"type:varchar(20);not null;index"`
	Proof       string          `json:"proof,omitempty" gorm:"type:text"`
	ReviewerID  *uuid.UUID      `json:"reviewer_id,omitempty" gorm:"type:char(36)"`
	ReviewNote  string          `json:"review_note,omitempty" gorm:"type:text"`
	Version     int             `json:"-" gorm:"not null;default:0"`
	ClaimedAt   time.Time       `json:"claimed_at"`
	SubmittedAt *time.Time      `json:"submitted_at,omitempty" gorm:"index"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
	Deadline    time.Time       `json:"deadline" gorm:"index"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	// Relations
	Campaign Campaign `json:"-" gorm:"foreignKey:CampaignID"`
	Worker   User     `json:"-" gorm:"foreignKey:WorkerID"`
}

// BeforeCreate sets UUID before creating the record.
func (s *Submission) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
