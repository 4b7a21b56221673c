package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Incident records an integrity violation that needs manual reconciliation.
type Incident struct {
	ID           uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	Code         string     `json:"code" gorm:"size:64;not null;index"`
	Detail       string     `json:"detail" gorm:"type:text"`
	CampaignID   *uuid.UUID `json:"campaign_id,omitempty" gorm:"type:char(36);index"`
	SubmissionID *uuid.UUID `json:"submission_id,omitempty" gorm:"type:char(36);index"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty" gorm:"index"`
	ResolvedBy   *uuid.UUID `json:"resolved_by,omitempty" gorm:"type:char(36)"`
}

// BeforeCreate sets UUID before creating the record.
func (i *Incident) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
