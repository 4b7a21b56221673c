package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// Closed reports whether the campaign can no longer hand out slots.
func (s CampaignStatus) Closed() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusCancelled
}

// Difficulty is the expected effort of a single slot.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Valid reports whether d is a known difficulty.
func (d Difficulty) Valid() bool {
	return d == DifficultyEasy || d == DifficultyMedium || d == DifficultyHard
}

// Categories lists the task categories employers can post under.
var Categories = []string{
	"Social Media",
	"App Testing",
	"Surveys",
	"Data Entry",
	"Content Creation",
	"Website Testing",
	"Reviews",
	"Translation",
}

// IsCategory reports whether c is one of Categories.
func IsCategory(c string) bool {
	for _, known := range Categories {
		if known == c {
			return true
		}
	}
	return false
}

// Campaign is an employer-posted batch of identical paid micro-tasks.
type Campaign struct {
	ID             uuid.UUID       `json:"id" gorm:"type:char(36);primaryKey"`
	EmployerID     uuid.UUID       `json:"employer_id" gorm:"type:char(36);not null;index"`
	Title          string          `json:"title" gorm:"size:255;not null"`
	Description    string          `json:"description" gorm:"type:text"`
	Instructions   string          `json:"instructions,omitempty" gorm:"type:text"`
	Category       string          `json:"category" gorm:"size:64;not null;index"`
	Difficulty     Difficulty      `json:"difficulty" gorm:"type:varchar(20);not null;default:'easy'"`
	PaymentPerSlot decimal.Decimal `json:"payment_per_slot" gorm:"type:decimal(20,2);not null"`
	TotalSlots     int             `json:"total_slots" gorm:"not null"`
	SlotsRemaining int             `json:"slots_remaining" gorm:"not null"`
	AllowedMinutes int             `json:"allowed_minutes" gorm:"not null"`
	AutoApprove    bool            `json:"auto_approve" gorm:"default:false"`
	Status         CampaignStatus  `json:"status" gorm:"type:varchar(20);not null;default:'draft';index"`
	BudgetTotal    decimal.Decimal `json:"budget_total" gorm:"type:decimal(20,2);not null"`
	BudgetSpent    decimal.Decimal `json:"budget_spent" gorm:"type:decimal(20,2);not null;default:0"`
	BudgetRefunded decimal.Decimal `json:"budget_refunded" gorm:"type:decimal(20,2);not null;default:0"`
	PlatformFee    decimal.Decimal `json:"platform_fee" gorm:"type:decimal(20,2);not null;default:0"`
	Version        int             `json:"-" gorm:"not null;default:0"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	PublishedAt    *time.Time      `json:"published_at,omitempty"`
	ExpiresAt      time.Time       `json:"expires_at" gorm:"index"`
	ClosedAt       *time.Time      `json:"closed_at,omitempty"`

	// Relations
	Employer User `json:"-" gorm:"foreignKey:EmployerID"`
}

// BeforeCreate sets UUID before creating the record.
func (c *Campaign) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// AllowedDuration is how long a worker may hold a claimed slot before it expires.
func (c *Campaign) AllowedDuration() time.Duration {
	return time.Duration(c.AllowedMinutes) * time.Minute
}

// SlotFee is the platform fee attributable to a single slot.
func (c *Campaign) SlotFee() decimal.Decimal {
	if c.TotalSlots == 0 {
		return decimal.Zero
	}
	return c.PlatformFee.Div(decimal.NewFromInt(int64(c.TotalSlots))).Round(2)
}

// Committed is the part of the budget already paid out or refunded.
func (c *Campaign) Committed() decimal.Decimal {
	return c.BudgetSpent.Add(c.BudgetRefunded)
}
