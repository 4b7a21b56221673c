package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"taskflow/internal/cache"
	"taskflow/internal/config"
	"taskflow/internal/notify"
	"taskflow/internal/repository"
)

// Policy holds the marketplace rules that vary per deployment.
type Policy struct {
	PlatformFeeRate    decimal.Decimal
	DefaultClaimWindow time.Duration
	DefaultCampaignTTL time.Duration
	AutoApproveAfter   time.Duration
	EarningHold        time.Duration
	MinWithdrawal      decimal.Decimal
	ListCacheTTL       time.Duration
	SweepBatchSize     int
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		PlatformFeeRate:    decimal.RequireFromString("0.05"),
		DefaultClaimWindow: time.Hour,
		DefaultCampaignTTL: 30 * 24 * time.Hour,
		AutoApproveAfter:   48 * time.Hour,
		EarningHold:        24 * time.Hour,
		MinWithdrawal:      decimal.RequireFromString("1.00"),
		ListCacheTTL:       30 * time.Second,
		SweepBatchSize:     100,
	}
}

// PolicyFromConfig builds the policy from application config.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		PlatformFeeRate:    cfg.PlatformFeeRate,
		DefaultClaimWindow: cfg.DefaultClaimWindow,
		DefaultCampaignTTL: cfg.DefaultCampaignTTL,
		AutoApproveAfter:   cfg.AutoApproveAfter,
		EarningHold:        cfg.EarningHold,
		MinWithdrawal:      cfg.MinWithdrawal,
		ListCacheTTL:       cfg.ListCacheTTL,
		SweepBatchSize:     cfg.SweepBatchSize,
	}
}

// Dependencies are shared by every domain service.
type Dependencies struct {
	Store    repository.Store
	Cache    *cache.Client
	Notifier notify.Notifier
	Logger   *zap.Logger
	Policy   Policy
	Locks    *KeyedMutex
	// Now returns the current time; it is always normalised to UTC.
	Now func() time.Time
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Locks == nil {
		d.Locks = &KeyedMutex{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Policy.SweepBatchSize <= 0 {
		d.Policy.SweepBatchSize = 100
	}
	return d
}

func (d Dependencies) now() time.Time {
	return d.Now().UTC()
}

// KeyedMutex hands out one mutex per key. Callers must never take one while a
// database transaction is open.
type KeyedMutex struct {
	mutexes sync.Map
}

// Lock locks the mutex for key and returns its unlock func.
func (k *KeyedMutex) Lock(key string) func() {
	value, _ := k.mutexes.LoadOrStore(key, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func campaignLockKey(id uuid.UUID) string {
	return "campaign:" + id.String()
}

func userLockKey(id uuid.UUID) string {
	return "user:" + id.String()
}
