package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskflow/internal/cache"
	"taskflow/internal/metrics"
)

const sweepLeaseKey = "sweeper:lease"

// SweepReport counts what one sweep cycle changed.
type SweepReport struct {
	Skipped         bool `json:"skipped"`
	ExpiredClaims   int  `json:"expired_claims"`
	AutoApproved    int  `json:"auto_approved"`
	ClosedCampaigns int  `json:"closed_campaigns"`
	SettledCredits  int  `json:"settled_credits"`
}

// Sweeper runs the periodic maintenance that no request drives: claim expiry,
// auto-approval, campaign expiry and settlement of matured credits.
type Sweeper struct {
	campaigns   CampaignService
	submissions SubmissionService
	ledger      LedgerService
	cache       *cache.Client
	interval    time.Duration
	owner       string
	log         *zap.Logger
}

// NewSweeper creates a sweeper that runs every interval.
func NewSweeper(campaigns CampaignService, submissions SubmissionService, ledger LedgerService, c *cache.Client, interval time.Duration, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		campaigns:   campaigns,
		submissions: submissions,
		ledger:      ledger,
		cache:       c,
		interval:    interval,
		owner:       uuid.NewString(),
		log:         log,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info("[Sweeper] started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Cycle(ctx); err != nil {
				s.log.Error("[Sweeper] cycle failed", zap.Error(err))
			}
		case <-ctx.Done():
			s.log.Warn("[Sweeper] stopped")
			return
		}
	}
}

// Cycle runs one sweep if no other instance holds the lease.
func (s *Sweeper) Cycle(ctx context.Context) (*SweepReport, error) {
	if !s.cache.AcquireLease(ctx, sweepLeaseKey, s.owner, s.interval) {
		metrics.SweepRuns.WithLabelValues("skipped").Inc()
		return &SweepReport{Skipped: true}, nil
	}
	defer s.cache.ReleaseLease(ctx, sweepLeaseKey, s.owner)
	return s.RunOnce(ctx)
}

// RunOnce runs every sweep step once. Steps are independent: a failing step is
// reported but does not stop the ones after it.
func (s *Sweeper) RunOnce(ctx context.Context) (*SweepReport, error) {
	start := time.Now()
	report := &SweepReport{}
	var firstErr error
	record := func(step string, n int, err error) int {
		if err != nil {
			s.log.Error("[Sweeper] step failed", zap.String("step", step), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
		return n
	}

	n, err := s.submissions.ExpireOverdue(ctx)
	report.ExpiredClaims = record("expire_overdue", n, err)
	n, err = s.submissions.AutoApproveDue(ctx)
	report.AutoApproved = record("auto_approve", n, err)
	n, err = s.campaigns.CloseExpired(ctx)
	report.ClosedCampaigns = record("close_expired", n, err)
	n, err = s.ledger.SettleMatured(ctx)
	report.SettledCredits = record("settle_matured", n, err)

	if firstErr != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		return report, firstErr
	}
	metrics.SweepRuns.WithLabelValues("ok").Inc()
	metrics.SweepDuration.Observe(time.Since(start).Seconds())

	if report.ExpiredClaims+report.AutoApproved+report.ClosedCampaigns+report.SettledCredits > 0 {
		s.log.Info("[Sweeper] cycle completed",
			zap.Int("expired_claims", report.ExpiredClaims),
			zap.Int("auto_approved", report.AutoApproved),
			zap.Int("closed_campaigns", report.ClosedCampaigns),
			zap.Int("settled_credits", report.SettledCredits),
			zap.Duration("duration", time.Since(start)))
	}
	return report, nil
}
