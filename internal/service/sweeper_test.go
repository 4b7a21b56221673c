package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/model"
)

func TestSweeper_RunOnce(t *testing.T) {
	f := newFixture(t)
	employer := f.user(model.RoleEmployer)

	auto := spec("0.50", 3)
	auto.AutoApprove = true
	expires := f.clock.Now().Add(36 * time.Hour)
	auto.ExpiresAt = &expires
	c := f.publishedCampaign(employer, auto)

	approvable := f.submitted(c, f.user(model.RoleWorker))
	stale, err := f.campaigns.ClaimSlot(f.ctx, c.ID, f.user(model.RoleWorker).ID)
	require.NoError(t, err)

	sweeper := NewSweeper(f.campaigns, f.submissions, f.ledger, nil, time.Minute, nil)

	report, err := sweeper.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{}, *report)

	f.clock.Advance(49 * time.Hour)
	report, err = sweeper.Cycle(f.ctx)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 1, report.ExpiredClaims)
	assert.Equal(t, 1, report.AutoApproved)
	assert.Equal(t, 1, report.ClosedCampaigns)
	assert.Zero(t, report.SettledCredits, "fresh credits are still on hold")

	assert.Equal(t, model.SubmissionStateApproved, f.submission(approvable.ID).State)
	assert.Equal(t, model.SubmissionStateExpired, f.submission(stale.ID).State)
	got := f.campaign(c.ID)
	assert.Equal(t, model.CampaignStatusCompleted, got.Status)
	requireDecimal(t, "0.50", got.BudgetSpent)
	requireDecimal(t, "1.00", got.BudgetRefunded)

	f.clock.Advance(25 * time.Hour)
	report, err = sweeper.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.SettledCredits, "worker earning and employer refund")
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	sweeper := NewSweeper(f.campaigns, f.submissions, f.ledger, nil, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(f.ctx)
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
