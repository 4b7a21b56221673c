package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/auth"
	"taskflow/internal/errors"
	"taskflow/internal/model"
	"taskflow/internal/notify"
)

// Two slots at 0.50: A and B claim, C is turned away, A is approved and paid,
// B lets the deadline pass and the slot comes back.
func TestSubmissionWorkflow_EndToEnd(t *testing.T) {
	f := newFixture(t)
	employer := f.user(model.RoleEmployer)
	workerA := f.user(model.RoleWorker)
	workerB := f.user(model.RoleWorker)
	workerC := f.user(model.RoleWorker)
	c := f.publishedCampaign(employer, spec("0.50", 2))

	subA, err := f.campaigns.ClaimSlot(f.ctx, c.ID, workerA.ID)
	require.NoError(t, err)
	subB, err := f.campaigns.ClaimSlot(f.ctx, c.ID, workerB.ID)
	require.NoError(t, err)
	_, err = f.campaigns.ClaimSlot(f.ctx, c.ID, workerC.ID)
	assert.Equal(t, errors.ErrNoSlotsAvailable, err)

	_, err = f.submissions.SubmitProof(f.ctx, workerA.ID, subA.ID, "https://example.com/a.png")
	require.NoError(t, err)
	approved, err := f.submissions.Resolve(f.ctx, principalOf(employer), subA.ID, DecisionApprove, "looks good")
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionStateApproved, approved.State)
	require.NotNil(t, approved.ReviewerID)
	assert.Equal(t, employer.ID, *approved.ReviewerID)

	got := f.campaign(c.ID)
	requireDecimal(t, "0.50", got.BudgetSpent)
	assert.Equal(t, model.CampaignStatusActive, got.Status)

	balance, err := f.ledger.Balance(f.ctx, workerA.ID)
	require.NoError(t, err)
	requireDecimal(t, "0", balance)

	f.clock.Advance(31 * time.Minute)
	expired, err := f.submissions.ExpireOverdue(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Equal(t, model.SubmissionStateExpired, f.submission(subB.ID).State)
	assert.Equal(t, 1, f.campaign(c.ID).SlotsRemaining)

	f.clock.Advance(24 * time.Hour)
	settled, err := f.ledger.SettleMatured(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	balance, err = f.ledger.Balance(f.ctx, workerA.ID)
	require.NoError(t, err)
	requireDecimal(t, "0.50", balance)
	assert.Empty(t, f.entries(workerB.ID))

	require.Len(t, f.notifier.ofType(notify.EventSubmissionSubmitted), 1)
	require.Len(t, f.notifier.ofType(notify.EventSubmissionResolved), 1)
	require.Len(t, f.notifier.ofType(notify.EventSubmissionExpired), 1)

	// C can now take the released slot.
	_, err = f.campaigns.ClaimSlot(f.ctx, c.ID, workerC.ID)
	assert.NoError(t, err)
}

func TestSubmissionService_SubmitProof(t *testing.T) {
	f := newFixture(t)
	employer := f.user(model.RoleEmployer)
	worker := f.user(model.RoleWorker)
	c := f.publishedCampaign(employer, spec("0.50", 2))

	sub, err := f.campaigns.ClaimSlot(f.ctx, c.ID, worker.ID)
	require.NoError(t, err)

	_, err = f.submissions.SubmitProof(f.ctx, worker.ID, sub.ID, "   ")
	assert.Equal(t, errors.ErrInvalidProof, err)

	_, err = f.submissions.SubmitProof(f.ctx, f.user(model.RoleWorker).ID, sub.ID, "proof")
	assert.Equal(t, errors.ErrForbidden, err)

	submitted, err := f.submissions.SubmitProof(f.ctx, worker.ID, sub.ID, "proof")
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionStateSubmitted, submitted.State)
	assert.Equal(t, "proof", submitted.Proof)
	require.NotNil(t, submitted.SubmittedAt)

	_, err = f.submissions.SubmitProof(f.ctx, worker.ID, sub.ID, "again")
	assert.Equal(t, errors.ErrInvalidState, err)
}

func TestSubmissionService_LateProofExpiresClaim(t *testing.T) {
	f := newFixture(t)
	employer := f.user(model.RoleEmployer)
	worker := f.user(model.RoleWorker)
	c := f.publishedCampaign(employer, spec("0.50", 2))

	sub, err := f.campaigns.ClaimSlot(f.ctx, c.ID, worker.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.campaign(c.ID).SlotsRemaining)

	f.clock.Advance(31 * time.Minute)
	_, err = f.submissions.SubmitProof(f.ctx, worker.ID, sub.ID, "proof")
	assert.Equal(t, errors.ErrDeadlineExpired, err)

	assert.Equal(t, model.SubmissionStateExpired, f.submission(sub.ID).State)
	assert.Equal(t, 2, f.campaign(c.ID).SlotsRemaining)

	// The worker may claim again once the old claim is closed.
	_, err = f.campaigns.ClaimSlot(f.ctx, c.ID, worker.ID)
	assert.NoError(t, err)
}

func TestSubmissionService_ExpiryBeatsLateSubmit(t *testing.T) {
	f := newFixture(t)
	employer := f.user(model.RoleEmployer)
	worker := f.user(model.RoleWorker)
	c := f.publishedCampaign(employer, spec("0.50", 1))

	sub, err := f.campaigns.ClaimSlot(f.ctx, c.ID, worker.ID)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	n, err := f.submissions.ExpireOverdue(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.submissions.SubmitProof(f.ctx, worker.ID, sub.ID, "proof")
	assert.Equal(t, errors.ErrInvalidState, err)
	assert.Equal(t, 1, f.campaign(c.ID).SlotsRemaining, "slot is released once")
}

func TestSubmissionService_ExpireOverdueLeavesFreshClaims(t *testing.T) {
	f := newFixture(t)
	employer := f.user(model.RoleEmployer)
	c := f.publishedCampaign(employer, spec("0.50", 2))

	_, err := f.campaigns.ClaimSlot(f.ctx, c.ID, f.user(model.RoleWorker).ID)
	require.NoError(t, err)
	f.submitted(c, f.user(model.RoleWorker))

	f.clock.Advance(10 * time.Minute)
	n, err := f.submissions.ExpireOverdue(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(time.Hour)
	n, err = f.submissions.ExpireOverdue(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "submitted work is not expired by its claim deadline")
}

func TestSubmissionService_Reject(t *testing.T) {
	f := newFixture(t)
	employer := f.user(model.RoleEmployer)
	worker := f.user(model.RoleWorker)
	c := f.publishedCampaign(employer, spec("0.50", 1))
	sub := f.submitted(c, worker)
	assert.Equal(t, 0, f.campaign(c.ID).SlotsRemaining)

	rejected, err := f.submissions.Resolve(f.ctx, principalOf(employer), sub.ID, DecisionReject, "blurry screenshot")
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionStateRejected, rejected.State)
	assert.Equal(t, "blurry screenshot", rejected.ReviewNote)

	got := f.campaign(c.ID)
	assert.Equal(t, 1, got.SlotsRemaining)
	requireDecimal(t, "0", got.BudgetSpent)
	assert.Empty(t, f.entries(worker.ID))
}

func TestSubmissionService_ResolveGuards(t *testing.T) {
	f := newFixture(t)
	employer := f.user(model.RoleEmployer)
	worker := f.user(model.RoleWorker)
	c := f.publishedCampaign(employer, spec("0.50", 2))

	claimed, err := f.campaigns.ClaimSlot(f.ctx, c.ID, worker.ID)
	require.NoError(t, err)
	_, err = f.submissions.Resolve(f.ctx, principalOf(employer), claimed.ID, DecisionApprove, "")
	assert.Equal(t, errors.ErrInvalidState, err, "claims without proof cannot be resolved")

	sub := f.submitted(c, f.user(model.RoleWorker))

	_, err = f.submissions.Resolve(f.ctx, principalOf(employer), sub.ID, Decision("maybe"), "")
	assert.Equal(t, errors.ErrInvalidDecision, err)

	_, err = f.submissions.Resolve(f.ctx, principalOf(f.user(model.RoleEmployer)), sub.ID, DecisionApprove, "")
	assert.Equal(t, errors.ErrForbidden, err)

	_, err = f.submissions.Resolve(f.ctx, principalOf(f.user(model.RoleAdmin)), sub.ID, DecisionApprove, "")
	assert.NoError(t, err)
}

func TestSubmissionService_DoubleApprovePaysOnce(t *testing.T) {
	f := newFixture(t)
	employer := f.user(model.RoleEmployer)
	worker := f.user(model.RoleWorker)
	c := f.publishedCampaign(employer, spec("0.50", 2))
	sub := f.submitted(c, worker)

	_, err := f.submissions.Resolve(f.ctx, principalOf(employer), sub.ID, DecisionApprove, "")
	require.NoError(t, err)
	_, err = f.submissions.Resolve(f.ctx, principalOf(employer), sub.ID, DecisionApprove, "")
	assert.Equal(t, errors.ErrInvalidState, err)
	_, err = f.submissions.Resolve(f.ctx, principalOf(employer), sub.ID, DecisionReject, "")
	assert.Equal(t, errors.ErrInvalidState, err)

	entries := f.entries(worker.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, model.EntryKindEarning, entries[0].Kind)
	requireDecimal(t, "0.50", entries[0].Amount)
	requireDecimal(t, "0.50", f.campaign(c.ID).BudgetSpent)
}

func TestSubmissionService_ConcurrentResolves(t *testing.T) {
	f := newFixture(t)
	employer := f.user(model.RoleEmployer)
	admin := f.user(model.RoleAdmin)
	worker := f.user(model.RoleWorker)
	c := f.publishedCampaign(employer, spec("0.50", 2))
	sub := f.submitted(c, worker)

	reviewers := []auth.Principal{principalOf(employer), principalOf(admin), auth.System, principalOf(employer)}
	results := make([]error, len(reviewers))
	var wg sync.WaitGroup
	for i, reviewer := range reviewers {
		wg.Add(1)
		go func(i int, reviewer auth.Principal) {
			defer wg.Done()
			_, results[i] = f.submissions.Resolve(f.ctx, reviewer, sub.ID, DecisionApprove, "")
		}(i, reviewer)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.Equal(t, errors.ErrInvalidState, err)
	}
	assert.Equal(t, 1, wins)
	assert.Len(t, f.entries(worker.ID), 1)
	requireDecimal(t, "0.50", f.campaign(c.ID).BudgetSpent)
}

func TestSubmissionService_LastApprovalCompletesCampaign(t *testing.T) {
	f := newFixture(t)
	employer := f.user(model.RoleEmployer)
	c := f.publishedCampaign(employer, spec("1.00", 2))

	first := f.submitted(c, f.user(model.RoleWorker))
	second := f.submitted(c, f.user(model.RoleWorker))

	_, err := f.submissions.Resolve(f.ctx, principalOf(employer), first.ID, DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusActive, f.campaign(c.ID).Status)

	_, err = f.submissions.Resolve(f.ctx, principalOf(employer), second.ID, DecisionApprove, "")
	require.NoError(t, err)

	got := f.campaign(c.ID)
	assert.Equal(t, model.CampaignStatusCompleted, got.Status)
	requireDecimal(t, "2.00", got.BudgetSpent)
	assert.True(t, got.Committed().Equal(got.BudgetTotal))
}

func TestSubmissionService_InFlightClaimSurvivesCancel(t *testing.T) {
	f := newFixture(t)
	employer := f.user(model.RoleEmployer)
	worker := f.user(model.RoleWorker)
	c := f.publishedCampaign(employer, spec("1.00", 2))
	sub := f.submitted(c, worker)

	_, err := f.campaigns.Cancel(f.ctx, principalOf(employer), c.ID)
	require.NoError(t, err)

	_, err = f.submissions.Resolve(f.ctx, principalOf(employer), sub.ID, DecisionApprove, "")
	require.NoError(t, err)

	got := f.campaign(c.ID)
	assert.Equal(t, model.CampaignStatusCancelled, got.Status)
	requireDecimal(t, "1.00", got.BudgetSpent)
	requireDecimal(t, "1.00", got.BudgetRefunded)
	assert.Len(t, f.entries(worker.ID), 1)
}

func TestSubmissionService_ReleaseOnClosedCampaignRefunds(t *testing.T) {
	f := newFixture(t)
	employer := f.user(model.RoleEmployer)
	worker := f.user(model.RoleWorker)
	c := f.publishedCampaign(employer, spec("1.00", 2))

	sub, err := f.campaigns.ClaimSlot(f.ctx, c.ID, worker.ID)
	require.NoError(t, err)
	_, err = f.campaigns.Cancel(f.ctx, principalOf(employer), c.ID)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	n, err := f.submissions.ExpireOverdue(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := f.campaign(c.ID)
	assert.Equal(t, 0, got.SlotsRemaining, "closed campaigns do not get slots back")
	requireDecimal(t, "2.00", got.BudgetRefunded)

	refunds := f.entriesOfKind(employer.ID, model.EntryKindRefund)
	require.Len(t, refunds, 2)
	var slotRefund *model.LedgerEntry
	for i, e := range refunds {
		// one slot's payment plus its 0.05 share of the fee
		requireDecimal(t, "1.05", e.Amount)
		if e.RelatedSubmissionID != nil {
			slotRefund = &refunds[i]
		}
	}
	assert.Equal(t, model.SubmissionStateExpired, f.submission(sub.ID).State)

	// The slot refund shares its key with any other refund for the same submission.
	require.NotNil(t, slotRefund)
	require.NotNil(t, slotRefund.IdempotencyKey)
	assert.Equal(t, "refund:submission:"+sub.ID.String(), *slotRefund.IdempotencyKey)
	_, err = f.ledger.Credit(f.ctx, employer.ID, dec("1.05"), model.EntryKindRefund, &sub.ID)
	assert.Equal(t, errors.ErrDuplicateEntry, err)
	assert.Len(t, f.entriesOfKind(employer.ID, model.EntryKindRefund), 2)
}

func TestSubmissionService_AutoApproveDue(t *testing.T) {
	f := newFixture(t)
	employer := f.user(model.RoleEmployer)
	worker := f.user(model.RoleWorker)

	auto := spec("0.50", 2)
	auto.AutoApprove = true
	c := f.publishedCampaign(employer, auto)
	sub := f.submitted(c, worker)

	manual := f.publishedCampaign(employer, spec("0.50", 2))
	manualSub := f.submitted(manual, f.user(model.RoleWorker))

	n, err := f.submissions.AutoApproveDue(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(49 * time.Hour)
	n, err = f.submissions.AutoApproveDue(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := f.submission(sub.ID)
	assert.Equal(t, model.SubmissionStateApproved, got.State)
	assert.Nil(t, got.ReviewerID)
	assert.Equal(t, "auto-approved", got.ReviewNote)
	assert.Len(t, f.entries(worker.ID), 1)
	assert.Equal(t, model.SubmissionStateSubmitted, f.submission(manualSub.ID).State)
}

// setBudgetSpent overwrites the campaign's spent budget to corrupt or repair it.
func (f *fixture) setBudgetSpent(campaign *model.Campaign, spent string) {
	f.t.Helper()
	current := f.campaign(campaign.ID)
	ok, err := f.store.Campaigns().UpdateVersioned(f.ctx, current.ID, current.Version, map[string]interface{}{"budget_spent": dec(spent)})
	require.NoError(f.t, err)
	require.True(f.t, ok)
}

func TestSubmissionService_BudgetOverrunIsEscalatedOnce(t *testing.T) {
	f := newFixture(t)
	employer := f.user(model.RoleEmployer)
	worker := f.user(model.RoleWorker)
	admin := f.user(model.RoleAdmin)

	auto := spec("0.50", 2)
	auto.AutoApprove = true
	c := f.publishedCampaign(employer, auto)
	sub := f.submitted(c, worker)
	f.setBudgetSpent(c, "1.00")

	f.clock.Advance(49 * time.Hour)
	for i := 0; i < 3; i++ {
		n, err := f.submissions.AutoApproveDue(f.ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	_, err := f.submissions.Resolve(f.ctx, principalOf(employer), sub.ID, DecisionApprove, "")
	assert.Equal(t, errors.ErrBudgetExceeded, err)

	open, err := f.incidents.List(f.ctx, true)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "BUDGET_EXCEEDED", open[0].Code)
	require.NotNil(t, open[0].SubmissionID)
	assert.Equal(t, sub.ID, *open[0].SubmissionID)

	assert.Equal(t, model.SubmissionStateSubmitted, f.submission(sub.ID).State)
	assert.Empty(t, f.entries(worker.ID))

	// Once an admin repairs the campaign and closes the incident, the sweep picks it up again.
	f.setBudgetSpent(c, "0")
	_, err = f.incidents.Resolve(f.ctx, principalOf(admin), open[0].ID)
	require.NoError(t, err)

	n, err := f.submissions.AutoApproveDue(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.SubmissionStateApproved, f.submission(sub.ID).State)
	assert.Len(t, f.entries(worker.ID), 1)
}

func TestSubmissionService_Visibility(t *testing.T) {
	f := newFixture(t)
	employer := f.user(model.RoleEmployer)
	worker := f.user(model.RoleWorker)
	c := f.publishedCampaign(employer, spec("0.50", 2))
	sub := f.submitted(c, worker)

	_, err := f.submissions.Get(f.ctx, principalOf(worker), sub.ID)
	assert.NoError(t, err)
	_, err = f.submissions.Get(f.ctx, principalOf(employer), sub.ID)
	assert.NoError(t, err)
	_, err = f.submissions.Get(f.ctx, principalOf(f.user(model.RoleWorker)), sub.ID)
	assert.Equal(t, errors.ErrForbidden, err)

	_, err = f.submissions.ListForCampaign(f.ctx, principalOf(f.user(model.RoleEmployer)), c.ID)
	assert.Equal(t, errors.ErrForbidden, err)
	list, err := f.submissions.ListForCampaign(f.ctx, principalOf(employer), c.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	mine, err := f.submissions.ListForWorker(f.ctx, worker.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}
