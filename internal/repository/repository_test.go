package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/model"
	"taskflow/internal/testutil"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func seedCampaign(t *testing.T, s Store, slots int) (*model.User, *model.Campaign) {
	t.Helper()
	ctx := context.Background()
	employer := &model.User{Email: uuid.NewString() + "@example.com", PasswordHash: "x", Role: model.RoleEmployer, DisplayName: "employer"}
	require.NoError(t, s.Users().Create(ctx, employer))

	campaign := &model.Campaign{
		EmployerID:     employer.ID,
		Title:          "Rate our app",
		Category:       "Reviews",
		Difficulty:     model.DifficultyEasy,
		PaymentPerSlot: decimal.RequireFromString("0.50"),
		TotalSlots:     slots,
		SlotsRemaining: slots,
		AllowedMinutes: 30,
		Status:         model.CampaignStatusActive,
		BudgetTotal:    decimal.RequireFromString("0.50").Mul(decimal.NewFromInt(int64(slots))),
		CreatedAt:      epoch,
		ExpiresAt:      epoch.Add(24 * time.Hour),
	}
	require.NoError(t, s.Campaigns().Create(ctx, campaign))
	return employer, campaign
}

func TestSubmissionRepository_ActiveClaimIsUnique(t *testing.T) {
	ctx := context.Background()
	s := NewStore(testutil.NewTestDB(t))
	_, campaign := seedCampaign(t, s, 3)
	workerID := uuid.New()

	first := &model.Submission{CampaignID: campaign.ID, WorkerID: workerID, State: model.SubmissionStateClaimed, ClaimedAt: epoch, Deadline: epoch.Add(time.Hour)}
	require.NoError(t, s.Submissions().Create(ctx, first))

	second := &model.Submission{CampaignID: campaign.ID, WorkerID: workerID, State: model.SubmissionStateClaimed, ClaimedAt: epoch, Deadline: epoch.Add(time.Hour)}
	err := s.Submissions().Create(ctx, second)
	require.Error(t, err)
	assert.True(t, IsDuplicateKey(err))

	active, err := s.Submissions().FindActiveClaim(ctx, campaign.ID, workerID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)

	ok, err := s.Submissions().Transition(ctx, first.ID, model.SubmissionStateClaimed, first.Version, map[string]interface{}{
		"state": model.SubmissionStateExpired,
	})
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.Submissions().FindActiveClaim(ctx, campaign.ID, workerID)
	assert.True(t, IsNotFound(err))

	third := &model.Submission{CampaignID: campaign.ID, WorkerID: workerID, State: model.SubmissionStateClaimed, ClaimedAt: epoch, Deadline: epoch.Add(time.Hour)}
	assert.NoError(t, s.Submissions().Create(ctx, third), "a closed claim does not block a new one")
}

func TestSubmissionRepository_TransitionRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := NewStore(testutil.NewTestDB(t))
	_, campaign := seedCampaign(t, s, 1)

	sub := &model.Submission{CampaignID: campaign.ID, WorkerID: uuid.New(), State: model.SubmissionStateClaimed, ClaimedAt: epoch, Deadline: epoch.Add(time.Hour)}
	require.NoError(t, s.Submissions().Create(ctx, sub))

	ok, err := s.Submissions().Transition(ctx, sub.ID, model.SubmissionStateClaimed, sub.Version, map[string]interface{}{
		"state": model.SubmissionStateSubmitted,
		"proof": "done",
	})
	require.NoError(t, err)
	require.True(t, ok)

	// Same version read before the first write.
	ok, err = s.Submissions().Transition(ctx, sub.ID, model.SubmissionStateSubmitted, sub.Version, map[string]interface{}{
		"state": model.SubmissionStateApproved,
	})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Submissions().FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionStateSubmitted, got.State)
	assert.Equal(t, sub.Version+1, got.Version)
	require.NotNil(t, got.ActiveClaim)
}

func TestCampaignRepository_SlotCounters(t *testing.T) {
	ctx := context.Background()
	s := NewStore(testutil.NewTestDB(t))
	_, campaign := seedCampaign(t, s, 1)
	repo := s.Campaigns()

	ok, err := repo.IncrementSlot(ctx, campaign.ID)
	require.NoError(t, err)
	assert.False(t, ok, "never above total")

	ok, err = repo.DecrementSlot(ctx, campaign.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.DecrementSlot(ctx, campaign.ID)
	require.NoError(t, err)
	assert.False(t, ok, "never below zero")

	got, err := repo.FindByID(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.SlotsRemaining)

	ok, err = repo.UpdateVersioned(ctx, campaign.ID, campaign.Version, map[string]interface{}{"status": model.CampaignStatusPaused})
	require.NoError(t, err)
	assert.False(t, ok, "slot updates bump the version")

	ok, err = repo.UpdateVersioned(ctx, campaign.ID, got.Version, map[string]interface{}{"status": model.CampaignStatusPaused})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLedgerRepository_IdempotencyKeyIsUnique(t *testing.T) {
	ctx := context.Background()
	s := NewStore(testutil.NewTestDB(t))
	key := "earning:submission:" + uuid.NewString()
	userID := uuid.New()

	entry := &model.LedgerEntry{UserID: userID, Amount: decimal.RequireFromString("0.50"), Kind: model.EntryKindEarning, Status: model.EntryStatusPending, IdempotencyKey: &key, CreatedAt: epoch}
	require.NoError(t, s.Ledger().Create(ctx, entry))

	dup := &model.LedgerEntry{UserID: userID, Amount: decimal.RequireFromString("0.50"), Kind: model.EntryKindEarning, Status: model.EntryStatusPending, IdempotencyKey: &key, CreatedAt: epoch}
	err := s.Ledger().Create(ctx, dup)
	assert.True(t, IsDuplicateKey(err))

	// Entries without a key never collide.
	for i := 0; i < 2; i++ {
		require.NoError(t, s.Ledger().Create(ctx, &model.LedgerEntry{UserID: userID, Amount: decimal.RequireFromString("-1.00"), Kind: model.EntryKindWithdrawal, Status: model.EntryStatusPending, CreatedAt: epoch}))
	}

	ok, err := s.Ledger().UpdateStatus(ctx, entry.ID, model.EntryStatusPending, model.EntryStatusCompleted, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Ledger().UpdateStatus(ctx, entry.ID, model.EntryStatusPending, model.EntryStatusFailed, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	completed, err := s.Ledger().ListByUser(ctx, userID, model.EntryStatusCompleted)
	require.NoError(t, err)
	assert.Len(t, completed, 1)
}

func TestUserRepository_SoftDelete(t *testing.T) {
	ctx := context.Background()
	s := NewStore(testutil.NewTestDB(t))
	user := &model.User{Email: " Mixed@Example.COM ", PasswordHash: "x", Role: model.RoleWorker, DisplayName: "w"}
	require.NoError(t, s.Users().Create(ctx, user))

	found, err := s.Users().FindByEmail(ctx, "mixed@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	require.NoError(t, s.Users().Delete(ctx, user.ID))
	_, err = s.Users().FindByID(ctx, user.ID)
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(s.Users().Delete(ctx, user.ID)))

	again := &model.User{Email: "mixed@example.com", PasswordHash: "x", Role: model.RoleWorker, DisplayName: "w"}
	assert.True(t, IsDuplicateKey(s.Users().Create(ctx, again)), "tombstones keep their email")
}

func TestIncidentRepository_OpenIncidentHoldsSubmission(t *testing.T) {
	ctx := context.Background()
	s := NewStore(testutil.NewTestDB(t))
	_, campaign := seedCampaign(t, s, 2)

	overdue := &model.Submission{CampaignID: campaign.ID, WorkerID: uuid.New(), State: model.SubmissionStateClaimed, ClaimedAt: epoch, Deadline: epoch.Add(time.Hour)}
	require.NoError(t, s.Submissions().Create(ctx, overdue))

	listed, err := s.Submissions().ListOverdueClaims(ctx, epoch.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	open, err := s.Incidents().HasOpen(ctx, "BUDGET_EXCEEDED", &campaign.ID, &overdue.ID)
	require.NoError(t, err)
	assert.False(t, open)

	incident := &model.Incident{Code: "BUDGET_EXCEEDED", CampaignID: &campaign.ID, SubmissionID: &overdue.ID, CreatedAt: epoch}
	require.NoError(t, s.Incidents().Create(ctx, incident))

	open, err = s.Incidents().HasOpen(ctx, "BUDGET_EXCEEDED", &campaign.ID, &overdue.ID)
	require.NoError(t, err)
	assert.True(t, open)
	open, err = s.Incidents().HasOpen(ctx, "BUDGET_EXCEEDED", &campaign.ID, nil)
	require.NoError(t, err)
	assert.False(t, open, "campaign-level lookups ignore submission incidents")

	listed, err = s.Submissions().ListOverdueClaims(ctx, epoch.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, listed)

	ok, err := s.Incidents().Resolve(ctx, incident.ID, uuid.New(), epoch.Add(3*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	listed, err = s.Submissions().ListOverdueClaims(ctx, epoch.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}
