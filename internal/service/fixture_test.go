package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"taskflow/internal/auth"
	"taskflow/internal/model"
	"taskflow/internal/notify"
	"taskflow/internal/repository"
	"taskflow/internal/testutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, event notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) ofType(t notify.EventType) []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Event
	for _, e := range n.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	t           *testing.T
	ctx         context.Context
	clock       *fakeClock
	notifier    *recordingNotifier
	store       repository.Store
	deps        Dependencies
	campaigns   CampaignService
	submissions SubmissionService
	ledger      LedgerService
	users       UserService
	incidents   IncidentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newFakeClock()
	notifier := &recordingNotifier{}
	store := repository.NewStore(testutil.NewTestDB(t))

	deps := Dependencies{
		Store:    store,
		Notifier: notifier,
		Policy:   DefaultPolicy(),
		Locks:    &KeyedMutex{},
		Now:      clock.Now,
	}
	campaigns := NewCampaignService(deps)
	submissions := NewSubmissionService(deps)

	return &fixture{
		t:           t,
		ctx:         context.Background(),
		clock:       clock,
		notifier:    notifier,
		store:       store,
		deps:        deps,
		campaigns:   campaigns,
		submissions: submissions,
		ledger:      NewLedgerService(deps),
		users:       NewUserService(deps, campaigns, submissions),
		incidents:   NewIncidentService(deps),
	}
}

func (f *fixture) user(role model.Role) *model.User {
	f.t.Helper()
	u := &model.User{
		ID:           uuid.New(),
		Email:        uuid.NewString() + "@example.com",
		PasswordHash: "x",
		Role:         role,
		DisplayName:  string(role),
	}
	require.NoError(f.t, f.store.Users().Create(f.ctx, u))
	return u
}

func principalOf(u *model.User) auth.Principal {
	return auth.Principal{UserID: u.ID, Email: u.Email, Role: u.Role}
}

func spec(pay string, slots int) CampaignSpec {
	return CampaignSpec{
		Title:          "Follow our page",
		Description:    "Follow and screenshot",
		Category:       "Social Media",
		PaymentPerSlot: decimal.RequireFromString(pay),
		TotalSlots:     slots,
		AllowedMinutes: 30,
	}
}

// fund deposits amount into employer's balance.
func (f *fixture) fund(employer *model.User, amount decimal.Decimal) {
	f.t.Helper()
	_, err := f.ledger.Deposit(f.ctx, employer.ID, amount, "")
	require.NoError(f.t, err)
}

// publishedCampaign funds, creates and publishes a campaign owned by employer.
func (f *fixture) publishedCampaign(employer *model.User, s CampaignSpec) *model.Campaign {
	f.t.Helper()
	c, err := f.campaigns.Create(f.ctx, employer.ID, s)
	require.NoError(f.t, err)
	f.fund(employer, c.BudgetTotal.Add(c.PlatformFee))
	c, err = f.campaigns.Publish(f.ctx, principalOf(employer), c.ID)
	require.NoError(f.t, err)
	return c
}

func (f *fixture) campaign(id uuid.UUID) *model.Campaign {
	f.t.Helper()
	c, err := f.store.Campaigns().FindByID(f.ctx, id)
	require.NoError(f.t, err)
	return c
}

func (f *fixture) submission(id uuid.UUID) *model.Submission {
	f.t.Helper()
	s, err := f.store.Submissions().FindByID(f.ctx, id)
	require.NoError(f.t, err)
	return s
}

func (f *fixture) entries(userID uuid.UUID) []model.LedgerEntry {
	f.t.Helper()
	entries, err := f.store.Ledger().ListByUser(f.ctx, userID)
	require.NoError(f.t, err)
	return entries
}

func (f *fixture) entriesOfKind(userID uuid.UUID, kind model.EntryKind) []model.LedgerEntry {
	f.t.Helper()
	var out []model.LedgerEntry
	for _, e := range f.entries(userID) {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// submitted claims a slot for worker and submits proof.
func (f *fixture) submitted(campaign *model.Campaign, worker *model.User) *model.Submission {
	f.t.Helper()
	sub, err := f.campaigns.ClaimSlot(f.ctx, campaign.ID, worker.ID)
	require.NoError(f.t, err)
	sub, err = f.submissions.SubmitProof(f.ctx, worker.ID, sub.ID, "https://example.com/proof.png")
	require.NoError(f.t, err)
	return sub
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// requireDecimal compares amounts numerically so "0.5" equals "0.50".
func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}
