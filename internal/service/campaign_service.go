package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"taskflow/internal/auth"
	"taskflow/internal/errors"
	"taskflow/internal/metrics"
	"taskflow/internal/model"
	"taskflow/internal/notify"
	"taskflow/internal/repository"
)

const activeListingCacheKey = "campaigns:active"

// CampaignSpec is what an employer provides to post a campaign.
type CampaignSpec struct {
	Title          string
	Description    string
	Instructions   string
	Category       string
	Difficulty     model.Difficulty
	PaymentPerSlot decimal.Decimal
	TotalSlots     int
	AllowedMinutes int
	ExpiresAt      *time.Time
	AutoApprove    bool
}

// CampaignService manages the campaign catalog and its slot pool.
type CampaignService interface {
	Create(ctx context.Context, employerID uuid.UUID, spec CampaignSpec) (*model.Campaign, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
	// Publish activates a draft and charges the employer its budget plus fee.
	Publish(ctx context.Context, actor auth.Principal, id uuid.UUID) (*model.Campaign, error)
	Pause(ctx context.Context, actor auth.Principal, id uuid.UUID) (*model.Campaign, error)
	Resume(ctx context.Context, actor auth.Principal, id uuid.UUID) (*model.Campaign, error)
	Cancel(ctx context.Context, actor auth.Principal, id uuid.UUID) (*model.Campaign, error)
	ClaimSlot(ctx context.Context, campaignID, workerID uuid.UUID) (*model.Submission, error)
	ReleaseSlot(ctx context.Context, campaignID uuid.UUID) error
	ListActive(ctx context.Context) ([]model.Campaign, error)
	Search(ctx context.Context, text, category string) ([]model.Campaign, error)
	ListByEmployer(ctx context.Context, employerID uuid.UUID) ([]model.Campaign, error)
	List(ctx context.Context, status model.CampaignStatus) ([]model.Campaign, error)
	// CloseExpired completes open campaigns whose expiry has passed.
	CloseExpired(ctx context.Context) (int, error)
}

type campaignService struct {
	deps  Dependencies
	group singleflight.Group
}

// NewCampaignService creates a new campaign service.
func NewCampaignService(deps Dependencies) CampaignService {
	return &campaignService{deps: deps.withDefaults()}
}

func (s *campaignService) Create(ctx context.Context, employerID uuid.UUID, spec CampaignSpec) (*model.Campaign, error) {
	now := s.deps.now()
	if err := s.normalizeSpec(&spec, now); err != nil {
		return nil, err
	}

	employer, err := s.deps.Store.Users().FindByID(ctx, employerID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, errors.ErrUserNotFound
		}
		return nil, err
	}
	if employer.Role != model.RoleEmployer {
		return nil, errors.ErrForbidden
	}

	budget := spec.PaymentPerSlot.Mul(decimal.NewFromInt(int64(spec.TotalSlots)))
	campaign := &model.Campaign{
		EmployerID:     employerID,
		Title:          spec.Title,
		Description:    spec.Description,
		Instructions:   spec.Instructions,
		Category:       spec.Category,
		Difficulty:     spec.Difficulty,
		PaymentPerSlot: spec.PaymentPerSlot,
		TotalSlots:     spec.TotalSlots,
		SlotsRemaining: spec.TotalSlots,
		AllowedMinutes: spec.AllowedMinutes,
		AutoApprove:    spec.AutoApprove,
		Status:         model.CampaignStatusDraft,
		BudgetTotal:    budget,
		BudgetSpent:    decimal.Zero,
		BudgetRefunded: decimal.Zero,
		PlatformFee:    budget.Mul(s.deps.Policy.PlatformFeeRate).Round(2),
		CreatedAt:      now,
		ExpiresAt:      *spec.ExpiresAt,
	}
	if err := s.deps.Store.Campaigns().Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	s.deps.Logger.Info("campaign created",
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("employer_id", employerID.String()),
		zap.String("budget_total", campaign.BudgetTotal.StringFixed(2)))
	return campaign, nil
}

func (s *campaignService) normalizeSpec(spec *CampaignSpec, now time.Time) error {
	spec.Title = strings.TrimSpace(spec.Title)
	if spec.Title == "" {
		return errors.ErrInvalidCampaign
	}
	if !spec.PaymentPerSlot.IsPositive() || !isCents(spec.PaymentPerSlot) {
		return errors.ErrInvalidCampaign
	}
	if spec.TotalSlots <= 0 {
		return errors.ErrInvalidCampaign
	}
	if !model.IsCategory(spec.Category) {
		return errors.ErrInvalidCampaign
	}
	if spec.Difficulty == "" {
		spec.Difficulty = model.DifficultyEasy
	}
	if !spec.Difficulty.Valid() {
		return errors.ErrInvalidCampaign
	}
	if spec.AllowedMinutes < 0 {
		return errors.ErrInvalidCampaign
	}
	if spec.AllowedMinutes == 0 {
		spec.AllowedMinutes = int(s.deps.Policy.DefaultClaimWindow / time.Minute)
		if spec.AllowedMinutes == 0 {
			spec.AllowedMinutes = 60
		}
	}
	if spec.ExpiresAt == nil {
		expires := now.Add(s.deps.Policy.DefaultCampaignTTL)
		spec.ExpiresAt = &expires
	}
	expires := spec.ExpiresAt.UTC()
	if !expires.After(now) {
		return errors.ErrInvalidCampaign
	}
	spec.ExpiresAt = &expires
	return nil
}

func (s *campaignService) Get(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	campaign, err := s.deps.Store.Campaigns().FindByID(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, errors.ErrCampaignNotFound
		}
		return nil, err
	}
	return campaign, nil
}

func (s *campaignService) Publish(ctx context.Context, actor auth.Principal, id uuid.UUID) (*model.Campaign, error) {
	return s.transition(ctx, actor, id, model.CampaignStatusActive, model.CampaignStatusDraft)
}

func (s *campaignService) Pause(ctx context.Context, actor auth.Principal, id uuid.UUID) (*model.Campaign, error) {
	return s.transition(ctx, actor, id, model.CampaignStatusPaused, model.CampaignStatusActive)
}

func (s *campaignService) Resume(ctx context.Context, actor auth.Principal, id uuid.UUID) (*model.Campaign, error) {
	return s.transition(ctx, actor, id, model.CampaignStatusActive, model.CampaignStatusPaused)
}

func (s *campaignService) Cancel(ctx context.Context, actor auth.Principal, id uuid.UUID) (*model.Campaign, error) {
	return s.transition(ctx, actor, id, model.CampaignStatusCancelled,
		model.CampaignStatusDraft, model.CampaignStatusActive, model.CampaignStatusPaused)
}

// canManage reports whether actor may mutate campaign.
func canManage(actor auth.Principal, campaign *model.Campaign) bool {
	return actor.Role == model.RoleAdmin || campaign.EmployerID == actor.UserID
}

func findCampaignForUpdate(ctx context.Context, tx repository.Store, id uuid.UUID) (*model.Campaign, error) {
	campaign, err := tx.Campaigns().FindByIDForUpdate(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, errors.ErrCampaignNotFound
		}
		return nil, err
	}
	return campaign, nil
}

func (s *campaignService) transition(ctx context.Context, actor auth.Principal, id uuid.UUID, to model.CampaignStatus, from ...model.CampaignStatus) (*model.Campaign, error) {
	unlock := s.deps.Locks.Lock(campaignLockKey(id))
	defer unlock()

	if to == model.CampaignStatusActive {
		// Lock order: campaign, then employer.
		current, err := s.deps.Store.Campaigns().FindByID(ctx, id)
		if err != nil {
			if repository.IsNotFound(err) {
				return nil, errors.ErrCampaignNotFound
			}
			return nil, err
		}
		unlockEmployer := s.deps.Locks.Lock(userLockKey(current.EmployerID))
		defer unlockEmployer()
	}

	now := s.deps.now()
	var updated *model.Campaign
	err := s.deps.Store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		campaign, err := findCampaignForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if !canManage(actor, campaign) {
			return errors.ErrForbidden
		}
		if !statusIn(campaign.Status, from) {
			return errors.ErrInvalidTransition
		}

		if to == model.CampaignStatusCancelled {
			if err := closeCampaignTx(ctx, tx, campaign, to, now); err != nil {
				return err
			}
		} else {
			fields := map[string]interface{}{"status": to}
			if to == model.CampaignStatusActive {
				if !campaign.ExpiresAt.After(now) {
					return errors.ErrInvalidTransition
				}
				if campaign.PublishedAt == nil {
					fields["published_at"] = now
				}
			}
			ok, err := tx.Campaigns().UpdateVersioned(ctx, id, campaign.Version, fields)
			if err != nil {
				return fmt.Errorf("update campaign: %w", err)
			}
			if !ok {
				return errors.ErrConcurrentUpdate
			}
			if to == model.CampaignStatusActive && campaign.PublishedAt == nil {
				if err := chargeCampaignTx(ctx, tx, campaign, now); err != nil {
					return err
				}
			}
		}

		updated, err = tx.Campaigns().FindByID(ctx, id)
		return err
	})
	if err != nil {
		if errors.IsIntegrity(err) {
			escalate(ctx, s.deps, err, &id, nil, fmt.Sprintf("closing campaign as %s", to))
		}
		return nil, err
	}

	s.invalidateListing(ctx)
	s.deps.Logger.Info("campaign status changed",
		zap.String("campaign_id", id.String()),
		zap.String("status", string(updated.Status)),
		zap.String("actor_id", actor.UserID.String()))
	if updated.Status.Closed() {
		s.notifyClosed(ctx, updated)
	}
	return updated, nil
}

func statusIn(status model.CampaignStatus, set []model.CampaignStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

// chargeCampaignTx debits the employer for the campaign's budget and platform
// fee. It fails with ErrInsufficientBalance when the employer's withdrawable
// balance does not cover both.
func chargeCampaignTx(ctx context.Context, tx repository.Store, campaign *model.Campaign, now time.Time) error {
	if _, err := tx.Users().FindByIDForUpdate(ctx, campaign.EmployerID); err != nil {
		if repository.IsNotFound(err) {
			return errors.ErrUserNotFound
		}
		return err
	}

	total := campaign.BudgetTotal.Add(campaign.PlatformFee)
	entries, err := tx.Ledger().ListByUser(ctx, campaign.EmployerID, model.EntryStatusCompleted, model.EntryStatusPending)
	if err != nil {
		return fmt.Errorf("load employer ledger: %w", err)
	}
	if total.GreaterThan(summarize(entries).Withdrawable) {
		return errors.ErrInsufficientBalance
	}

	campaignID := campaign.ID
	return appendEntry(ctx, tx, &model.LedgerEntry{
		UserID:            campaign.EmployerID,
		Amount:            total.Neg(),
		Kind:              model.EntryKindCharge,
		Status:            model.EntryStatusCompleted,
		RelatedCampaignID: &campaignID,
		IdempotencyKey:    idempotencyKey(string(model.EntryKindCharge), "campaign", campaignID),
		Description:       fmt.Sprintf("funding for %d slots", campaign.TotalSlots),
		SettledAt:         &now,
	}, now)
}

// closeCampaignTx moves an open campaign to a closed status and returns the
// unclaimed slots to the employer. Claims already handed out stay funded until
// they are resolved.
func closeCampaignTx(ctx context.Context, tx repository.Store, campaign *model.Campaign, to model.CampaignStatus, now time.Time) error {
	fields := map[string]interface{}{
		"status":          to,
		"slots_remaining": 0,
		"closed_at":       now,
	}

	var refund *model.LedgerEntry
	if campaign.PublishedAt != nil && campaign.SlotsRemaining > 0 {
		unclaimed := decimal.NewFromInt(int64(campaign.SlotsRemaining))
		budgetShare := campaign.PaymentPerSlot.Mul(unclaimed)
		refunded := campaign.BudgetRefunded.Add(budgetShare)
		if campaign.BudgetSpent.Add(refunded).GreaterThan(campaign.BudgetTotal) {
			return errors.ErrBudgetExceeded
		}
		feeShare := campaign.PlatformFee.Mul(unclaimed).
			Div(decimal.NewFromInt(int64(campaign.TotalSlots))).Round(2)

		fields["budget_refunded"] = refunded
		campaignID := campaign.ID
		refund = &model.LedgerEntry{
			UserID:            campaign.EmployerID,
			Amount:            budgetShare.Add(feeShare),
			Kind:              model.EntryKindRefund,
			RelatedCampaignID: &campaignID,
			IdempotencyKey:    idempotencyKey(string(model.EntryKindRefund), "campaign", campaignID),
			Description:       fmt.Sprintf("refund of %d unclaimed slots", campaign.SlotsRemaining),
		}
	}

	ok, err := tx.Campaigns().UpdateVersioned(ctx, campaign.ID, campaign.Version, fields)
	if err != nil {
		return fmt.Errorf("close campaign: %w", err)
	}
	if !ok {
		return errors.ErrConcurrentUpdate
	}
	if refund != nil {
		return appendEntry(ctx, tx, refund, now)
	}
	return nil
}

// releaseSlotTx gives the slot held by submission back. On a campaign that is
// already closed the slot cannot be reused, so its budget is refunded instead.
func releaseSlotTx(ctx context.Context, tx repository.Store, submission *model.Submission, now time.Time) error {
	campaign, err := findCampaignForUpdate(ctx, tx, submission.CampaignID)
	if err != nil {
		return err
	}

	if !campaign.Status.Closed() {
		if _, err := tx.Campaigns().IncrementSlot(ctx, campaign.ID); err != nil {
			return fmt.Errorf("release slot: %w", err)
		}
		return nil
	}

	refunded := campaign.BudgetRefunded.Add(campaign.PaymentPerSlot)
	if campaign.BudgetSpent.Add(refunded).GreaterThan(campaign.BudgetTotal) {
		return errors.ErrBudgetExceeded
	}
	ok, err := tx.Campaigns().UpdateVersioned(ctx, campaign.ID, campaign.Version,
		map[string]interface{}{"budget_refunded": refunded})
	if err != nil {
		return fmt.Errorf("refund slot: %w", err)
	}
	if !ok {
		return errors.ErrConcurrentUpdate
	}

	campaignID := campaign.ID
	submissionID := submission.ID
	return appendEntry(ctx, tx, &model.LedgerEntry{
		UserID:              campaign.EmployerID,
		Amount:              campaign.PaymentPerSlot.Add(campaign.SlotFee()),
		Kind:                model.EntryKindRefund,
		RelatedCampaignID:   &campaignID,
		RelatedSubmissionID: &submissionID,
		IdempotencyKey:      idempotencyKey(string(model.EntryKindRefund), "submission", submissionID),
		Description:         "refund of released slot on closed campaign",
	}, now)
}

func (s *campaignService) ClaimSlot(ctx context.Context, campaignID, workerID uuid.UUID) (*model.Submission, error) {
	unlock := s.deps.Locks.Lock(campaignLockKey(campaignID))
	defer unlock()

	now := s.deps.now()
	var submission *model.Submission
	err := s.deps.Store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		campaign, err := findCampaignForUpdate(ctx, tx, campaignID)
		if err != nil {
			return err
		}
		if campaign.Status != model.CampaignStatusActive || !campaign.ExpiresAt.After(now) {
			return errors.ErrCampaignNotActive
		}

		_, err = tx.Submissions().FindActiveClaim(ctx, campaignID, workerID)
		if err == nil {
			return errors.ErrDuplicateClaim
		}
		if !repository.IsNotFound(err) {
			return fmt.Errorf("check existing claim: %w", err)
		}

		if campaign.SlotsRemaining <= 0 {
			return errors.ErrNoSlotsAvailable
		}
		ok, err := tx.Campaigns().DecrementSlot(ctx, campaignID)
		if err != nil {
			return fmt.Errorf("take slot: %w", err)
		}
		if !ok {
			return errors.ErrNoSlotsAvailable
		}

		submission = &model.Submission{
			CampaignID: campaignID,
			WorkerID:   workerID,
			State:      model.SubmissionStateClaimed,
			ClaimedAt:  now,
			Deadline:   now.Add(campaign.AllowedDuration()),
			CreatedAt:  now,
		}
		if err := tx.Submissions().Create(ctx, submission); err != nil {
			if repository.IsDuplicateKey(err) {
				return errors.ErrDuplicateClaim
			}
			return fmt.Errorf("create submission: %w", err)
		}
		return nil
	})
	if err != nil {
		metrics.SlotClaims.WithLabelValues(errors.CodeOf(err)).Inc()
		return nil, err
	}

	metrics.SlotClaims.WithLabelValues("OK").Inc()
	s.invalidateListing(ctx)
	s.deps.Logger.Info("slot claimed",
		zap.String("campaign_id", campaignID.String()),
		zap.String("worker_id", workerID.String()),
		zap.String("submission_id", submission.ID.String()))
	return submission, nil
}

// ReleaseSlot returns one slot to an open campaign, capped at its total.
func (s *campaignService) ReleaseSlot(ctx context.Context, campaignID uuid.UUID) error {
	unlock := s.deps.Locks.Lock(campaignLockKey(campaignID))
	defer unlock()

	err := s.deps.Store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		campaign, err := findCampaignForUpdate(ctx, tx, campaignID)
		if err != nil {
			return err
		}
		if campaign.Status.Closed() {
			return errors.ErrCampaignNotActive
		}
		_, err = tx.Campaigns().IncrementSlot(ctx, campaignID)
		return err
	})
	if err != nil {
		return err
	}
	s.invalidateListing(ctx)
	return nil
}

func (s *campaignService) ListActive(ctx context.Context) ([]model.Campaign, error) {
	if cached, err := s.deps.Cache.Get(ctx, activeListingCacheKey); err == nil && cached != nil {
		var campaigns []model.Campaign
		if err := json.Unmarshal(cached, &campaigns); err == nil {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return campaigns, nil
		}
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	v, err, _ := s.group.Do(activeListingCacheKey, func() (interface{}, error) {
		campaigns, err := s.deps.Store.Campaigns().ListActive(ctx, s.deps.now())
		if err != nil {
			return nil, err
		}
		ttl := listingTTL(campaigns, s.deps.now(), s.deps.Policy.ListCacheTTL)
		if payload, err := json.Marshal(campaigns); err == nil && ttl > 0 {
			_ = s.deps.Cache.Set(ctx, activeListingCacheKey, payload, ttl)
		}
		return campaigns, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.Campaign), nil
}

// listingTTL caps max so a cached listing never outlives the first campaign in it to expire.
func listingTTL(campaigns []model.Campaign, now time.Time, max time.Duration) time.Duration {
	ttl := max
	for _, c := range campaigns {
		if left := c.ExpiresAt.Sub(now); left < ttl {
			ttl = left
		}
	}
	return ttl
}

func (s *campaignService) invalidateListing(ctx context.Context) {
	_ = s.deps.Cache.Delete(ctx, activeListingCacheKey)
}

func (s *campaignService) Search(ctx context.Context, text, category string) ([]model.Campaign, error) {
	if category != "" && !model.IsCategory(category) {
		return []model.Campaign{}, nil
	}
	return s.deps.Store.Campaigns().Search(ctx, text, category, s.deps.now())
}

func (s *campaignService) ListByEmployer(ctx context.Context, employerID uuid.UUID) ([]model.Campaign, error) {
	return s.deps.Store.Campaigns().ListByEmployer(ctx, employerID)
}

func (s *campaignService) List(ctx context.Context, status model.CampaignStatus) ([]model.Campaign, error) {
	return s.deps.Store.Campaigns().ListByStatus(ctx, status)
}

func (s *campaignService) CloseExpired(ctx context.Context) (int, error) {
	expired, err := s.deps.Store.Campaigns().ListExpired(ctx, s.deps.now(), s.deps.Policy.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired campaigns: %w", err)
	}

	closed := 0
	for _, c := range expired {
		ok, err := s.closeExpired(ctx, c.ID)
		if err != nil {
			if errors.IsIntegrity(err) {
				continue
			}
			return closed, err
		}
		if ok {
			closed++
		}
	}
	return closed, nil
}

func (s *campaignService) closeExpired(ctx context.Context, id uuid.UUID) (bool, error) {
	unlock := s.deps.Locks.Lock(campaignLockKey(id))
	defer unlock()

	now := s.deps.now()
	var closed *model.Campaign
	err := s.deps.Store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		campaign, err := findCampaignForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if campaign.Status.Closed() || campaign.ExpiresAt.After(now) {
			return nil
		}
		if err := closeCampaignTx(ctx, tx, campaign, model.CampaignStatusCompleted, now); err != nil {
			return err
		}
		closed, err = tx.Campaigns().FindByID(ctx, id)
		return err
	})
	if err != nil {
		if errors.IsIntegrity(err) {
			escalate(ctx, s.deps, err, &id, nil, "closing expired campaign")
		}
		return false, err
	}
	if closed == nil {
		return false, nil
	}

	s.invalidateListing(ctx)
	s.deps.Logger.Info("expired campaign closed", zap.String("campaign_id", id.String()))
	s.notifyClosed(ctx, closed)
	return true, nil
}

func (s *campaignService) notifyClosed(ctx context.Context, campaign *model.Campaign) {
	s.deps.Notifier.Notify(ctx, notify.Event{
		Type:        notify.EventCampaignClosed,
		RecipientID: campaign.EmployerID,
		Payload: map[string]string{
			"campaign_id":     campaign.ID.String(),
			"status":          string(campaign.Status),
			"budget_refunded": campaign.BudgetRefunded.StringFixed(2),
		},
		OccurredAt: s.deps.now(),
	})
}
