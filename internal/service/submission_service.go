package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"taskflow/internal/auth"
	"taskflow/internal/errors"
	"taskflow/internal/metrics"
	"taskflow/internal/model"
	"taskflow/internal/notify"
	"taskflow/internal/repository"
)

// Decision is a reviewer's verdict on submitted proof.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// SubmissionService drives submissions through claimed, submitted and resolved.
type SubmissionService interface {
	Get(ctx context.Context, actor auth.Principal, id uuid.UUID) (*model.Submission, error)
	ListForWorker(ctx context.Context, workerID uuid.UUID) ([]model.Submission, error)
	ListForCampaign(ctx context.Context, actor auth.Principal, campaignID uuid.UUID) ([]model.Submission, error)
	SubmitProof(ctx context.Context, workerID, id uuid.UUID, proof string) (*model.Submission, error)
	Resolve(ctx context.Context, actor auth.Principal, id uuid.UUID, decision Decision, note string) (*model.Submission, error)
	// Expire ends an open submission regardless of its deadline and releases its slot.
	Expire(ctx context.Context, id uuid.UUID) error
	// ExpireOverdue expires claims whose deadline passed without proof.
	ExpireOverdue(ctx context.Context) (int, error)
	// AutoApproveDue approves submissions on auto-approving campaigns left unreviewed too long.
	AutoApproveDue(ctx context.Context) (int, error)
}

type submissionService struct {
	deps Dependencies
}

// NewSubmissionService creates a new submission service.
func NewSubmissionService(deps Dependencies) SubmissionService {
	return &submissionService{deps: deps.withDefaults()}
}

func findSubmission(ctx context.Context, repo repository.SubmissionRepository, id uuid.UUID) (*model.Submission, error) {
	submission, err := repo.FindByID(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, errors.ErrSubmissionNotFound
		}
		return nil, err
	}
	return submission, nil
}

func (s *submissionService) Get(ctx context.Context, actor auth.Principal, id uuid.UUID) (*model.Submission, error) {
	submission, err := findSubmission(ctx, s.deps.Store.Submissions(), id)
	if err != nil {
		return nil, err
	}
	if actor.Role == model.RoleAdmin || submission.WorkerID == actor.UserID {
		return submission, nil
	}
	campaign, err := s.deps.Store.Campaigns().FindByID(ctx, submission.CampaignID)
	if err != nil {
		return nil, err
	}
	if campaign.EmployerID != actor.UserID {
		return nil, errors.ErrForbidden
	}
	return submission, nil
}

func (s *submissionService) ListForWorker(ctx context.Context, workerID uuid.UUID) ([]model.Submission, error) {
	return s.deps.Store.Submissions().ListByWorker(ctx, workerID)
}

func (s *submissionService) ListForCampaign(ctx context.Context, actor auth.Principal, campaignID uuid.UUID) ([]model.Submission, error) {
	campaign, err := s.deps.Store.Campaigns().FindByID(ctx, campaignID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, errors.ErrCampaignNotFound
		}
		return nil, err
	}
	if !canManage(actor, campaign) {
		return nil, errors.ErrForbidden
	}
	return s.deps.Store.Submissions().ListByCampaign(ctx, campaignID)
}

func (s *submissionService) SubmitProof(ctx context.Context, workerID, id uuid.UUID, proof string) (*model.Submission, error) {
	proof = strings.TrimSpace(proof)
	if proof == "" {
		return nil, errors.ErrInvalidProof
	}

	submission, err := findSubmission(ctx, s.deps.Store.Submissions(), id)
	if err != nil {
		return nil, err
	}
	if submission.WorkerID != workerID {
		return nil, errors.ErrForbidden
	}

	unlock := s.deps.Locks.Lock(campaignLockKey(submission.CampaignID))
	defer unlock()

	now := s.deps.now()
	expired := false
	var employerID uuid.UUID
	err = s.deps.Store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		current, err := findSubmission(ctx, tx.Submissions(), id)
		if err != nil {
			return err
		}
		if current.State != model.SubmissionStateClaimed {
			return errors.ErrInvalidState
		}

		// A late proof ends the claim instead of being accepted.
		if now.After(current.Deadline) {
			expired = true
			return expireTx(ctx, tx, current, now)
		}

		ok, err := tx.Submissions().Transition(ctx, id, model.SubmissionStateClaimed, current.Version, map[string]interface{}{
			"state":        model.SubmissionStateSubmitted,
			"proof":        proof,
			"submitted_at": now,
		})
		if err != nil {
			return fmt.Errorf("submit proof: %w", err)
		}
		if !ok {
			return errors.ErrInvalidState
		}

		campaign, err := tx.Campaigns().FindByID(ctx, current.CampaignID)
		if err != nil {
			return err
		}
		employerID = campaign.EmployerID
		submission, err = tx.Submissions().FindByID(ctx, id)
		return err
	})
	if err != nil {
		if errors.IsIntegrity(err) {
			escalate(ctx, s.deps, err, &submission.CampaignID, &id, "releasing slot of late proof")
		}
		return nil, err
	}

	if expired {
		s.afterExpired(ctx, submission, "deadline")
		return nil, errors.ErrDeadlineExpired
	}

	s.deps.Logger.Info("proof submitted",
		zap.String("submission_id", id.String()),
		zap.String("worker_id", workerID.String()))
	s.deps.Notifier.Notify(ctx, notify.Event{
		Type:        notify.EventSubmissionSubmitted,
		RecipientID: employerID,
		Payload: map[string]string{
			"submission_id": id.String(),
			"campaign_id":   submission.CampaignID.String(),
		},
		OccurredAt: now,
	})
	return submission, nil
}

func (s *submissionService) Resolve(ctx context.Context, actor auth.Principal, id uuid.UUID, decision Decision, note string) (*model.Submission, error) {
	if decision != DecisionApprove && decision != DecisionReject {
		return nil, errors.ErrInvalidDecision
	}

	submission, err := findSubmission(ctx, s.deps.Store.Submissions(), id)
	if err != nil {
		return nil, err
	}

	unlock := s.deps.Locks.Lock(campaignLockKey(submission.CampaignID))
	defer unlock()

	now := s.deps.now()
	var resolved *model.Submission
	var payment decimal.Decimal
	err = s.deps.Store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		current, err := findSubmission(ctx, tx.Submissions(), id)
		if err != nil {
			return err
		}
		campaign, err := findCampaignForUpdate(ctx, tx, current.CampaignID)
		if err != nil {
			return err
		}
		if !canManage(actor, campaign) {
			return errors.ErrForbidden
		}
		if current.State != model.SubmissionStateSubmitted {
			return errors.ErrInvalidState
		}

		fields := map[string]interface{}{
			"review_note": strings.TrimSpace(note),
			"resolved_at": now,
		}
		if !actor.IsSystem() {
			fields["reviewer_id"] = actor.UserID
		}

		if decision == DecisionApprove {
			fields["state"] = model.SubmissionStateApproved
			if err := approveTx(ctx, tx, current, campaign, fields, now); err != nil {
				return err
			}
			payment = campaign.PaymentPerSlot
		} else {
			fields["state"] = model.SubmissionStateRejected
			if err := transitionTx(ctx, tx, current, fields); err != nil {
				return err
			}
			if err := releaseSlotTx(ctx, tx, current, now); err != nil {
				return err
			}
		}

		resolved, err = tx.Submissions().FindByID(ctx, id)
		return err
	})
	if err != nil {
		if errors.IsIntegrity(err) {
			escalate(ctx, s.deps, err, &submission.CampaignID, &id, fmt.Sprintf("resolving submission as %s", decision))
		}
		return nil, err
	}

	metrics.Resolutions.WithLabelValues(string(decision)).Inc()
	if decision == DecisionReject {
		metrics.SlotReleases.WithLabelValues("rejected").Inc()
	}
	s.deps.Logger.Info("submission resolved",
		zap.String("submission_id", id.String()),
		zap.String("decision", string(decision)),
		zap.String("reviewer_id", actor.UserID.String()))

	payload := map[string]string{
		"submission_id": id.String(),
		"campaign_id":   resolved.CampaignID.String(),
		"decision":      string(decision),
	}
	if decision == DecisionApprove {
		payload["amount"] = payment.StringFixed(2)
	}
	s.deps.Notifier.Notify(ctx, notify.Event{
		Type:        notify.EventSubmissionResolved,
		RecipientID: resolved.WorkerID,
		Payload:     payload,
		OccurredAt:  now,
	})
	return resolved, nil
}

// transitionTx applies fields to submission if nobody changed it since it was read.
func transitionTx(ctx context.Context, tx repository.Store, submission *model.Submission, fields map[string]interface{}) error {
	ok, err := tx.Submissions().Transition(ctx, submission.ID, submission.State, submission.Version, fields)
	if err != nil {
		return fmt.Errorf("transition submission: %w", err)
	}
	if !ok {
		return errors.ErrInvalidState
	}
	return nil
}

// approveTx debits the campaign budget and books the worker's earning. A
// campaign whose budget is fully spent or refunded is completed.
func approveTx(ctx context.Context, tx repository.Store, submission *model.Submission, campaign *model.Campaign, fields map[string]interface{}, now time.Time) error {
	if err := transitionTx(ctx, tx, submission, fields); err != nil {
		return err
	}

	spent := campaign.BudgetSpent.Add(campaign.PaymentPerSlot)
	committed := spent.Add(campaign.BudgetRefunded)
	if committed.GreaterThan(campaign.BudgetTotal) {
		return errors.ErrBudgetExceeded
	}

	update := map[string]interface{}{"budget_spent": spent}
	if committed.Equal(campaign.BudgetTotal) && !campaign.Status.Closed() {
		update["status"] = model.CampaignStatusCompleted
		update["slots_remaining"] = 0
		update["closed_at"] = now
	}
	ok, err := tx.Campaigns().UpdateVersioned(ctx, campaign.ID, campaign.Version, update)
	if err != nil {
		return fmt.Errorf("debit campaign budget: %w", err)
	}
	if !ok {
		return errors.ErrConcurrentUpdate
	}

	campaignID := campaign.ID
	submissionID := submission.ID
	return appendEntry(ctx, tx, &model.LedgerEntry{
		UserID:              submission.WorkerID,
		Amount:              campaign.PaymentPerSlot,
		Kind:                model.EntryKindEarning,
		RelatedSubmissionID: &submissionID,
		RelatedCampaignID:   &campaignID,
		IdempotencyKey:      idempotencyKey(string(model.EntryKindEarning), "submission", submissionID),
		Description:         campaign.Title,
	}, now)
}

// expireTx moves an open submission to expired and releases its slot.
func expireTx(ctx context.Context, tx repository.Store, submission *model.Submission, now time.Time) error {
	if err := transitionTx(ctx, tx, submission, map[string]interface{}{
		"state":       model.SubmissionStateExpired,
		"resolved_at": now,
	}); err != nil {
		return err
	}
	return releaseSlotTx(ctx, tx, submission, now)
}

func (s *submissionService) Expire(ctx context.Context, id uuid.UUID) error {
	_, err := s.expire(ctx, id, false)
	return err
}

// expire ends submission id. With onlyOverdue set, only claims past their
// deadline are touched and anything else is left alone.
func (s *submissionService) expire(ctx context.Context, id uuid.UUID, onlyOverdue bool) (*model.Submission, error) {
	submission, err := findSubmission(ctx, s.deps.Store.Submissions(), id)
	if err != nil {
		return nil, err
	}

	unlock := s.deps.Locks.Lock(campaignLockKey(submission.CampaignID))
	defer unlock()

	now := s.deps.now()
	var expired *model.Submission
	err = s.deps.Store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		current, err := findSubmission(ctx, tx.Submissions(), id)
		if err != nil {
			return err
		}
		if current.State.Terminal() {
			return errors.ErrInvalidState
		}
		if onlyOverdue && (current.State != model.SubmissionStateClaimed || !now.After(current.Deadline)) {
			return errors.ErrInvalidState
		}
		if err := expireTx(ctx, tx, current, now); err != nil {
			return err
		}
		expired = current
		return nil
	})
	if err != nil {
		if errors.IsIntegrity(err) {
			escalate(ctx, s.deps, err, &submission.CampaignID, &id, "releasing slot of expired submission")
		}
		return nil, err
	}

	reason := "deleted"
	if onlyOverdue {
		reason = "deadline"
	}
	s.afterExpired(ctx, expired, reason)
	return expired, nil
}

func (s *submissionService) afterExpired(ctx context.Context, submission *model.Submission, reason string) {
	metrics.SlotReleases.WithLabelValues("expired").Inc()
	s.deps.Logger.Info("submission expired",
		zap.String("submission_id", submission.ID.String()),
		zap.String("campaign_id", submission.CampaignID.String()),
		zap.String("reason", reason))
	s.deps.Notifier.Notify(ctx, notify.Event{
		Type:        notify.EventSubmissionExpired,
		RecipientID: submission.WorkerID,
		Payload: map[string]string{
			"submission_id": submission.ID.String(),
			"campaign_id":   submission.CampaignID.String(),
			"reason":        reason,
		},
		OccurredAt: s.deps.now(),
	})
	_ = s.deps.Cache.Delete(ctx, activeListingCacheKey)
}

func (s *submissionService) ExpireOverdue(ctx context.Context) (int, error) {
	overdue, err := s.deps.Store.Submissions().ListOverdueClaims(ctx, s.deps.now(), s.deps.Policy.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list overdue claims: %w", err)
	}

	count := 0
	for _, sub := range overdue {
		if _, err := s.expire(ctx, sub.ID, true); err != nil {
			// A worker action won the race, or the release was escalated.
			if stderrors.Is(err, errors.ErrInvalidState) || errors.IsIntegrity(err) {
				continue
			}
			return count, err
		}
		count++
	}
	return count, nil
}

func (s *submissionService) AutoApproveDue(ctx context.Context) (int, error) {
	cutoff := s.deps.now().Add(-s.deps.Policy.AutoApproveAfter)
	due, err := s.deps.Store.Submissions().ListAutoApproveDue(ctx, cutoff, s.deps.Policy.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list auto-approve candidates: %w", err)
	}

	count := 0
	for _, sub := range due {
		if _, err := s.Resolve(ctx, auth.System, sub.ID, DecisionApprove, "auto-approved"); err != nil {
			if errors.KindOf(err) == errors.KindStateConflict || errors.IsIntegrity(err) {
				continue
			}
			return count, err
		}
		count++
	}
	return count, nil
}
