package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"taskflow/internal/errors"
	"taskflow/internal/metrics"
	"taskflow/internal/model"
	"taskflow/internal/notify"
	"taskflow/internal/repository"
)

// Summary breaks a user's ledger down for display and withdrawal checks.
type Summary struct {
	Balance            decimal.Decimal `json:"balance"`
	PendingCredits     decimal.Decimal `json:"pending_credits"`
	PendingWithdrawals decimal.Decimal `json:"pending_withdrawals"`
	Withdrawable       decimal.Decimal `json:"withdrawable"`
}

// LedgerService handles balance-affecting events.
type LedgerService interface {
	Credit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, kind model.EntryKind, relatedSubmissionID *uuid.UUID) (*model.LedgerEntry, error)
	// Deposit books funds an employer paid in. A non-empty reference makes the call idempotent.
	Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, reference string) (*model.LedgerEntry, error)
	Settle(ctx context.Context, entryID uuid.UUID) (*model.LedgerEntry, error)
	Fail(ctx context.Context, entryID uuid.UUID, reason string) (*model.LedgerEntry, error)
	RequestWithdrawal(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*model.LedgerEntry, error)
	Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	Summary(ctx context.Context, userID uuid.UUID) (*Summary, error)
	History(ctx context.Context, userID uuid.UUID) ([]model.LedgerEntry, error)
	ListPending(ctx context.Context, kind model.EntryKind) ([]model.LedgerEntry, error)
	// SettleMatured settles pending earnings and refunds older than the hold period.
	SettleMatured(ctx context.Context) (int, error)
}

type ledgerService struct {
	deps Dependencies
}

// NewLedgerService creates a new ledger service.
func NewLedgerService(deps Dependencies) LedgerService {
	return &ledgerService{deps: deps.withDefaults()}
}

// idempotencyKey builds the unique key that stops an event from being booked twice.
func idempotencyKey(kind, scope string, id uuid.UUID) *string {
	key := fmt.Sprintf("%s:%s:%s", kind, scope, id)
	return &key
}

const maxDepositReference = 64

func isCents(amount decimal.Decimal) bool {
	return amount.Equal(amount.Round(2))
}

func (s *ledgerService) Credit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, kind model.EntryKind, relatedSubmissionID *uuid.UUID) (*model.LedgerEntry, error) {
	if !amount.IsPositive() || !isCents(amount) {
		return nil, errors.ErrInvalidAmount
	}
	if kind != model.EntryKindEarning && kind != model.EntryKindRefund {
		return nil, errors.ErrInvalidEntryKind
	}

	entry := &model.LedgerEntry{
		UserID:              userID,
		Amount:              amount,
		Kind:                kind,
		RelatedSubmissionID: relatedSubmissionID,
	}
	if relatedSubmissionID != nil {
		entry.IdempotencyKey = idempotencyKey(string(kind), "submission", *relatedSubmissionID)
	}

	err := s.deps.Store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		return appendEntry(ctx, tx, entry, s.deps.now())
	})
	if err != nil {
		if errors.IsIntegrity(err) {
			escalate(ctx, s.deps, err, nil, relatedSubmissionID, fmt.Sprintf("duplicate %s credit for user %s", kind, userID))
		}
		return nil, err
	}
	return entry, nil
}

func (s *ledgerService) Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, reference string) (*model.LedgerEntry, error) {
	if !amount.IsPositive() || !isCents(amount) {
		return nil, errors.ErrInvalidAmount
	}
	if len(reference) > maxDepositReference {
		return nil, errors.ErrInvalidReference
	}

	now := s.deps.now()
	entry := &model.LedgerEntry{
		UserID:      userID,
		Amount:      amount,
		Kind:        model.EntryKindDeposit,
		Status:      model.EntryStatusCompleted,
		Description: "deposit",
		SettledAt:   &now,
	}
	if reference != "" {
		key := fmt.Sprintf("%s:reference:%s", model.EntryKindDeposit, reference)
		entry.IdempotencyKey = &key
	}

	unlock := s.deps.Locks.Lock(userLockKey(userID))
	defer unlock()

	err := s.deps.Store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		user, err := tx.Users().FindByIDForUpdate(ctx, userID)
		if err != nil {
			if repository.IsNotFound(err) {
				return errors.ErrUserNotFound
			}
			return err
		}
		if user.Role != model.RoleEmployer {
			return errors.ErrInvalidRole
		}
		return appendEntry(ctx, tx, entry, now)
	})
	if err != nil {
		return nil, err
	}

	s.deps.Logger.Info("deposit booked",
		zap.String("user_id", userID.String()),
		zap.String("amount", amount.StringFixed(2)))
	return entry, nil
}

// appendEntry appends a pending entry inside tx. An entry with an idempotency key
// that was already used fails with ErrDuplicateEntry.
func appendEntry(ctx context.Context, tx repository.Store, entry *model.LedgerEntry, now time.Time) error {
	if entry.IdempotencyKey != nil {
		_, err := tx.Ledger().FindByIdempotencyKey(ctx, *entry.IdempotencyKey)
		if err == nil {
			return errors.ErrDuplicateEntry
		}
		if !repository.IsNotFound(err) {
			return fmt.Errorf("check ledger idempotency: %w", err)
		}
	}

	if entry.Status == "" {
		entry.Status = model.EntryStatusPending
	}
	entry.CreatedAt = now
	if err := tx.Ledger().Create(ctx, entry); err != nil {
		if repository.IsDuplicateKey(err) {
			return errors.ErrDuplicateEntry
		}
		return fmt.Errorf("append ledger entry: %w", err)
	}
	metrics.LedgerEntries.WithLabelValues(string(entry.Kind)).Inc()
	return nil
}

func (s *ledgerService) Settle(ctx context.Context, entryID uuid.UUID) (*model.LedgerEntry, error) {
	now := s.deps.now()
	return s.finish(ctx, entryID, model.EntryStatusCompleted, map[string]interface{}{"settled_at": now})
}

func (s *ledgerService) Fail(ctx context.Context, entryID uuid.UUID, reason string) (*model.LedgerEntry, error) {
	if reason == "" {
		reason = "payout failed"
	}
	return s.finish(ctx, entryID, model.EntryStatusFailed, map[string]interface{}{"failure_reason": reason})
}

// finish moves a pending entry to a final status. Final statuses are irreversible.
func (s *ledgerService) finish(ctx context.Context, entryID uuid.UUID, to model.EntryStatus, fields map[string]interface{}) (*model.LedgerEntry, error) {
	var entry *model.LedgerEntry
	err := s.deps.Store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		current, err := tx.Ledger().FindByID(ctx, entryID)
		if err != nil {
			if repository.IsNotFound(err) {
				return errors.ErrEntryNotFound
			}
			return err
		}
		if current.Status != model.EntryStatusPending {
			return errors.ErrInvalidTransition
		}

		ok, err := tx.Ledger().UpdateStatus(ctx, entryID, model.EntryStatusPending, to, fields)
		if err != nil {
			return fmt.Errorf("update entry status: %w", err)
		}
		if !ok {
			return errors.ErrInvalidTransition
		}
		entry, err = tx.Ledger().FindByID(ctx, entryID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.deps.Logger.Info("ledger entry finished",
		zap.String("entry_id", entry.ID.String()),
		zap.String("kind", string(entry.Kind)),
		zap.String("status", string(entry.Status)))

	if entry.Kind == model.EntryKindWithdrawal {
		eventType := notify.EventWithdrawalSettled
		if to == model.EntryStatusFailed {
			eventType = notify.EventWithdrawalFailed
		}
		s.deps.Notifier.Notify(ctx, notify.Event{
			Type:        eventType,
			RecipientID: entry.UserID,
			Payload: map[string]string{
				"entry_id": entry.ID.String(),
				"amount":   entry.Amount.Neg().StringFixed(2),
			},
			OccurredAt: s.deps.now(),
		})
	}
	return entry, nil
}

func (s *ledgerService) RequestWithdrawal(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*model.LedgerEntry, error) {
	if !amount.IsPositive() || !isCents(amount) || amount.LessThan(s.deps.Policy.MinWithdrawal) {
		return nil, errors.ErrInvalidAmount
	}

	unlock := s.deps.Locks.Lock(userLockKey(userID))
	defer unlock()

	entry := &model.LedgerEntry{
		UserID:      userID,
		Amount:      amount.Neg(),
		Kind:        model.EntryKindWithdrawal,
		Description: "withdrawal request",
	}
	err := s.deps.Store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		if _, err := tx.Users().FindByIDForUpdate(ctx, userID); err != nil {
			if repository.IsNotFound(err) {
				return errors.ErrUserNotFound
			}
			return err
		}

		entries, err := tx.Ledger().ListByUser(ctx, userID, model.EntryStatusCompleted, model.EntryStatusPending)
		if err != nil {
			return fmt.Errorf("load ledger: %w", err)
		}
		if amount.GreaterThan(summarize(entries).Withdrawable) {
			return errors.ErrInsufficientBalance
		}
		return appendEntry(ctx, tx, entry, s.deps.now())
	})
	if err != nil {
		return nil, err
	}

	s.deps.Logger.Info("withdrawal requested",
		zap.String("user_id", userID.String()),
		zap.String("amount", amount.StringFixed(2)))
	return entry, nil
}

func (s *ledgerService) Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	entries, err := s.deps.Store.Ledger().ListByUser(ctx, userID, model.EntryStatusCompleted)
	if err != nil {
		return decimal.Zero, err
	}
	return summarize(entries).Balance, nil
}

func (s *ledgerService) Summary(ctx context.Context, userID uuid.UUID) (*Summary, error) {
	entries, err := s.deps.Store.Ledger().ListByUser(ctx, userID, model.EntryStatusCompleted, model.EntryStatusPending)
	if err != nil {
		return nil, err
	}
	summary := summarize(entries)
	return &summary, nil
}

// summarize folds entries into a Summary. Balance counts completed entries only;
// pending withdrawals are already reserved against it.
func summarize(entries []model.LedgerEntry) Summary {
	sum := Summary{
		Balance:            decimal.Zero,
		PendingCredits:     decimal.Zero,
		PendingWithdrawals: decimal.Zero,
	}
	for _, e := range entries {
		switch e.Status {
		case model.EntryStatusCompleted:
			sum.Balance = sum.Balance.Add(e.Amount)
		case model.EntryStatusPending:
			if e.Kind == model.EntryKindWithdrawal {
				sum.PendingWithdrawals = sum.PendingWithdrawals.Add(e.Amount.Abs())
			} else {
				sum.PendingCredits = sum.PendingCredits.Add(e.Amount)
			}
		}
	}
	sum.Withdrawable = sum.Balance.Sub(sum.PendingWithdrawals)
	if sum.Withdrawable.IsNegative() {
		sum.Withdrawable = decimal.Zero
	}
	return sum
}

func (s *ledgerService) History(ctx context.Context, userID uuid.UUID) ([]model.LedgerEntry, error) {
	return s.deps.Store.Ledger().ListByUser(ctx, userID)
}

func (s *ledgerService) ListPending(ctx context.Context, kind model.EntryKind) ([]model.LedgerEntry, error) {
	return s.deps.Store.Ledger().ListPending(ctx, kind)
}

func (s *ledgerService) SettleMatured(ctx context.Context) (int, error) {
	cutoff := s.deps.now().Add(-s.deps.Policy.EarningHold)
	entries, err := s.deps.Store.Ledger().ListMaturedCredits(ctx, cutoff, s.deps.Policy.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list matured credits: %w", err)
	}

	settled := 0
	for _, e := range entries {
		if _, err := s.Settle(ctx, e.ID); err != nil {
			if errors.KindOf(err) == errors.KindStateConflict {
				continue
			}
			return settled, err
		}
		settled++
	}
	return settled, nil
}
