package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskflow/internal/auth"
	"taskflow/internal/errors"
	"taskflow/internal/model"
	"taskflow/internal/repository"
)

// UserService handles account lookup and deletion.
type UserService interface {
	Get(ctx context.Context, id uuid.UUID) (*model.User, error)
	List(ctx context.Context, role model.Role) ([]model.User, error)
	// DeleteAccount tombstones the user after closing everything they still have open.
	DeleteAccount(ctx context.Context, actor auth.Principal, id uuid.UUID) error
}

type userService struct {
	deps        Dependencies
	campaigns   CampaignService
	submissions SubmissionService
}

// NewUserService creates a new user service.
func NewUserService(deps Dependencies, campaigns CampaignService, submissions SubmissionService) UserService {
	return &userService{
		deps:        deps.withDefaults(),
		campaigns:   campaigns,
		submissions: submissions,
	}
}

func (s *userService) Get(ctx context.Context, id uuid.UUID) (*model.User, error) {
	user, err := s.deps.Store.Users().FindByID(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, errors.ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *userService) List(ctx context.Context, role model.Role) ([]model.User, error) {
	if role != "" && !role.Valid() {
		return nil, errors.ErrInvalidRole
	}
	return s.deps.Store.Users().List(ctx, role)
}

func (s *userService) DeleteAccount(ctx context.Context, actor auth.Principal, id uuid.UUID) error {
	if actor.UserID != id && actor.Role != model.RoleAdmin {
		return errors.ErrForbidden
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	switch user.Role {
	case model.RoleEmployer:
		campaigns, err := s.deps.Store.Campaigns().ListOpenByEmployer(ctx, id)
		if err != nil {
			return fmt.Errorf("list open campaigns: %w", err)
		}
		for _, c := range campaigns {
			if _, err := s.campaigns.Cancel(ctx, auth.System, c.ID); err != nil && errors.KindOf(err) != errors.KindStateConflict {
				return fmt.Errorf("cancel campaign %s: %w", c.ID, err)
			}
		}
	case model.RoleWorker:
		open, err := s.deps.Store.Submissions().ListOpenByWorker(ctx, id)
		if err != nil {
			return fmt.Errorf("list open submissions: %w", err)
		}
		for _, sub := range open {
			if err := s.submissions.Expire(ctx, sub.ID); err != nil && errors.KindOf(err) != errors.KindStateConflict {
				return fmt.Errorf("expire submission %s: %w", sub.ID, err)
			}
		}
	}

	if err := s.deps.Store.Users().Delete(ctx, id); err != nil {
		if repository.IsNotFound(err) {
			return errors.ErrUserNotFound
		}
		return fmt.Errorf("delete user: %w", err)
	}

	s.deps.Logger.Info("account deleted",
		zap.String("user_id", id.String()),
		zap.String("role", string(user.Role)),
		zap.String("actor_id", actor.UserID.String()))
	return nil
}
