package service

import (
	"context"
	"errors"
	"time"

	"github.com/dkurbatov/freightgate/internal/logging"
	"github.com/dkurbatov/freightgate/internal/models"
	"github.com/dkurbatov/freightgate/internal/repository"
	"github.com/dkurbatov/freightgate/internal/webapp"
)

// ErrUserNotFound is returned by lookups for unknown account ids.
var ErrUserNotFound = errors.New("user not found")

type UserService struct {
	repo   *repository.UserRepository
	logger logging.Logger
}

func NewUserService(repo *repository.UserRepository, logger logging.Logger) *UserService {
	return &UserService{repo: repo, logger: logger}
}

// EnsureUser resolves the account for a verified identity, creating it on
// first login and refreshing the stored profile fields on subsequent ones.
func (s *UserService) EnsureUser(ctx context.Context, identity *webapp.Identity) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, identity.SubjectID)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	if user == nil {
		user = &models.User{
			ID:          identity.SubjectID,
			DisplayName: identity.DisplayName,
			Handle:      identity.Handle,
			LastSeenAt:  now,
		}
		if err := s.repo.Create(ctx, user); err != nil {
			return nil, err
		}

		s.logger.Info("created user", logging.Int64("user_id", user.ID))
		return user, nil
	}

	updates := map[string]interface{}{"last_seen_at": now}
	if user.DisplayName != identity.DisplayName {
		updates["display_name"] = identity.DisplayName
	}
	if user.Handle != identity.Handle {
		updates["handle"] = identity.Handle
	}

	if err := s.repo.Update(ctx, user.ID, updates); err != nil {
		// Profile refresh is best effort; the login still proceeds
		s.logger.Warn("failed to refresh user profile",
			logging.Int64("user_id", user.ID),
			logging.Error(err),
		)
	}

	user.DisplayName = identity.DisplayName
	user.Handle = identity.Handle
	user.LastSeenAt = now

	return user, nil
}

// Get returns the user for a numeric account id.
func (s *UserService) Get(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	return user, nil
}

// DisplayName returns the display name for an account id.
func (s *UserService) DisplayName(ctx context.Context, id int64) (string, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}

	return user.DisplayName, nil
}
