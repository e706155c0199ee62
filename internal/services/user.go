package services

import (
	"context"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/CrusoO/Rag-knowledge-system/internal/model"
	"github.com/CrusoO/Rag-knowledge-system/internal/store"
)

const (
	maxDisplayNameRunes = 80
	minPasswordLen      = 8
)

// UserService handles profile and credential operations.
type UserService struct {
	store store.Store
}

func NewUserService(s store.Store) *UserService { return &UserService{store: s} }

func (s *UserService) GetUser(ctx context.Context, userID string) (*model.User, error) {
	return s.store.Users().Get(ctx, userID)
}

func (s *UserService) UpdateProfile(ctx context.Context, userID string, displayName *string, timeZone string) (*model.User, error) {
	if displayName != nil && utf8.RuneCountInString(*displayName) > maxDisplayNameRunes {
		return nil, errors.Wrapf(model.ErrValidation, "display name exceeds %d characters", maxDisplayNameRunes)
	}
	return s.store.Users().UpdateProfile(ctx, userID, displayName, timeZone)
}

// UpdatePassword verifies the current password before storing a new bcrypt
// hash. A mismatch is reported as forbidden, not as a validation error, so
// the caller cannot distinguish it from other authorization failures.
func (s *UserService) UpdatePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if len(newPassword) < minPasswordLen {
		return errors.Wrapf(model.ErrValidation, "password must be at least %d characters", minPasswordLen)
	}
	u, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(currentPassword)); err != nil {
		return model.ErrForbidden
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "hash password")
	}
	return s.store.Users().UpdatePassword(ctx, userID, string(hash))
}
