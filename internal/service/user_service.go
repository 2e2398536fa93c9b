package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/betmatch/betmatch/internal/domain"
)

// UserService resolves wallet identities into user rows. Users are upserted
// the first time an unseen wallet identity arrives, so there is no explicit
// registration step.
type UserService struct {
	users  domain.UserStore
	logger *slog.Logger
}

// NewUserService creates a UserService.
func NewUserService(users domain.UserStore, logger *slog.Logger) *UserService {
	return &UserService{
		users:  users,
		logger: logger.With(slog.String("component", "user_service")),
	}
}

// Resolve returns the user row for a wallet public key, creating it on first
// sight. The identity is taken as-is from the transport layer; this service
// performs no signature or ownership verification.
func (s *UserService) Resolve(ctx context.Context, wallet string) (domain.User, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return domain.User{}, fmt.Errorf("%w: wallet public key is required", domain.ErrValidation)
	}

	u, err := s.users.Upsert(ctx, wallet)
	if err != nil {
		return domain.User{}, fmt.Errorf("user_service: resolve %s: %w", wallet, err)
	}
	return u, nil
}

// Get returns an existing user without creating one.
func (s *UserService) Get(ctx context.Context, wallet string) (domain.User, error) {
	u, err := s.users.Get(ctx, wallet)
	if err != nil {
		return domain.User{}, fmt.Errorf("user_service: get %s: %w", wallet, err)
	}
	return u, nil
}
