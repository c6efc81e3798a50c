package openfinance

import (
	"context"
	"fmt"
	"strings"

	"spendwise/internal/domain/user"
	"spendwise/internal/infrastructure/plaid"
	"spendwise/internal/shared/logger"
)

// LinkService implements the inbound operations used by the HTTP layer.
type LinkService struct {
	client     plaid.ClientInterface
	users      user.Repository
	dispatcher Dispatcher
}

func NewLinkService(client plaid.ClientInterface, users user.Repository, dispatcher Dispatcher) *LinkService {
	return &LinkService{
		client:     client,
		users:      users,
		dispatcher: dispatcher,
	}
}

// StartLink returns a link token for the user's linking flow.
func (s *LinkService) StartLink(ctx context.Context, userID int64) (string, error) {
	if _, err := s.requireUser(ctx, userID); err != nil {
		return "", err
	}

	token, err := s.client.CreateLinkToken(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to create link token: %w", err)
	}
	return token, nil
}

// CompleteLink exchanges the public token and stores the resulting credential.
// The cursor is cleared so the next sync starts from the beginning.
func (s *LinkService) CompleteLink(ctx context.Context, publicToken string, userID int64) error {
	if strings.TrimSpace(publicToken) == "" {
		return fmt.Errorf("%w: public token is required", ErrInvalidInput)
	}
	if _, err := s.requireUser(ctx, userID); err != nil {
		return err
	}

	credential, err := s.client.ExchangePublicToken(ctx, publicToken)
	if err != nil {
		return fmt.Errorf("failed to exchange public token: %w", err)
	}
	if err := s.users.LinkCredential(ctx, userID, credential); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	logger.Ctx(ctx).Info("provider link completed", "user_id", userID)
	return nil
}

// TriggerSync enqueues a sync job for a linked user.
func (s *LinkService) TriggerSync(ctx context.Context, userID int64) (Job, error) {
	u, err := s.requireUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.IsLinked() {
		return nil, ErrNotLinked
	}

	job, err := s.dispatcher.DispatchSync(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue sync: %w", err)
	}
	return job, nil
}

// IsLinked reports whether the user holds a provider credential.
func (s *LinkService) IsLinked(ctx context.Context, userID int64) (bool, error) {
	u, err := s.requireUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return u.IsLinked(), nil
}

func (s *LinkService) requireUser(ctx context.Context, userID int64) (*user.User, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id must be positive", ErrInvalidInput)
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}
