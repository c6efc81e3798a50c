package account

import (
	"context"
	"fmt"
)

// Service contains the business logic for account operations
type Service struct {
	repo Repository
}

// NewService creates a new account service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Upsert creates the account if the user does not yet own one with the same
// external id, otherwise refreshes whatever changed in the snapshot.
func (s *Service) Upsert(ctx context.Context, params CreateParams) (*Account, Outcome, error) {
	if err := params.Validate(); err != nil {
		return nil, Unchanged, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	existing, err := s.repo.GetByExternalID(ctx, params.UserID, params.ExternalID)
	if err != nil {
		return nil, Unchanged, fmt.Errorf("failed to look up account: %w", err)
	}

	if existing == nil {
		created, err := s.repo.Create(ctx, params)
		if err != nil {
			return nil, Unchanged, fmt.Errorf("failed to create account: %w", err)
		}
		return created, Created, nil
	}

	update, changed := diff(existing, params)
	if !changed {
		return existing, Unchanged, nil
	}

	updated, err := s.repo.Update(ctx, existing.ID, update)
	if err != nil {
		return nil, Unchanged, fmt.Errorf("failed to update account: %w", err)
	}
	return updated, Updated, nil
}

// Resolve maps a provider account id to the local account for a user.
func (s *Service) Resolve(ctx context.Context, userID int64, externalID string) (*Account, error) {
	acc, err := s.repo.GetByExternalID(ctx, userID, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve account: %w", err)
	}
	if acc == nil {
		return nil, ErrAccountNotFound
	}
	return acc, nil
}

func diff(existing *Account, params CreateParams) (UpdateParams, bool) {
	var u UpdateParams
	changed := false
	if existing.Name != params.Name {
		u.Name = &params.Name
		changed = true
	}
	if params.Type != "" && existing.Type != params.Type {
		u.Type = &params.Type
		changed = true
	}
	if params.Subtype != "" && existing.Subtype != params.Subtype {
		u.Subtype = &params.Subtype
		changed = true
	}
	if params.Mask != "" && existing.Mask != params.Mask {
		u.Mask = &params.Mask
		changed = true
	}
	return u, changed
}
