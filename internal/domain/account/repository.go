package account

import "context"

// Repository defines the interface for account data access
// This interface is defined in the domain layer, but implemented in the infrastructure layer
type Repository interface {
	// Create creates a new account
	Create(ctx context.Context, params CreateParams) (*Account, error)

	// GetByExternalID looks up the account a user owns under a provider id.
	// Returns nil, nil when absent.
	GetByExternalID(ctx context.Context, userID int64, externalID string) (*Account, error)

	// Update applies the non-nil fields of params
	Update(ctx context.Context, id int64, params UpdateParams) (*Account, error)

	// ListByUserID retrieves all accounts for a specific user
	ListByUserID(ctx context.Context, userID int64) ([]*Account, error)
}
