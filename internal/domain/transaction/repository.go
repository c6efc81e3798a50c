package transaction

import "context"

// Repository defines ledger access for transactions. Every method is a
// single-record atomic operation.
type Repository interface {
	// GetByExternalID returns nil, nil when the provider id is unknown
	GetByExternalID(ctx context.Context, externalID string) (*Transaction, error)

	// Create inserts a transaction, failing with ErrDuplicateExternalID if
	// the external id is taken
	Create(ctx context.Context, params CreateParams) (*Transaction, error)

	// Update rewrites the mutable fields of an existing transaction
	Update(ctx context.Context, id int64, params UpdateParams) (*Transaction, error)

	// DeleteByExternalID removes the transaction if it belongs to one of the
	// user's accounts and reports whether a row was removed
	DeleteByExternalID(ctx context.Context, userID int64, externalID string) (bool, error)

	// ListByAccountID returns an account's transactions, newest first
	ListByAccountID(ctx context.Context, accountID int64) ([]*Transaction, error)
}
