package plaid

import "context"

// ClientInterface defines the provider operations the sync pipeline needs.
type ClientInterface interface {
	// CreateLinkToken starts a link session for the given user.
	CreateLinkToken(ctx context.Context, userID int64) (string, error)

	// ExchangePublicToken converts a link artifact into a long-lived access token.
	ExchangePublicToken(ctx context.Context, publicToken string) (string, error)

	// RotateAccessToken invalidates accessToken and returns its replacement.
	RotateAccessToken(ctx context.Context, accessToken string) (string, error)

	// GetAccounts returns the current account snapshot for an item.
	GetAccounts(ctx context.Context, accessToken string) ([]Account, error)

	// SyncTransactions fetches one page of the incremental diff feed.
	// An empty cursor starts from the beginning of the item's history.
	SyncTransactions(ctx context.Context, accessToken, cursor string) (*TransactionSyncPage, error)
}
