package user

import "context"

// Repository is the persistence contract for users and their provider link
// state. Each method is a single atomic write.
type Repository interface {
	// Create inserts a new, unlinked user
	Create(ctx context.Context, params CreateParams) (*User, error)

	// GetByID returns nil, nil when the user does not exist
	GetByID(ctx context.Context, id int64) (*User, error)

	// ListLinked returns every user with a non-null credential
	ListLinked(ctx context.Context) ([]*User, error)

	// LinkCredential stores a freshly exchanged credential and clears the cursor
	LinkCredential(ctx context.Context, id int64, accessToken string) error

	// RotateCredential replaces the credential and leaves the cursor untouched
	RotateCredential(ctx context.Context, id int64, accessToken string) error

	// UpdateSyncState writes credential and cursor together in one statement
	UpdateSyncState(ctx context.Context, id int64, accessToken, cursor string) error
}
