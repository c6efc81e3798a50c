package openfinance

import (
	"errors"
	"fmt"

	"spendwise/internal/domain/transaction"
	"spendwise/internal/domain/user"
	"spendwise/internal/infrastructure/plaid"
)

var (
	ErrNotLinked           = errors.New("user has no linked provider credential")
	ErrInvalidCredential   = plaid.ErrInvalidCredential
	ErrProviderTimeout     = plaid.ErrProviderTimeout
	ErrProviderError       = plaid.ErrProvider
	ErrSyncIncomplete      = errors.New("transaction sync did not terminate within the page limit")
	ErrAccountNotResolved  = errors.New("transaction references an account that is not in the ledger")
	ErrDuplicateExternalID = transaction.ErrDuplicateExternalID
	ErrSyncInProgress      = errors.New("a sync is already running for this user")
	ErrUserNotFound        = user.ErrUserNotFound
	ErrInvalidInput        = errors.New("invalid input")
)

// IsClientError reports whether err stems from the caller's request rather
// than from this service or the provider.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotLinked) ||
		errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrInvalidInput)
}

// RecordError is a per-transaction failure that was skipped rather than
// escalated.
type RecordError struct {
	TransactionID string
	AccountID     string
	Err           error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("transaction %s (account %s): %v", e.TransactionID, e.AccountID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}
