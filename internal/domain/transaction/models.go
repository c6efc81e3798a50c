package transaction

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrDuplicateExternalID is returned by Create when the provider id is
	// already stored. Reconciliation checks first, so seeing it means a
	// concurrent writer got there between the check and the insert.
	ErrDuplicateExternalID = errors.New("duplicate external transaction id")
	ErrInvalidInput        = errors.New("invalid input")
)

// Transaction is a ledger entry keyed globally by the provider's transaction id.
type Transaction struct {
	ID           int64           `json:"id"`
	AccountID    int64           `json:"accountId"`
	ExternalID   string          `json:"externalId"`
	Date         time.Time       `json:"date"`
	Description  string          `json:"description"`
	Amount       decimal.Decimal `json:"amount"`
	Category     string          `json:"category"`
	Pending      bool            `json:"pending"`
	MerchantName *string         `json:"merchantName,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

type CreateParams struct {
	AccountID    int64
	ExternalID   string
	Date         time.Time
	Description  string
	Amount       decimal.Decimal
	Category     string
	Pending      bool
	MerchantName *string
}

func (p CreateParams) Validate() error {
	if p.AccountID <= 0 {
		return errors.New("valid account ID is required")
	}
	if p.ExternalID == "" {
		return errors.New("external transaction ID is required")
	}
	if p.Date.IsZero() {
		return errors.New("transaction date is required")
	}
	return nil
}

// UpdateParams replaces the mutable fields of a stored transaction.
type UpdateParams struct {
	Date         time.Time
	Description  string
	Amount       decimal.Decimal
	Category     string
	Pending      bool
	MerchantName *string
}

// UpdateFrom copies the mutable fields of a create payload.
func UpdateFrom(p CreateParams) UpdateParams {
	return UpdateParams{
		Date:         p.Date,
		Description:  p.Description,
		Amount:       p.Amount,
		Category:     p.Category,
		Pending:      p.Pending,
		MerchantName: p.MerchantName,
	}
}
