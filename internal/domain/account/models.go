package account

import (
	"errors"
	"time"
)

// Domain errors
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrInvalidInput    = errors.New("invalid input")
)

// Account is a provider account owned by one user. ExternalID is unique per
// owning user.
type Account struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"userId"`
	ExternalID string    `json:"externalId"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Subtype    string    `json:"subtype"`
	Mask       string    `json:"mask"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// CreateParams contains parameters for creating a new account
type CreateParams struct {
	UserID     int64
	ExternalID string
	Name       string
	Type       string
	Subtype    string
	Mask       string
}

// Validate validates the create parameters
func (p CreateParams) Validate() error {
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if p.ExternalID == "" {
		return errors.New("external account ID is required")
	}
	if p.Name == "" {
		return errors.New("account name is required")
	}
	return nil
}

// UpdateParams holds the fields a provider snapshot may change.
type UpdateParams struct {
	Name    *string
	Type    *string
	Subtype *string
	Mask    *string
}

// Outcome describes what an upsert did.
type Outcome int

const (
	Unchanged Outcome = iota
	Created
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}
