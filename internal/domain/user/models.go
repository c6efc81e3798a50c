package user

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrInvalidInput = errors.New("invalid input")
)

// User is the owner of a provider link. AccessToken is nil until a link has
// been completed; Cursor is nil until a sync pass has finished.
type User struct {
	ID          int64     `json:"id"`
	Email       string    `json:"email"`
	AccessToken *string   `json:"-"`
	Cursor      *string   `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// IsLinked reports whether the user holds a provider credential.
func (u *User) IsLinked() bool {
	return u != nil && u.AccessToken != nil && *u.AccessToken != ""
}

// CursorValue returns the stored cursor or "" when no sync has completed.
func (u *User) CursorValue() string {
	if u == nil || u.Cursor == nil {
		return ""
	}
	return *u.Cursor
}

type CreateParams struct {
	Email string
}

func (p CreateParams) Validate() error {
	if !strings.Contains(p.Email, "@") {
		return ErrInvalidInput
	}
	return nil
}
