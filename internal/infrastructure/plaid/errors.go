package plaid

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidCredential means the provider rejected the access or public
	// token: it was rotated, revoked or never valid.
	ErrInvalidCredential = errors.New("provider rejected credential")
	// ErrProviderTimeout means the call did not complete within its deadline.
	ErrProviderTimeout = errors.New("provider call timed out")
	// ErrProvider covers every other upstream failure.
	ErrProvider = errors.New("provider error")
)

var credentialErrorCodes = map[string]struct{}{
	"INVALID_ACCESS_TOKEN": {},
	"INVALID_PUBLIC_TOKEN": {},
	"ITEM_LOGIN_REQUIRED":  {},
	"ITEM_NOT_FOUND":       {},
	"ACCESS_NOT_GRANTED":   {},
}

// APIError is a decoded non-200 response. It unwraps to one of the kind
// sentinels above.
type APIError struct {
	Status    int
	Type      string
	Code      string
	Message   string
	RequestID string
	kind      error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("plaid API error (status %d): %s - %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.kind
}

func newAPIError(status int, body ErrorResponse) *APIError {
	e := &APIError{
		Status:    status,
		Type:      body.ErrorType,
		Code:      body.ErrorCode,
		Message:   body.ErrorMessage,
		RequestID: body.RequestID,
	}
	e.kind = classify(status, body.ErrorCode)
	return e
}

func classify(status int, code string) error {
	if _, ok := credentialErrorCodes[code]; ok {
		return ErrInvalidCredential
	}
	switch status {
	case http.StatusUnauthorized:
		return ErrInvalidCredential
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrProviderTimeout
	}
	return ErrProvider
}
