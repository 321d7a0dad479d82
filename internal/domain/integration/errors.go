package integration

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Integration Errors
// ---------------------------------------------------------------------------

var (
	// Marketplace client errors
	ErrAuthFailed         = errors.New("integration: marketplace authentication failed")
	ErrSigningFailed      = errors.New("integration: request signing failed")
	ErrThrottled          = errors.New("integration: marketplace retry budget exhausted")
	ErrSignatureExpired   = errors.New("integration: request signature expired")
	ErrRequestFailed      = errors.New("integration: marketplace request failed")
	ErrInvalidResponse    = errors.New("integration: invalid marketplace response")
	ErrInvalidCredentials = errors.New("integration: invalid credentials")
	ErrOrderNotFound      = errors.New("integration: order not found")

	// Order processing errors
	ErrInvalidOrder   = errors.New("integration: invalid order payload")
	ErrInvoiceFailed  = errors.New("integration: invoice creation failed")
	ErrNotifierFailed = errors.New("integration: notification dispatch failed")
)

// AuthError is returned when the access token cannot be obtained.
// A rejected refresh is never retried.
type AuthError struct {
	StatusCode int
	Reason     string
	Err        error
}

func (e *AuthError) Error() string {
	msg := "integration: marketplace authentication failed"
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: HTTP %d", msg, e.StatusCode)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrAuthFailed}
	}
	return []error{ErrAuthFailed, e.Err}
}

// SigningError is returned for malformed credentials, URLs or timestamps.
type SigningError struct {
	Reason string
}

func (e *SigningError) Error() string {
	return "integration: request signing failed: " + e.Reason
}

func (e *SigningError) Unwrap() error {
	return ErrSigningFailed
}

// ThrottledError is returned once the retry budget is exhausted.
type ThrottledError struct {
	Attempts   int
	StatusCode int
	Err        error
}

func (e *ThrottledError) Error() string {
	msg := fmt.Sprintf("integration: marketplace retry budget exhausted after %d attempts", e.Attempts)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (last status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ThrottledError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrThrottled}
	}
	return []error{ErrThrottled, e.Err}
}

// RequestError is a non-retryable HTTP failure (4xx other than 429).
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("integration: marketplace request failed: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("integration: marketplace request failed: HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *RequestError) Unwrap() error {
	return ErrRequestFailed
}

// MappingError reports an order that cannot be turned into an invoice.
type MappingError struct {
	OrderID string
	Field   string
	Reason  string
}

func (e *MappingError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("integration: order %s: %s", e.OrderID, e.Reason)
	}
	return fmt.Sprintf("integration: order %s: %s: %s", e.OrderID, e.Field, e.Reason)
}

func (e *MappingError) Unwrap() error {
	return ErrInvalidOrder
}

// ErrorType classifies err for reporting. Unknown errors are "InternalError".
func ErrorType(err error) string {
	var (
		authErr      *AuthError
		signingErr   *SigningError
		throttledErr *ThrottledError
		requestErr   *RequestError
		mappingErr   *MappingError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &mappingErr), errors.Is(err, ErrInvalidOrder):
		return "MappingError"
	case errors.Is(err, ErrInvoiceFailed):
		return "InvoiceError"
	case errors.As(err, &authErr):
		return "AuthError"
	case errors.As(err, &signingErr):
		return "SigningError"
	case errors.As(err, &throttledErr):
		return "ThrottledError"
	case errors.Is(err, ErrOrderNotFound):
		return "OrderNotFound"
	case errors.As(err, &requestErr):
		return "RequestError"
	case errors.Is(err, ErrSignatureExpired):
		return "SignatureExpired"
	default:
		return "InternalError"
	}
}
