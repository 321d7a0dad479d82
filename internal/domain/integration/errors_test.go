package integration

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypedErrors_UnwrapToSentinels(t *testing.T) {
	cause := errors.New("connection reset")

	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"auth", &AuthError{StatusCode: 401, Reason: "invalid_grant"}, ErrAuthFailed},
		{"auth with cause", &AuthError{Err: cause}, cause},
		{"signing", &SigningError{Reason: "region is required"}, ErrSigningFailed},
		{"throttled", &ThrottledError{Attempts: 4, StatusCode: 429}, ErrThrottled},
		{"throttled with cause", &ThrottledError{Attempts: 4, Err: cause}, cause},
		{"request", &RequestError{StatusCode: 403}, ErrRequestFailed},
		{"mapping", &MappingError{OrderID: "1", Field: "PurchaseDate", Reason: "missing"}, ErrInvalidOrder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("fetch: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "integration: marketplace authentication failed: HTTP 401: invalid_grant",
		(&AuthError{StatusCode: 401, Reason: "invalid_grant"}).Error())
	assert.Equal(t, "integration: marketplace retry budget exhausted after 4 attempts (last status 429)",
		(&ThrottledError{Attempts: 4, StatusCode: 429}).Error())
	assert.Equal(t, "integration: order 123: PurchaseDate: missing",
		(&MappingError{OrderID: "123", Field: "PurchaseDate", Reason: "missing"}).Error())
	assert.Equal(t, "integration: marketplace request failed: HTTP 400: bad",
		(&RequestError{StatusCode: 400, Body: "bad"}).Error())
}

func TestErrorType(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{nil, ""},
		{&MappingError{OrderID: "1"}, "MappingError"},
		{fmt.Errorf("%w: partner lookup", ErrInvoiceFailed), "InvoiceError"},
		{&AuthError{}, "AuthError"},
		{&SigningError{}, "SigningError"},
		{&ThrottledError{}, "ThrottledError"},
		{&RequestError{StatusCode: 404}, "RequestError"},
		{ErrSignatureExpired, "SignatureExpired"},
		{fmt.Errorf("%w: %w", ErrOrderNotFound, &RequestError{StatusCode: 404}), "OrderNotFound"},
		{errors.New("boom"), "InternalError"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, ErrorType(tt.err))
		})
	}
}
