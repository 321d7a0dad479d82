package dto

import "net/http"

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	ErrCodeInternal    = "ERR_INTERNAL"
	ErrCodeUnavailable = "ERR_UNAVAILABLE"
)

// Input error codes
const (
	ErrCodeValidation  = "ERR_VALIDATION"
	ErrCodeBadRequest  = "ERR_BAD_REQUEST"
	ErrCodeInvalidJSON = "ERR_INVALID_JSON"
	ErrCodeTooLarge    = "ERR_REQUEST_TOO_LARGE"
)

// Authentication error codes
const (
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	ErrCodeForbidden    = "ERR_FORBIDDEN"
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
	ErrCodeTokenInvalid = "ERR_TOKEN_INVALID"
)

// Resource error codes
const (
	ErrCodeNotFound = "ERR_NOT_FOUND"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:    http.StatusInternalServerError,
	ErrCodeUnavailable: http.StatusServiceUnavailable,

	ErrCodeValidation:  http.StatusBadRequest,
	ErrCodeBadRequest:  http.StatusBadRequest,
	ErrCodeInvalidJSON: http.StatusBadRequest,
	ErrCodeTooLarge:    http.StatusRequestEntityTooLarge,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeTokenInvalid: http.StatusUnauthorized,

	ErrCodeNotFound: http.StatusNotFound,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
