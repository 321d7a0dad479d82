package integration

import (
	"fmt"
	"time"
)

// Credentials holds everything needed to authenticate and sign marketplace
// requests. It is immutable for the process lifetime.
type Credentials struct {
	// LWA (Login with Amazon) client credentials
	ClientID     string
	ClientSecret string
	RefreshToken string

	// Signing key material
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string // optional
	Region          string
	Service         string
}

// Validate checks the LWA part of the credentials.
func (c Credentials) Validate() error {
	switch {
	case c.ClientID == "":
		return fmt.Errorf("%w: client id is required", ErrInvalidCredentials)
	case c.ClientSecret == "":
		return fmt.Errorf("%w: client secret is required", ErrInvalidCredentials)
	case c.RefreshToken == "":
		return fmt.Errorf("%w: refresh token is required", ErrInvalidCredentials)
	}
	return nil
}

// MissingSigningField returns the name of the first empty signing field, or "".
func (c Credentials) MissingSigningField() string {
	switch {
	case c.AccessKeyID == "":
		return "access key id"
	case c.SecretAccessKey == "":
		return "secret access key"
	case c.Region == "":
		return "region"
	case c.Service == "":
		return "service"
	}
	return ""
}

// AccessToken is a short-lived bearer token issued by the LWA endpoint.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// ValidAt reports whether the token may still be used at now, keeping buffer
// in reserve before its expiry.
func (t AccessToken) ValidAt(now time.Time, buffer time.Duration) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-buffer))
}
