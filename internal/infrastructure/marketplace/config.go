// Package marketplace implements the Amazon Selling Partner API client:
// LWA token management, signature-v4 request signing, throttling-aware
// transport and paginated order fetching.
package marketplace

import (
	"errors"
	"time"
)

const (
	// DefaultEndpoint is the SP-API endpoint for the Europe region (covers EG)
	DefaultEndpoint = "https://sellingpartnerapi-eu.amazon.com"
	// DefaultTokenEndpoint is the LWA token endpoint
	DefaultTokenEndpoint = "https://api.amazon.com/auth/o2/token"
	// DefaultMarketplaceID is the Amazon.eg marketplace
	DefaultMarketplaceID = "ARBP9OOSHTCHU"
	// DefaultRegion is the signing region for the Europe endpoint
	DefaultRegion = "eu-west-1"
	// DefaultService is the signing service name of SP-API
	DefaultService = "execute-api"

	// maxResponseSize is the maximum allowed response size from the API (10MB)
	maxResponseSize = 10 * 1024 * 1024
)

// Errors for marketplace configuration
var (
	ErrConfigMissingEndpoint      = errors.New("marketplace: endpoint is required")
	ErrConfigMissingTokenEndpoint = errors.New("marketplace: token endpoint is required")
	ErrConfigMissingMarketplaceID = errors.New("marketplace: marketplace id is required")
)

// Config holds SP-API client configuration.
type Config struct {
	// Endpoint is the regional SP-API base URL
	Endpoint string
	// TokenEndpoint is the LWA token URL
	TokenEndpoint string
	// MarketplaceID scopes every order query
	MarketplaceID string

	// RequestTimeout bounds a single HTTP call (not the retry schedule)
	RequestTimeout time.Duration
	// MaxAttempts is the number of retries after the first call
	MaxAttempts int
	// BaseDelay is the first backoff step
	BaseDelay time.Duration
	// MaxDelay caps computed backoff (not Retry-After)
	MaxDelay time.Duration
	// SignatureTTL is how long a signed request may be replayed on retry
	SignatureTTL time.Duration
	// TokenExpiryBuffer is kept in reserve before an access token expires
	TokenExpiryBuffer time.Duration
	// PageSize is MaxResultsPerPage for order listing
	PageSize int
}

// DefaultConfig returns a configuration with production defaults
func DefaultConfig() *Config {
	return &Config{
		Endpoint:          DefaultEndpoint,
		TokenEndpoint:     DefaultTokenEndpoint,
		MarketplaceID:     DefaultMarketplaceID,
		RequestTimeout:    20 * time.Second,
		MaxAttempts:       3,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		SignatureTTL:      5 * time.Minute,
		TokenExpiryBuffer: 5 * time.Minute,
		PageSize:          100,
	}
}

// Validate validates the configuration and fills zero values with defaults
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return ErrConfigMissingEndpoint
	}
	if c.TokenEndpoint == "" {
		return ErrConfigMissingTokenEndpoint
	}
	if c.MarketplaceID == "" {
		return ErrConfigMissingMarketplaceID
	}

	def := DefaultConfig()
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.MaxAttempts < 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.SignatureTTL <= 0 {
		c.SignatureTTL = def.SignatureTTL
	}
	if c.TokenExpiryBuffer <= 0 {
		c.TokenExpiryBuffer = def.TokenExpiryBuffer
	}
	if c.PageSize <= 0 || c.PageSize > 100 {
		c.PageSize = def.PageSize
	}
	return nil
}
