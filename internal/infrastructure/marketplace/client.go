package marketplace

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/konozy/ordersync/internal/domain/integration"
)

// Client bundles the wired SP-API components.
type Client struct {
	*OrderFetcher
	Tokens *TokenManager
}

// NewClient wires a TokenManager, RequestSigner, ThrottledTransport and
// OrderFetcher from cfg. A nil metrics recorder disables measurements.
func NewClient(cfg *Config, creds integration.Credentials, logger *zap.Logger, metrics MetricsRecorder) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	logger = logger.Named("marketplace")

	tokens, err := NewTokenManager(creds, cfg.TokenEndpoint,
		WithTokenHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		WithExpiryBuffer(cfg.TokenExpiryBuffer),
		WithTokenLogger(logger),
		WithTokenMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}

	transport := NewThrottledTransport(
		WithRetryPolicy(RetryPolicy{BaseDelay: cfg.BaseDelay, MaxDelay: cfg.MaxDelay, Jitter: uniformJitter}),
		WithRequestTimeout(cfg.RequestTimeout),
		WithSignatureTTL(cfg.SignatureTTL),
		WithTransportLogger(logger),
		WithTransportMetrics(metrics),
	)

	fetcher, err := NewOrderFetcher(cfg, creds, tokens, NewRequestSigner(), transport, WithFetcherLogger(logger))
	if err != nil {
		return nil, err
	}
	return &Client{OrderFetcher: fetcher, Tokens: tokens}, nil
}
