package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/konozy/ordersync/internal/domain/integration"
)

// TokenProvider hands out valid access tokens.
type TokenProvider interface {
	GetValidToken(ctx context.Context) (integration.AccessToken, error)
}

// Ensure TokenManager implements TokenProvider
var _ TokenProvider = (*TokenManager)(nil)

// TokenManager owns the LWA access token lifecycle. Concurrent callers that
// find the cache stale share a single refresh call.
type TokenManager struct {
	creds      integration.Credentials
	endpoint   string
	httpClient *http.Client
	clock      Clock
	buffer     time.Duration
	logger     *zap.Logger
	metrics    MetricsRecorder

	mu    sync.RWMutex
	token integration.AccessToken

	refreshGroup singleflight.Group
}

// TokenManagerOption is a functional option for configuring TokenManager
type TokenManagerOption func(*TokenManager)

// WithTokenHTTPClient sets the HTTP client used for refresh calls
func WithTokenHTTPClient(c *http.Client) TokenManagerOption {
	return func(m *TokenManager) {
		m.httpClient = c
	}
}

// WithTokenClock sets the clock used for expiry checks
func WithTokenClock(c Clock) TokenManagerOption {
	return func(m *TokenManager) {
		m.clock = c
	}
}

// WithExpiryBuffer sets how long before expiry a token is considered stale
func WithExpiryBuffer(d time.Duration) TokenManagerOption {
	return func(m *TokenManager) {
		m.buffer = d
	}
}

// WithTokenLogger sets the logger
func WithTokenLogger(l *zap.Logger) TokenManagerOption {
	return func(m *TokenManager) {
		m.logger = l
	}
}

// WithTokenMetrics sets the metrics recorder
func WithTokenMetrics(r MetricsRecorder) TokenManagerOption {
	return func(m *TokenManager) {
		m.metrics = r
	}
}

// NewTokenManager creates a TokenManager for the given credentials
func NewTokenManager(creds integration.Credentials, endpoint string, opts ...TokenManagerOption) (*TokenManager, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if endpoint == "" {
		return nil, ErrConfigMissingTokenEndpoint
	}

	m := &TokenManager{
		creds:      creds,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		clock:      SystemClock,
		buffer:     5 * time.Minute,
		logger:     zap.NewNop(),
		metrics:    nopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// GetValidToken returns the cached token while it is outside the expiry
// buffer, refreshing it otherwise. A refresh failure is returned to every
// caller waiting on it as an *integration.AuthError.
func (m *TokenManager) GetValidToken(ctx context.Context) (integration.AccessToken, error) {
	if tok, ok := m.cached(); ok {
		return tok, nil
	}

	// The refresh is detached from caller cancellation; each caller still
	// stops waiting when its own ctx is done.
	ch := m.refreshGroup.DoChan("refresh", func() (any, error) {
		if tok, ok := m.cached(); ok {
			return tok, nil
		}
		tok, err := m.refresh(context.WithoutCancel(ctx))
		m.metrics.RecordTokenRefresh(ctx, err)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.token = tok
		m.mu.Unlock()
		return tok, nil
	})

	select {
	case <-ctx.Done():
		return integration.AccessToken{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return integration.AccessToken{}, res.Err
		}
		return res.Val.(integration.AccessToken), nil
	}
}

// Invalidate drops the cached token so the next call refreshes.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.token = integration.AccessToken{}
	m.mu.Unlock()
}

func (m *TokenManager) cached() (integration.AccessToken, bool) {
	m.mu.RLock()
	tok := m.token
	m.mu.RUnlock()
	return tok, tok.ValidAt(m.clock.Now(), m.buffer)
}

// tokenResponse is the LWA token endpoint response
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (m *TokenManager) refresh(ctx context.Context) (integration.AccessToken, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", m.creds.RefreshToken)
	form.Set("client_id", m.creds.ClientID)
	form.Set("client_secret", m.creds.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return integration.AccessToken{}, &integration.AuthError{Reason: "failed to create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")
	req.Header.Set("Accept", "application/json")

	issuedAt := m.clock.Now()
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return integration.AccessToken{}, &integration.AuthError{Reason: "token endpoint unreachable", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return integration.AccessToken{}, &integration.AuthError{Reason: "failed to read response", Err: err}
	}

	var tr tokenResponse
	decodeErr := json.Unmarshal(body, &tr)

	if resp.StatusCode >= 300 {
		reason := tr.Error
		if tr.ErrorDescription != "" {
			reason = strings.TrimSpace(reason + " " + tr.ErrorDescription)
		}
		m.logger.Error("Access token refresh rejected",
			zap.Int("status_code", resp.StatusCode),
			zap.String("error", tr.Error),
		)
		return integration.AccessToken{}, &integration.AuthError{StatusCode: resp.StatusCode, Reason: reason}
	}
	if decodeErr != nil {
		return integration.AccessToken{}, &integration.AuthError{
			Reason: "malformed token response",
			Err:    errors.Join(integration.ErrInvalidResponse, decodeErr),
		}
	}
	if tr.AccessToken == "" || tr.ExpiresIn <= 0 {
		return integration.AccessToken{}, &integration.AuthError{
			Reason: fmt.Sprintf("malformed token response (expires_in=%d)", tr.ExpiresIn),
			Err:    integration.ErrInvalidResponse,
		}
	}

	tok := integration.AccessToken{
		Value:     tr.AccessToken,
		ExpiresAt: issuedAt.Add(time.Duration(tr.ExpiresIn) * time.Second),
	}
	m.logger.Info("Access token refreshed",
		zap.Time("expires_at", tok.ExpiresAt),
	)
	return tok, nil
}
