package marketplace

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/konozy/ordersync/internal/domain/integration"
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Executor runs signed requests.
type Executor interface {
	Execute(ctx context.Context, req *SignedRequest, maxAttempts int, baseDelay time.Duration) (*Response, error)
}

// Ensure ThrottledTransport implements Executor
var _ Executor = (*ThrottledTransport)(nil)

// ThrottledTransport executes signed requests, absorbing 429 and 5xx
// responses with backoff.
type ThrottledTransport struct {
	httpClient     *http.Client
	policy         RetryPolicy
	clock          Clock
	sleeper        Sleeper
	requestTimeout time.Duration
	signatureTTL   time.Duration
	logger         *zap.Logger
	metrics        MetricsRecorder
}

// TransportOption is a functional option for configuring ThrottledTransport
type TransportOption func(*ThrottledTransport)

// WithHTTPClient sets the underlying HTTP client
func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *ThrottledTransport) {
		t.httpClient = c
	}
}

// WithRetryPolicy sets the backoff policy
func WithRetryPolicy(p RetryPolicy) TransportOption {
	return func(t *ThrottledTransport) {
		t.policy = p
	}
}

// WithClock sets the clock used for signature age checks
func WithClock(c Clock) TransportOption {
	return func(t *ThrottledTransport) {
		t.clock = c
	}
}

// WithSleeper sets the sleeper used between attempts
func WithSleeper(s Sleeper) TransportOption {
	return func(t *ThrottledTransport) {
		t.sleeper = s
	}
}

// WithRequestTimeout sets the per-call timeout
func WithRequestTimeout(d time.Duration) TransportOption {
	return func(t *ThrottledTransport) {
		t.requestTimeout = d
	}
}

// WithSignatureTTL sets how long a signature may be replayed
func WithSignatureTTL(d time.Duration) TransportOption {
	return func(t *ThrottledTransport) {
		t.signatureTTL = d
	}
}

// WithTransportLogger sets the logger
func WithTransportLogger(l *zap.Logger) TransportOption {
	return func(t *ThrottledTransport) {
		t.logger = l
	}
}

// WithTransportMetrics sets the metrics recorder
func WithTransportMetrics(r MetricsRecorder) TransportOption {
	return func(t *ThrottledTransport) {
		t.metrics = r
	}
}

// NewThrottledTransport creates a ThrottledTransport
func NewThrottledTransport(opts ...TransportOption) *ThrottledTransport {
	t := &ThrottledTransport{
		httpClient:     &http.Client{},
		policy:         DefaultRetryPolicy(),
		clock:          SystemClock,
		sleeper:        TimerSleeper,
		requestTimeout: 20 * time.Second,
		signatureTTL:   5 * time.Minute,
		logger:         zap.NewNop(),
		metrics:        nopRecorder{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Execute sends req, retrying up to maxAttempts times after the first call.
//
//   - 2xx/3xx: the response is returned.
//   - 429: wait Retry-After when given, else exponential backoff.
//   - 5xx and network errors: exponential backoff.
//   - other 4xx: *integration.RequestError, no retry.
//
// An exhausted budget yields *integration.ThrottledError. A signature older
// than the TTL is never replayed; integration.ErrSignatureExpired is returned
// so the caller can re-sign.
func (t *ThrottledTransport) Execute(ctx context.Context, req *SignedRequest, maxAttempts int, baseDelay time.Duration) (*Response, error) {
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	policy := t.policy.WithBaseDelay(baseDelay)

	var (
		lastStatus int
		lastErr    error
	)
	for attempt := 0; attempt <= maxAttempts; attempt++ {
		if attempt > 0 {
			if age := req.Age(t.clock.Now()); age > t.signatureTTL {
				return nil, fmt.Errorf("%w: signed %s ago", integration.ErrSignatureExpired, age.Truncate(time.Second))
			}
		}

		resp, err := t.do(ctx, req)
		var (
			retryAfter    time.Duration
			hasRetryAfter bool
		)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastStatus, lastErr = 0, err
		case resp.StatusCode < 400:
			return resp, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			lastStatus, lastErr = resp.StatusCode, nil
			retryAfter, hasRetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), t.clock.Now())
		case resp.StatusCode >= 500:
			lastStatus, lastErr = resp.StatusCode, nil
		default:
			return nil, &integration.RequestError{StatusCode: resp.StatusCode, Body: truncate(string(resp.Body), 512)}
		}

		if attempt == maxAttempts {
			break
		}

		delay := policy.NextDelay(attempt, retryAfter, hasRetryAfter)
		t.metrics.RecordRetry(ctx, lastStatus, delay)
		t.logger.Warn("Retrying marketplace request",
			zap.String("method", req.Method),
			zap.String("url", req.URL),
			zap.Int("attempt", attempt+1),
			zap.Int("status_code", lastStatus),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)
		if err := t.sleeper.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, &integration.ThrottledError{Attempts: maxAttempts + 1, StatusCode: lastStatus, Err: lastErr}
}

// do performs one HTTP call bounded by the per-call timeout.
func (t *ThrottledTransport) do(ctx context.Context, req *SignedRequest) (*Response, error) {
	callCtx := ctx
	if t.requestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, t.requestTimeout)
		defer cancel()
	}

	httpReq, err := req.NewHTTPRequest(callCtx)
	if err != nil {
		return nil, fmt.Errorf("marketplace: failed to create request: %w", err)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("marketplace: failed to read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
