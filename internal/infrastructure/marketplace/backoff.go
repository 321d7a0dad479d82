package marketplace

import (
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy computes the delay before the next attempt. It holds no
// attempt state; callers pass the attempt counter in.
type RetryPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Jitter returns a value in [0, max). Defaults to a uniform random source.
	Jitter func(max time.Duration) time.Duration
}

// DefaultRetryPolicy returns a 1s base, 30s cap policy with random jitter
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay: time.Second,
		MaxDelay:  30 * time.Second,
		Jitter:    uniformJitter,
	}
}

// WithBaseDelay returns a copy using base as the first backoff step.
func (p RetryPolicy) WithBaseDelay(base time.Duration) RetryPolicy {
	if base > 0 {
		p.BaseDelay = base
	}
	return p
}

// NextDelay returns the delay after the given zero-based attempt. A
// Retry-After hint is honoured exactly; otherwise the delay is
// BaseDelay*2^attempt plus jitter in [0, BaseDelay), capped at MaxDelay.
func (p RetryPolicy) NextDelay(attempt int, retryAfter time.Duration, hasRetryAfter bool) time.Duration {
	if hasRetryAfter {
		if retryAfter < 0 {
			return 0
		}
		return retryAfter
	}
	if attempt < 0 {
		attempt = 0
	}

	delay := p.MaxDelay
	if attempt < 62 {
		if d := p.BaseDelay << uint(attempt); d > 0 && d>>uint(attempt) == p.BaseDelay {
			delay = d
		}
	}
	if p.Jitter != nil && p.BaseDelay > 0 {
		delay += p.Jitter(p.BaseDelay)
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}

// MaxRetryAfter caps the wait a Retry-After header can impose.
const MaxRetryAfter = time.Hour

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date relative to now. Hints beyond MaxRetryAfter are clamped to it.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
			return 0, false
		}
		if secs >= MaxRetryAfter.Seconds() {
			return MaxRetryAfter, true
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if at, err := http.ParseTime(value); err == nil {
		return min(max(at.Sub(now), 0), MaxRetryAfter), true
	}
	return 0, false
}
