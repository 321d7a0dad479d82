package marketplace

import (
	"context"
	"sync"
	"time"

	"github.com/konozy/ordersync/internal/domain/integration"
)

var testCreds = integration.Credentials{
	ClientID:        "amzn1.application-oa2-client.test",
	ClientSecret:    "client-secret",
	RefreshToken:    "Atzr|refresh",
	AccessKeyID:     "AKIDEXAMPLE",
	SecretAccessKey: "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY",
	Region:          "eu-west-1",
	Service:         "execute-api",
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingSleeper advances the fake clock instead of sleeping.
type recordingSleeper struct {
	mu     sync.Mutex
	clock  *fakeClock
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	if s.clock != nil {
		s.clock.Advance(d)
	}
	return ctx.Err()
}

func (s *recordingSleeper) Total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total time.Duration
	for _, d := range s.delays {
		total += d
	}
	return total
}

func (s *recordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func noJitter(time.Duration) time.Duration { return 0 }
