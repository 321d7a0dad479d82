package marketplace

import (
	"context"
	"time"
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// Sleeper waits between retries. It returns early with ctx.Err() on cancellation.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// TimerSleeper sleeps on a real timer.
var TimerSleeper Sleeper = timerSleeper{}

// MetricsRecorder receives client-side measurements.
type MetricsRecorder interface {
	RecordTokenRefresh(ctx context.Context, err error)
	RecordRetry(ctx context.Context, statusCode int, delay time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordTokenRefresh(context.Context, error) {}
func (nopRecorder) RecordRetry(context.Context, int, time.Duration) {}
