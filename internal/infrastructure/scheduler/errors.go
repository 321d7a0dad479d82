// Package scheduler runs periodic order syncs on a bounded job queue,
// guarded by a run lock so overlapping runs are skipped.
package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when trying to submit a job to a stopped scheduler
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrJobQueueFull is returned when the job queue is full
	ErrJobQueueFull = errors.New("job queue is full")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrSyncInvalidTimeRange is returned for an empty or inverted window
	ErrSyncInvalidTimeRange = errors.New("invalid order sync time range")
)
