package scheduler

import (
	"time"

	"github.com/google/uuid"

	"github.com/konozy/ordersync/internal/domain/execution"
)

// SyncJobStatus represents the status of a sync job
type SyncJobStatus string

const (
	SyncJobStatusPending   SyncJobStatus = "PENDING"
	SyncJobStatusRunning   SyncJobStatus = "RUNNING"
	SyncJobStatusSuccess   SyncJobStatus = "SUCCESS"
	SyncJobStatusPartial   SyncJobStatus = "PARTIAL"
	SyncJobStatusFailed    SyncJobStatus = "FAILED"
	SyncJobStatusSkipped   SyncJobStatus = "SKIPPED"
	SyncJobStatusCancelled SyncJobStatus = "CANCELLED"
)

// maxRetryDelay caps the exponential retry backoff
const maxRetryDelay = 30 * time.Minute

// SyncJob is one scheduled attempt to sync a window
type SyncJob struct {
	ID          uuid.UUID
	Trigger     string // interval, startup, manual
	WindowStart time.Time
	WindowEnd   time.Time
	Status      SyncJobStatus
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time

	// Set once the orchestrator has produced a finalized record
	ExecutionID uuid.UUID
	Counts      execution.Counts
}

// NewSyncJob creates a pending job for [start, end)
func NewSyncJob(trigger string, start, end time.Time, maxRetries int) *SyncJob {
	return &SyncJob{
		ID:          uuid.New(),
		Trigger:     trigger,
		WindowStart: start,
		WindowEnd:   end,
		Status:      SyncJobStatusPending,
		MaxRetries:  maxRetries,
	}
}

// Start marks the job as running
func (j *SyncJob) Start(now time.Time) {
	j.Status = SyncJobStatusRunning
	j.StartedAt = &now
	j.Error = ""
}

// Complete records the outcome of a finalized execution
func (j *SyncJob) Complete(record *execution.Record, now time.Time) {
	j.CompletedAt = &now
	j.ExecutionID = record.ID
	j.Counts = record.Counts

	switch {
	case record.Cancelled:
		j.Status = SyncJobStatusCancelled
	case record.Status == execution.StatusCompleted:
		j.Status = SyncJobStatusSuccess
	default:
		j.Status = SyncJobStatusPartial
	}
}

// Fail marks the job as failed
func (j *SyncJob) Fail(err string, now time.Time) {
	j.Status = SyncJobStatusFailed
	j.CompletedAt = &now
	j.Error = err
}

// Skip marks a job that did not run because another run held the lock
func (j *SyncJob) Skip(now time.Time) {
	j.Status = SyncJobStatusSkipped
	j.CompletedAt = &now
}

// ShouldRetry returns true if the job should be retried
func (j *SyncJob) ShouldRetry() bool {
	return j.Status == SyncJobStatusFailed && j.RetryCount < j.MaxRetries
}

// ScheduleRetry schedules the job for retry with exponential backoff and
// returns the delay.
func (j *SyncJob) ScheduleRetry(baseDelay time.Duration, now time.Time) time.Duration {
	j.RetryCount++
	j.Status = SyncJobStatusPending
	delay := baseDelay * time.Duration(1<<(j.RetryCount-1))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	next := now.Add(delay)
	j.NextRetryAt = &next
	j.Error = ""
	return delay
}
