package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/konozy/ordersync/internal/application/ordersync"
	"github.com/konozy/ordersync/internal/domain/execution"
	"github.com/konozy/ordersync/internal/domain/integration"
	"github.com/konozy/ordersync/internal/infrastructure/cache"
)

// RunLockKey is shared by every instance and command syncing the same marketplace
const RunLockKey = "ordersync:amazon"

// ---------------------------------------------------------------------------
// SyncRunner Interface
// ---------------------------------------------------------------------------

// SyncRunner executes one sync run to completion
type SyncRunner interface {
	Run(ctx context.Context, req ordersync.Request) (*execution.Record, error)
}

// Ensure the orchestrator satisfies SyncRunner
var _ SyncRunner = (*ordersync.Orchestrator)(nil)

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

// Config holds configuration for the sync scheduler
type Config struct {
	// Interval between scheduled runs
	Interval time.Duration
	// Lookback is the window length of each scheduled run
	Lookback time.Duration
	// JobTimeout caps a run when positive; zero lets a run take as long as
	// it needs
	JobTimeout time.Duration
	// LockTTL bounds how long a crashed instance can block others. A live
	// run renews its lease every LockTTL/3.
	LockTTL time.Duration
	// QueueSize bounds pending jobs
	QueueSize int
	// MaxConcurrentJobs is the number of workers
	MaxConcurrentJobs int
	// RetryAttempts is the number of retries after a failed run
	RetryAttempts int
	// RetryDelay is the base delay between retries (with exponential backoff)
	RetryDelay time.Duration
	// RunOnStartup submits one job as soon as the scheduler starts
	RunOnStartup bool
	// Statuses filters the orders each run fetches
	Statuses []integration.OrderStatus
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Interval:          time.Hour,
		Lookback:          24 * time.Hour,
		LockTTL:           30 * time.Minute,
		QueueSize:         4,
		MaxConcurrentJobs: 1,
		RetryAttempts:     2,
		RetryDelay:        time.Minute,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Interval <= 0 || c.Lookback <= 0 || c.JobTimeout < 0 || c.LockTTL <= 0 {
		return ErrInvalidConfig
	}
	if c.QueueSize <= 0 || c.MaxConcurrentJobs <= 0 {
		return ErrInvalidConfig
	}
	if c.RetryAttempts < 0 || (c.RetryAttempts > 0 && c.RetryDelay <= 0) {
		return ErrInvalidConfig
	}
	return nil
}

// ---------------------------------------------------------------------------
// SyncScheduler
// ---------------------------------------------------------------------------

// SyncScheduler submits a sync job every Interval and runs queued jobs on a
// small worker pool. A job whose run lock is held elsewhere is skipped.
type SyncScheduler struct {
	config Config
	runner SyncRunner
	lock   cache.RunLock
	logger *zap.Logger
	now    func() time.Time

	jobs      chan *SyncJob
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	// Job history for monitoring (in-memory, limited size)
	historyMu  sync.RWMutex
	history    []*SyncJob
	maxHistory int
}

// Option is a functional option for configuring SyncScheduler
type Option func(*SyncScheduler)

// WithClock sets the clock used for windows and job timestamps
func WithClock(now func() time.Time) Option {
	return func(s *SyncScheduler) {
		s.now = now
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *SyncScheduler) {
		s.logger = logger
	}
}

// NewSyncScheduler creates a new scheduler
func NewSyncScheduler(config Config, runner SyncRunner, lock cache.RunLock, opts ...Option) (*SyncScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if runner == nil || lock == nil {
		return nil, ErrInvalidConfig
	}

	s := &SyncScheduler{
		config:     config,
		runner:     runner,
		lock:       lock,
		logger:     zap.NewNop(),
		now:        time.Now,
		jobs:       make(chan *SyncJob, config.QueueSize),
		history:    make([]*SyncJob, 0, 50),
		maxHistory: 50,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start starts the workers and the interval trigger
func (s *SyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	for i := 0; i < s.config.MaxConcurrentJobs; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.wg.Add(1)
	go s.tickLoop(ctx)

	s.logger.Info("Sync scheduler started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("lookback", s.config.Lookback),
		zap.Int("workers", s.config.MaxConcurrentJobs),
	)

	if s.config.RunOnStartup {
		if err := s.ScheduleSync("startup"); err != nil {
			s.logger.Warn("Failed to submit startup sync", zap.Error(err))
		}
	}
	return nil
}

// Stop cancels running jobs and waits for the workers to finish
func (s *SyncScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Sync scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Sync scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether Start has been called without a matching Stop
func (s *SyncScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// ScheduleSync submits a job covering the last Lookback up to now
func (s *SyncScheduler) ScheduleSync(trigger string) error {
	end := s.now().UTC()
	return s.SubmitJob(NewSyncJob(trigger, end.Add(-s.config.Lookback), end, s.config.RetryAttempts))
}

// SubmitJob queues a job without blocking
func (s *SyncScheduler) SubmitJob(job *SyncJob) error {
	if !job.WindowEnd.After(job.WindowStart) {
		return ErrSyncInvalidTimeRange
	}
	if !s.IsRunning() {
		return ErrSchedulerNotRunning
	}

	select {
	case s.jobs <- job:
		s.logger.Debug("Sync job submitted",
			zap.String("job_id", job.ID.String()),
			zap.String("trigger", job.Trigger),
		)
		return nil
	default:
		return ErrJobQueueFull
	}
}

func (s *SyncScheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ScheduleSync("interval"); err != nil {
				s.logger.Warn("Failed to submit scheduled sync", zap.Error(err))
			}
		}
	}
}

func (s *SyncScheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			s.processJob(ctx, job, workerID)
		}
	}
}

// processJob executes a single job under the run lock
func (s *SyncScheduler) processJob(ctx context.Context, job *SyncJob, workerID int) {
	logger := s.logger.With(
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("trigger", job.Trigger),
	)

	lease, ok, err := s.lock.Acquire(ctx, RunLockKey, s.config.LockTTL)
	if err != nil {
		job.Fail(err.Error(), s.now())
		logger.Error("Failed to acquire sync run lock", zap.Error(err))
		s.addToHistory(job)
		return
	}
	if !ok {
		job.Skip(s.now())
		logger.Info("Skipping sync, another run holds the lock")
		s.addToHistory(job)
		return
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx), lease); err != nil {
			logger.Warn("Failed to release sync run lock", zap.Error(err))
		}
	}()
	stopRenewal := cache.KeepAlive(ctx, s.lock, lease, s.config.LockTTL, func(err error) {
		logger.Warn("Failed to extend sync run lock", zap.Error(err))
	})
	defer stopRenewal()

	job.Start(s.now())
	logger.Info("Processing sync job",
		zap.Time("window_start", job.WindowStart),
		zap.Time("window_end", job.WindowEnd),
	)

	jobCtx := ctx
	if s.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, s.config.JobTimeout)
		defer cancel()
	}

	record, err := s.runner.Run(jobCtx, ordersync.Request{
		WindowStart: job.WindowStart,
		WindowEnd:   job.WindowEnd,
		Statuses:    s.config.Statuses,
	})
	if err != nil {
		job.Fail(err.Error(), s.now())
		logger.Error("Sync job failed", zap.Error(err))
		s.addToHistory(job)
		s.maybeRetry(ctx, job, logger, err)
		return
	}

	job.Complete(record, s.now())
	logger.Info("Sync job completed",
		zap.String("execution_id", record.ID.String()),
		zap.String("status", string(job.Status)),
		zap.Int("total_orders", record.TotalOrders),
		zap.Int("successful", record.Successful),
		zap.Int("failed", record.Failed),
	)
	s.addToHistory(job)
}

func (s *SyncScheduler) maybeRetry(ctx context.Context, job *SyncJob, logger *zap.Logger, cause error) {
	if ctx.Err() != nil || errors.Is(cause, execution.ErrInvalidWindow) || !job.ShouldRetry() {
		return
	}

	retry := *job
	delay := retry.ScheduleRetry(s.config.RetryDelay, s.now())
	logger.Info("Sync job scheduled for retry",
		zap.Int("retry_count", retry.RetryCount),
		zap.Int("max_retries", retry.MaxRetries),
		zap.Duration("delay", delay),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			if err := s.SubmitJob(&retry); err != nil {
				logger.Warn("Failed to re-queue sync job for retry", zap.Error(err))
			}
		}
	}()
}

// addToHistory adds a finished job to history
func (s *SyncScheduler) addToHistory(job *SyncJob) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	snapshot := *job
	s.history = append([]*SyncJob{&snapshot}, s.history...)
	if len(s.history) > s.maxHistory {
		s.history = s.history[:s.maxHistory]
	}
}

// GetJobHistory returns recent jobs, newest first
func (s *SyncScheduler) GetJobHistory(limit int) []*SyncJob {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	result := make([]*SyncJob, limit)
	copy(result, s.history[:limit])
	return result
}
