package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobStatus represents the status of a scheduled job
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

// Job is one run of a named maintenance task
type Job struct {
	ID          uuid.UUID
	Task        string
	Status      JobStatus
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time
}

// NewJob creates a pending job for task
func NewJob(task string, maxRetries int) *Job {
	return &Job{
		ID:         uuid.New(),
		Task:       task,
		Status:     JobStatusPending,
		MaxRetries: maxRetries,
	}
}

// Start marks the job as running
func (j *Job) Start() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.Error = ""
}

// Complete marks the job as successful
func (j *Job) Complete() {
	now := time.Now()
	j.Status = JobStatusSuccess
	j.CompletedAt = &now
}

// Fail marks the job as failed
func (j *Job) Fail(err string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.Error = err
}

// ShouldRetry returns true if the job should be retried
func (j *Job) ShouldRetry() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// ScheduleRetry schedules the job for retry
func (j *Job) ScheduleRetry(delay time.Duration) {
	j.RetryCount++
	j.Status = JobStatusPending
	next := time.Now().Add(delay)
	j.NextRetryAt = &next
	j.Error = ""
}

// JobExecutor runs a job's task
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}

// ExecutorFunc adapts a function to JobExecutor
type ExecutorFunc func(ctx context.Context, job *Job) error

// Execute calls f
func (f ExecutorFunc) Execute(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	Enabled           bool
	MaxConcurrentJobs int
	JobTimeout        time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
	QueueSize         int
}

// DefaultSchedulerConfig returns default scheduler configuration
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:           true,
		MaxConcurrentJobs: 2,
		JobTimeout:        30 * time.Minute,
		RetryAttempts:     3,
		RetryDelay:        time.Minute,
		QueueSize:         32,
	}
}

// Validate checks the configuration
func (c SchedulerConfig) Validate() error {
	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("%w: max concurrent jobs must be at least 1", ErrInvalidConfig)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("%w: job timeout must be positive", ErrInvalidConfig)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("%w: retry attempts cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// Scheduler runs submitted jobs on a bounded worker pool and retries
// failures after RetryDelay
type Scheduler struct {
	config   SchedulerConfig
	executor JobExecutor
	logger   *zap.Logger

	jobs      chan *Job
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewScheduler creates a new scheduler instance
func NewScheduler(config SchedulerConfig, executor JobExecutor, logger *zap.Logger) *Scheduler {
	if config.QueueSize <= 0 {
		config.QueueSize = 32
	}
	return &Scheduler{
		config:   config,
		executor: executor,
		logger:   logger,
		jobs:     make(chan *Job, config.QueueSize),
	}
}

// Start starts the worker pool
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	s.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for i := 0; i < s.config.MaxConcurrentJobs; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.logger.Info("maintenance scheduler started",
		zap.Int("workers", s.config.MaxConcurrentJobs),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)
	return nil
}

// Stop cancels running jobs and waits for the workers, bounded by ctx
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("maintenance scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("maintenance scheduler stop timed out")
		return ctx.Err()
	}
}

// Submit queues a job for execution
func (s *Scheduler) Submit(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return ErrSchedulerNotRunning
	}

	select {
	case s.jobs <- job:
		s.logger.Debug("job submitted",
			zap.String("job_id", job.ID.String()),
			zap.String("task", job.Task),
		)
		return nil
	default:
		return ErrJobQueueFull
	}
}

// SubmitTask queues a new job for task
func (s *Scheduler) SubmitTask(task string) error {
	return s.Submit(NewJob(task, s.config.RetryAttempts))
}

func (s *Scheduler) worker(ctx context.Context, workerID int) {
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

func (s *Scheduler) processJob(ctx context.Context, job *Job, workerID int) {
	if job.NextRetryAt != nil {
		wait := time.Until(*job.NextRetryAt)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}

	job.Start()
	s.logger.Info("running maintenance job",
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("task", job.Task),
		zap.Int("attempt", job.RetryCount+1),
	)

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	err := s.executor.Execute(jobCtx, job)
	cancel()

	if err == nil {
		job.Complete()
		s.logger.Info("maintenance job completed",
			zap.String("job_id", job.ID.String()),
			zap.String("task", job.Task),
			zap.Duration("duration", job.CompletedAt.Sub(*job.StartedAt)),
		)
		return
	}

	job.Fail(err.Error())
	s.logger.Error("maintenance job failed",
		zap.String("job_id", job.ID.String()),
		zap.String("task", job.Task),
		zap.Error(err),
	)
	if ctx.Err() != nil || !job.ShouldRetry() {
		return
	}

	job.ScheduleRetry(s.config.RetryDelay)
	s.logger.Info("maintenance job scheduled for retry",
		zap.String("job_id", job.ID.String()),
		zap.Int("retry_count", job.RetryCount),
		zap.Int("max_retries", job.MaxRetries),
	)
	select {
	case s.jobs <- job:
	default:
		s.logger.Warn("failed to re-queue job for retry", zap.String("job_id", job.ID.String()))
	}
}
