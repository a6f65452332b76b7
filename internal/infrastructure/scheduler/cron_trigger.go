package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CronTrigger submits tasks to a Scheduler on cron schedules
type CronTrigger struct {
	scheduler *Scheduler
	cron      *cron.Cron
	logger    *zap.Logger

	mu        sync.Mutex
	schedules map[string]string
	isRunning bool
}

// NewCronTrigger creates a cron trigger. Schedules use the standard
// five-field cron syntax and are evaluated in local time.
func NewCronTrigger(scheduler *Scheduler, logger *zap.Logger) *CronTrigger {
	return &CronTrigger{
		scheduler: scheduler,
		cron:      cron.New(),
		logger:    logger,
		schedules: make(map[string]string),
	}
}

// Register adds task on spec. An empty spec leaves the task unscheduled.
func (c *CronTrigger) Register(task, spec string) error {
	if spec == "" {
		c.logger.Info("maintenance task not scheduled", zap.String("task", task))
		return nil
	}
	if _, err := c.cron.AddFunc(spec, func() { c.fire(task) }); err != nil {
		return fmt.Errorf("%w: task %s has bad schedule %q: %v", ErrInvalidConfig, task, spec, err)
	}

	c.mu.Lock()
	c.schedules[task] = spec
	c.mu.Unlock()
	return nil
}

// Schedules returns the registered task schedules
func (c *CronTrigger) Schedules() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.schedules))
	for k, v := range c.schedules {
		out[k] = v
	}
	return out
}

// Start starts the cron loop
func (c *CronTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isRunning {
		return nil
	}
	c.isRunning = true
	c.cron.Start()

	fields := make([]zap.Field, 0, len(c.schedules))
	for task, spec := range c.schedules {
		fields = append(fields, zap.String(task, spec))
	}
	c.logger.Info("cron trigger started", fields...)
	return nil
}

// Stop stops the cron loop. Jobs already submitted keep running on the scheduler.
func (c *CronTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	c.mu.Unlock()

	select {
	case <-c.cron.Stop().Done():
		c.logger.Info("cron trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *CronTrigger) fire(task string) {
	if err := c.scheduler.SubmitTask(task); err != nil {
		c.logger.Warn("failed to submit maintenance task",
			zap.String("task", task),
			zap.Error(err),
		)
	}
}
