// Package sched runs recurring jobs on cron expressions.
package sched

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a named unit of recurring work. Errors are logged, never fatal, so
// one failing run does not unschedule the job.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler wraps a cron runner with context-aware jobs.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(),
		logger: logger.Named("sched"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers a job. The spec is a standard five-field cron expression.
func (s *Scheduler) Add(job Job) error {
	if job.Spec == "" {
		return fmt.Errorf("job %q: cron spec required", job.Name)
	}
	if job.Run == nil {
		return fmt.Errorf("job %q: run func required", job.Name)
	}

	_, err := s.cron.AddFunc(job.Spec, func() {
		s.logger.Debug("job starting", zap.String("job", job.Name))
		if err := job.Run(s.ctx); err != nil {
			s.logger.Error("job failed",
				zap.String("job", job.Name),
				zap.Error(err))
			return
		}
		s.logger.Debug("job finished", zap.String("job", job.Name))
	})
	if err != nil {
		return fmt.Errorf("scheduling job %q: %w", job.Name, err)
	}
	return nil
}

// Start begins running registered jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop cancels the job context and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}
