package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TaskFunc is invoked on every run of its job.
type TaskFunc func(ctx context.Context) error

// Job describes one named periodic task. Exactly one of Interval and Cron
// must be set; Cron is a five-field crontab evaluated in local time.
type Job struct {
	Name       string
	Interval   time.Duration
	Cron       string
	Task       TaskFunc
	RunAtStart bool
}

func (j Job) definition() gocron.JobDefinition {
	if j.Cron != "" {
		return gocron.CronJob(j.Cron, false)
	}
	return gocron.DurationJob(j.Interval)
}

// Scheduler drives the periodic jobs of the service. A job never overlaps
// itself; a slow run pushes its next run back instead.
type Scheduler struct {
	mu     sync.Mutex
	jobs   []Job
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{logger: logger.With().Str("component", "scheduler").Logger()}
}

// Add registers a job. Jobs added after Run has started are ignored.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return errors.New("job name is required")
	}
	switch {
	case job.Cron != "" && job.Interval != 0:
		return fmt.Errorf("job %s: set either an interval or a cron schedule", job.Name)
	case job.Cron == "" && job.Interval <= 0:
		return fmt.Errorf("job %s: interval must be positive", job.Name)
	}
	if job.Task == nil {
		return fmt.Errorf("job %s: task is required", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return nil
}

// Jobs returns the names of registered jobs in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		names = append(names, j.Name)
	}
	return names
}

// Run blocks, executing the registered jobs until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	if len(jobs) == 0 {
		return errors.New("no jobs registered")
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	for _, job := range jobs {
		opts := []gocron.JobOption{
			gocron.WithName(job.Name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		}
		if job.RunAtStart {
			opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
		}
		if _, err := sched.NewJob(
			job.definition(),
			gocron.NewTask(s.execute(job)),
			opts...,
		); err != nil {
			_ = sched.Shutdown()
			return fmt.Errorf("register job %s: %w", job.Name, err)
		}
		s.logger.Info().Str("job", job.Name).Dur("interval", job.Interval).Str("cron", job.Cron).Msg("job registered")
	}

	sched.Start()
	<-ctx.Done()

	if err := sched.Shutdown(); err != nil {
		s.logger.Error().Err(err).Msg("scheduler shutdown failed")
	}
	return ctx.Err()
}

func (s *Scheduler) execute(job Job) func(context.Context) {
	return func(ctx context.Context) {
		logger := s.logger.With().Str("job", job.Name).Str("exec_id", uuid.NewString()).Logger()
		ctx = logger.WithContext(ctx)
		started := time.Now()

		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Msg("job panicked")
			}
		}()

		if err := job.Task(ctx); err != nil {
			if ctx.Err() != nil {
				logger.Debug().Err(err).Msg("job interrupted by shutdown")
				return
			}
			logger.Error().Err(err).Dur("elapsed", time.Since(started)).Msg("job execution failed")
			return
		}
		logger.Debug().Dur("elapsed", time.Since(started)).Msg("job executed")
	}
}
