package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/threadline/shopfront-backend/pkg/logger"
	"github.com/threadline/shopfront-backend/pkg/metrics"
)

const (
	defaultInterval = time.Hour
	defaultTick     = 30 * time.Second
)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Locker   Locker
	Metrics  *metrics.CronJobMetrics
	// Interval is the cadence for entries registered without one.
	Interval time.Duration
	// Tick is how often due jobs are looked for.
	Tick time.Duration
	Now  func() time.Time
}

// Service runs each registered job on its own cadence. A job runs on one
// replica at a time: the replica holding its lease renews it while the job
// runs, and the run is cancelled if the lease is lost.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	locker   Locker
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	tick     time.Duration
	now      func() time.Time
	next     map[string]time.Time
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	s := &Service{
		logg:     params.Logger,
		registry: params.Registry,
		locker:   params.Locker,
		metrics:  params.Metrics,
		interval: params.Interval,
		tick:     params.Tick,
		now:      params.Now,
		next:     map[string]time.Time{},
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.tick <= 0 {
		s.tick = defaultTick
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Run checks for due jobs every tick until ctx is cancelled. Every job is
// due on the first check.
func (s *Service) Run(ctx context.Context) error {
	s.runDue(ctx)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// runDue runs, in registration order, every job whose slot has passed. The
// next slot is booked before the run so a replica that finds the lease held
// waits a full cadence too.
func (s *Service) runDue(ctx context.Context) {
	for _, entry := range s.registry.Entries() {
		if ctx.Err() != nil {
			return
		}
		name := entry.Job.Name()
		now := s.now()
		if next, ok := s.next[name]; ok && now.Before(next) {
			continue
		}
		every := entry.Every
		if every <= 0 {
			every = s.interval
		}
		s.next[name] = now.Add(every)
		s.runJob(ctx, entry.Job)
	}
}

func (s *Service) runJob(ctx context.Context, job Job) {
	name := job.Name()
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})

	lease, err := s.locker.TryLock(jobCtx, name)
	if err != nil {
		s.logg.Error(jobCtx, "cron lease unavailable", err)
		return
	}
	if lease == nil {
		s.logg.Info(jobCtx, "job leased by another replica; skipping")
		s.metrics.IncSkipped(name)
		return
	}

	runCtx, cancel := context.WithCancel(jobCtx)
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		s.renew(runCtx, cancel, lease)
	}()

	s.logg.Info(jobCtx, "job start")
	start := time.Now()
	err = job.Run(runCtx)
	duration := time.Since(start)
	cancel()
	<-renewed

	if relErr := lease.Release(jobCtx); relErr != nil {
		s.logg.Error(jobCtx, "failed to release cron lease", relErr)
	}
	s.metrics.ObserveRun(name, duration, err, s.now())

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return
	}
	s.logg.Info(jobCtx, "job completed")
}

// renew extends the lease every third of its TTL. Losing the lease cancels
// the run; a failed renewal is retried on the next beat.
func (s *Service) renew(ctx context.Context, cancel context.CancelFunc, lease Lease) {
	beat := lease.TTL() / 3
	if beat <= 0 {
		beat = time.Second
	}
	ticker := time.NewTicker(beat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := lease.Extend(ctx)
			switch {
			case err == nil || ctx.Err() != nil:
			case errors.Is(err, ErrLeaseLost):
				s.logg.Error(ctx, "cron lease lost; cancelling run", err)
				cancel()
				return
			default:
				s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "cron lease renewal failed")
			}
		}
	}
}
