// Package scheduler runs the recurring invoice trigger on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"invoiceshelf/backend/internal/domain"
	"invoiceshelf/backend/internal/recurring"
)

// Trigger generates every due recurring invoice as of now.
type Trigger interface {
	TriggerRecurring(ctx context.Context, now time.Time) (domain.TriggerResult, error)
}

type Scheduler struct {
	cron     *cron.Cron
	trigger  Trigger
	schedule string
	timeout  time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// New builds a scheduler whose cron expression is evaluated in loc.
// Overlapping runs are skipped rather than queued.
func New(trigger Trigger, schedule string, loc *time.Location, logger zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	cronLogger := cron.PrintfLogger(&logger)
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	return &Scheduler{
		cron:     c,
		trigger:  trigger,
		schedule: schedule,
		timeout:  10 * time.Minute,
		now:      time.Now,
		logger:   logger,
	}
}

// Start registers the trigger job and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.RunOnce); err != nil {
		return fmt.Errorf("schedule recurring trigger %q: %w", s.schedule, err)
	}
	s.logger.Info().Str("schedule", s.schedule).Msg("scheduled recurring invoice job")
	s.cron.Start()
	return nil
}

// Stop stops the cron loop. The returned context is done once a running
// trigger has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce performs a single trigger run tagged as a cron run.
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(recurring.WithSource(context.Background(), "cron"), s.timeout)
	defer cancel()

	s.logger.Info().Msg("running recurring invoice job")
	result, err := s.trigger.TriggerRecurring(ctx, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("recurring invoice job failed")
		return
	}
	s.logger.Info().
		Int("generated", len(result.Generated)).
		Int("failed", len(result.Failed)).
		Int("skipped", len(result.Skipped)).
		Msg("recurring invoice job completed")
}
