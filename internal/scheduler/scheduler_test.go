package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoiceshelf/backend/internal/domain"
	"invoiceshelf/backend/internal/logger"
	"invoiceshelf/backend/internal/recurring"
)

type fakeTrigger struct {
	mu      sync.Mutex
	calls   []time.Time
	sources []string
	err     error
}

func (f *fakeTrigger) TriggerRecurring(ctx context.Context, now time.Time) (domain.TriggerResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, now)
	f.sources = append(f.sources, recurring.SourceFrom(ctx))
	return domain.TriggerResult{RanAt: now}, f.err
}

func (f *fakeTrigger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	s := New(&fakeTrigger{}, "not a cron", time.UTC, logger.Discard())
	err := s.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a cron")
}

func TestRunOnceCallsTriggerWithClock(t *testing.T) {
	trigger := &fakeTrigger{}
	s := New(trigger, "@hourly", nil, logger.Discard())
	fixed := time.Date(2025, 3, 1, 0, 5, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.RunOnce()

	require.Equal(t, 1, trigger.count())
	assert.Equal(t, fixed, trigger.calls[0])
	assert.Equal(t, []string{"cron"}, trigger.sources)
}

func TestRunOnceSurvivesTriggerError(t *testing.T) {
	trigger := &fakeTrigger{err: errors.New("database unavailable")}
	s := New(trigger, "@hourly", time.UTC, logger.Discard())

	s.RunOnce()
	s.RunOnce()
	assert.Equal(t, 2, trigger.count())
}

func TestStartRunsJob(t *testing.T) {
	trigger := &fakeTrigger{}
	s := New(trigger, "@every 1s", time.UTC, logger.Discard())
	require.NoError(t, s.Start())
	defer func() { <-s.Stop().Done() }()

	require.Eventually(t, func() bool { return trigger.count() > 0 }, 5*time.Second, 50*time.Millisecond)
}
