package scheduler

import (
	"testing"
	"time"

	"expedite-backend/internal/config"
	"expedite-backend/internal/jobs"
	"expedite-backend/internal/repository/memory"
	"expedite-backend/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunner(schedule string) *jobs.JobRunner {
	store := memory.NewStore()
	cfg := &config.Config{Scheduler: config.SchedulerConfig{StatusRules: schedule}}
	rules := jobs.NewStatusRules(store.Cases, service.NewStatusLookup(store.Statuses), jobs.DefaultRules(cfg.Rules), nil)
	return jobs.NewJobRunner(rules, cfg)
}

func TestNewScheduler(t *testing.T) {
	s, err := NewScheduler(newRunner("0 0 */12 * * *"))
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	entries := s.Entries()
	require.Len(t, entries, 1)
	next := entries[0].Next.UTC()
	assert.Zero(t, next.Minute())
	assert.Zero(t, next.Second())
	assert.Contains(t, []int{0, 12}, next.Hour())
	assert.WithinDuration(t, time.Now(), next, 12*time.Hour)
}

func TestNewScheduler_InvalidSchedule(t *testing.T) {
	_, err := NewScheduler(newRunner("every twelve hours"))
	assert.Error(t, err)
}
