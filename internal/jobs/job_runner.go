package jobs

import (
	"context"
	"time"

	"expedite-backend/internal/config"
	"expedite-backend/internal/logger"
)

// JobRunner coordinates the scheduled jobs
type JobRunner struct {
	rules   *StatusRules
	config  *config.Config
	timeout time.Duration
}

// NewJobRunner creates a job runner for the status rules
func NewJobRunner(rules *StatusRules, cfg *config.Config) *JobRunner {
	return &JobRunner{rules: rules, config: cfg, timeout: 10 * time.Minute}
}

func (jr *JobRunner) Config() *config.Config {
	return jr.config
}

// runWithRecovery wraps job execution with panic recovery
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", "job", jobName, "panic", r)
		}
	}()

	logger.Info("Starting job", "job", jobName)
	jobFunc()
	logger.Info("Job completed", "job", jobName)
}

// RunStatusRules applies the status transition rules once.
func (jr *JobRunner) RunStatusRules() {
	jr.runWithRecovery("StatusRules", func() {
		ctx, cancel := context.WithTimeout(context.Background(), jr.timeout)
		defer cancel()
		if _, err := jr.rules.Run(ctx); err != nil {
			logger.Error("Status rules finished with failures", "error", err)
		}
	})
}

// RunJob runs a job by name for manual execution. It reports whether the name is known.
func (jr *JobRunner) RunJob(name string) bool {
	switch name {
	case "status-rules":
		jr.RunStatusRules()
		return true
	}
	return false
}
