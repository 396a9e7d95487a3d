package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"expedite-backend/internal/config"
	"expedite-backend/internal/domain"
	"expedite-backend/internal/logger"
	"expedite-backend/internal/metrics"
	"expedite-backend/internal/repository"
	"expedite-backend/internal/service"

	"golang.org/x/sync/errgroup"
)

// Rule moves cases that sat in one status for longer than After to another
// status. Matching is on the exact status and sub-status, so a rule that has
// already run finds nothing to move.
type Rule struct {
	Name             string
	FromStatus       string
	FromSubStatus    string
	ToStatus         string
	ToSubStatus      string
	After            time.Duration
	MakeInaccessible bool
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

// DefaultRules builds the rule set from the configured thresholds.
func DefaultRules(cfg config.RulesConfig) []Rule {
	return []Rule{
		{
			Name:          "inactive-30-days",
			FromStatus:    domain.StatusKeyNew,
			FromSubStatus: domain.StatusKeyAwaitingDocuments,
			ToStatus:      domain.StatusKeyInactive,
			After:         days(cfg.InactiveAfterDays),
		},
		{
			Name:             "expire-90-days",
			FromStatus:       domain.StatusKeyInactive,
			ToStatus:         domain.StatusKeyExpired,
			After:            days(cfg.ExpireAfterDays),
			MakeInaccessible: true,
		},
		{
			Name:       "abandon-failed-charge",
			FromStatus: domain.StatusKeyFailedCharge,
			ToStatus:   domain.StatusKeyCancelled,
			After:      days(cfg.AbandonFailedChargeDays),
		},
	}
}

// RuleResult is what one rule did in a run.
type RuleResult struct {
	Rule  string
	Moved int64
	Err   error
}

type StatusRules struct {
	cases    repository.CaseRepository
	statuses *service.StatusLookup
	rules    []Rule
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewStatusRules(cases repository.CaseRepository, statuses *service.StatusLookup, rules []Rule, m *metrics.Metrics) *StatusRules {
	return &StatusRules{cases: cases, statuses: statuses, rules: rules, metrics: m, now: time.Now}
}

// Run applies every rule concurrently. A failing rule is logged and reported
// in its result; the other rules still run. The returned error joins all
// rule failures.
func (s *StatusRules) Run(ctx context.Context) ([]RuleResult, error) {
	logger.EnterMethod("StatusRules.Run", "rules", len(s.rules))

	now := s.now().UTC()
	results := make([]RuleResult, len(s.rules))
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for i, rule := range s.rules {
		i, rule := i, rule
		g.Go(func() error {
			moved, err := s.apply(ctx, rule, now)
			results[i] = RuleResult{Rule: rule.Name, Moved: moved, Err: err}
			if err != nil {
				logger.Error("Status rule failed", "rule", rule.Name, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("rule %s: %w", rule.Name, err))
				mu.Unlock()
				return nil
			}
			s.metrics.StatusTransitions(rule.Name, moved)
			logger.Info("Status rule applied", "rule", rule.Name, "moved", moved)
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	if err != nil {
		logger.ExitMethodWithError("StatusRules.Run", err)
		return results, err
	}
	logger.ExitMethod("StatusRules.Run")
	return results, nil
}

func (s *StatusRules) apply(ctx context.Context, rule Rule, now time.Time) (int64, error) {
	keys := []string{rule.FromStatus, rule.ToStatus}
	for _, k := range []string{rule.FromSubStatus, rule.ToSubStatus} {
		if k != "" {
			keys = append(keys, k)
		}
	}
	ids, err := s.statuses.IDs(ctx, keys...)
	if err != nil {
		return 0, err
	}
	return s.cases.BulkTransition(ctx, repository.BulkTransition{
		FromStatusID:     ids[rule.FromStatus],
		FromSubStatusID:  ids[rule.FromSubStatus],
		OlderThan:        now.Add(-rule.After),
		ToStatusID:       ids[rule.ToStatus],
		ToSubStatusID:    ids[rule.ToSubStatus],
		MakeInaccessible: rule.MakeInaccessible,
		Now:              now,
	})
}
