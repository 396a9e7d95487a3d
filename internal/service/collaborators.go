package service

import (
	"context"
	"errors"
	"fmt"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/logger"
	"expedite-backend/internal/repository"
)

// StatusLookup resolves status keys to ids. A missing key is a configuration
// error and fails the calling operation.
type StatusLookup struct {
	repo repository.StatusRepository
}

func NewStatusLookup(repo repository.StatusRepository) *StatusLookup {
	return &StatusLookup{repo: repo}
}

func (l *StatusLookup) ID(ctx context.Context, key string) (string, error) {
	st, err := l.repo.GetByKey(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", domain.ErrStatusKeyMissing, key)
	}
	if err != nil {
		return "", fmt.Errorf("lookup status %s: %w", key, err)
	}
	return st.ID, nil
}

// IDs resolves several keys at once.
func (l *StatusLookup) IDs(ctx context.Context, keys ...string) (map[string]string, error) {
	ids := make(map[string]string, len(keys))
	for _, key := range keys {
		id, err := l.ID(ctx, key)
		if err != nil {
			return nil, err
		}
		ids[key] = id
	}
	return ids, nil
}

// ManagerAssigner picks the case manager for a new case.
type ManagerAssigner struct {
	repo repository.CaseManagerRepository
}

func NewManagerAssigner(repo repository.CaseManagerRepository) *ManagerAssigner {
	return &ManagerAssigner{repo: repo}
}

// Assign returns nil when no manager is available; intake continues unassigned.
func (a *ManagerAssigner) Assign(ctx context.Context) *domain.CaseManager {
	m, err := a.repo.LeastLoaded(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("Case manager assignment failed", "error", err)
		}
		return nil
	}
	return m
}

// DuplicateDetector flags other cases of the same applicant.
type DuplicateDetector struct {
	repo repository.CaseRepository
}

func NewDuplicateDetector(repo repository.CaseRepository) *DuplicateDetector {
	return &DuplicateDetector{repo: repo}
}

// Detect never fails the caller; errors are logged and reported as no duplicates.
func (d *DuplicateDetector) Detect(ctx context.Context, c *domain.Case) []string {
	ids, err := d.repo.FindPotentialDuplicates(ctx, c.Applicant, c.ID)
	if err != nil {
		logger.Warn("Duplicate case detection failed", "case", c.ID, "error", err)
		return nil
	}
	return ids
}

// ConsularFees looks up the consular fee for a destination.
type ConsularFees struct {
	repo repository.CatalogRepository
}

func NewConsularFees(repo repository.CatalogRepository) *ConsularFees {
	return &ConsularFees{repo: repo}
}

// Lookup is best effort: a missing or failing lookup yields zero.
func (c *ConsularFees) Lookup(ctx context.Context, serviceTypeID, destinationCountry string) float64 {
	fee, err := c.repo.GetConsularFee(ctx, serviceTypeID, destinationCountry)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("Consular fee lookup failed", "service_type", serviceTypeID, "country", destinationCountry, "error", err)
		}
		return 0
	}
	return fee
}
