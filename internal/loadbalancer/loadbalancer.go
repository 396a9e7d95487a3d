// Package loadbalancer picks the payment processor for a charge.
//
// Selection is a self-correcting weighted round robin: every call reads the
// shared usage counters fresh from the store and picks the processor furthest
// below its target share. Two concurrent callers may read the same stale
// counts and pick the same processor. That is accepted; the counters only
// shape traffic and the next selections correct the drift.
package loadbalancer

import (
	"context"
	"errors"
	"fmt"
	"math"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/logger"
	"expedite-backend/internal/metrics"
	"expedite-backend/internal/repository"
)

var (
	ErrNoWeightedProcessors = fmt.Errorf("%w: no processor has a weight above zero", domain.ErrNoProcessorAvailable)
	ErrNoActiveProcessors   = fmt.Errorf("%w: no weighted processor is active and no default is usable", domain.ErrNoProcessorAvailable)
)

const weightTolerance = 0.001

// Decrypter opens stored processor credentials.
type Decrypter interface {
	Decrypt(value string) (string, error)
}

type Balancer struct {
	store      repository.LoadBalancerRepository
	processors repository.ProcessorRepository
	tx         repository.TxManager
	cipher     Decrypter
	metrics    *metrics.Metrics
}

func New(store repository.LoadBalancerRepository, processors repository.ProcessorRepository, tx repository.TxManager, cipher Decrypter, m *metrics.Metrics) *Balancer {
	return &Balancer{store: store, processors: processors, tx: tx, cipher: cipher, metrics: m}
}

// SelectProcessor returns decrypted credentials of the processor most below its
// target share, or of the default processor when no weighted processor is active.
func (b *Balancer) SelectProcessor(ctx context.Context) (*domain.ProcessorCredentials, error) {
	logger.EnterMethod("Balancer.SelectProcessor")

	weights, err := b.store.ListWeights(ctx)
	if err != nil {
		return nil, fmt.Errorf("list weights: %w", err)
	}
	weighted := make([]domain.LoadBalancerWeight, 0, len(weights))
	for _, w := range weights {
		if w.Weight > 0 {
			weighted = append(weighted, w)
		}
	}
	if len(weighted) == 0 {
		return b.fallbackToDefault(ctx, ErrNoWeightedProcessors)
	}

	active, err := b.processors.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active processors: %w", err)
	}
	byID := make(map[string]domain.Processor, len(active))
	for _, p := range active {
		byID[p.ID] = p
	}

	candidates := make([]domain.LoadBalancerWeight, 0, len(weighted))
	ids := make([]string, 0, len(weighted))
	for _, w := range weighted {
		if _, ok := byID[w.ProcessorID]; ok {
			candidates = append(candidates, w)
			ids = append(ids, w.ProcessorID)
		}
	}
	if len(candidates) == 0 {
		return b.fallbackToDefault(ctx, ErrNoActiveProcessors)
	}

	usage, err := b.store.EnsureUsage(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load usage: %w", err)
	}

	chosen, ok := pickByDeficit(candidates, usage)
	if !ok {
		return b.fallbackToDefault(ctx, ErrNoActiveProcessors)
	}
	p := byID[chosen]
	creds, err := b.decrypt(&p)
	if err != nil {
		return nil, err
	}
	b.metrics.ProcessorSelected(p.Name, "weighted")
	logger.ExitMethod("Balancer.SelectProcessor", "processor", p.ID)
	return creds, nil
}

// pickByDeficit returns the processor with the largest (target - current share).
// Ties go to the first candidate in weight order.
func pickByDeficit(candidates []domain.LoadBalancerWeight, usage []domain.ProcessorUsage) (string, bool) {
	counts := make(map[string]int64, len(usage))
	var total int64
	for _, u := range usage {
		counts[u.ProcessorID] = u.TransactionCount
		total += u.TransactionCount
	}

	best := ""
	bestDeficit := math.Inf(-1)
	for _, w := range candidates {
		share := 0.0
		if total > 0 {
			share = float64(counts[w.ProcessorID]) / float64(total) * 100
		}
		if deficit := w.Weight - share; deficit > bestDeficit {
			best, bestDeficit = w.ProcessorID, deficit
		}
	}
	return best, best != ""
}

func (b *Balancer) fallbackToDefault(ctx context.Context, cause error) (*domain.ProcessorCredentials, error) {
	p, err := b.processors.GetDefault(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, cause
		}
		return nil, fmt.Errorf("load default processor: %w", err)
	}
	if !p.Usable() {
		return nil, cause
	}
	logger.Warn("Falling back to default processor", "processor", p.ID, "reason", cause)
	creds, err := b.decrypt(p)
	if err != nil {
		return nil, err
	}
	b.metrics.ProcessorSelected(p.Name, "default")
	return creds, nil
}

// CredentialsFor returns decrypted credentials of a specific usable processor.
func (b *Balancer) CredentialsFor(ctx context.Context, processorID string) (*domain.ProcessorCredentials, error) {
	p, err := b.processors.GetByID(ctx, processorID)
	if err != nil {
		return nil, err
	}
	if !p.Usable() {
		return nil, fmt.Errorf("%w: %s", domain.ErrProcessorInactive, processorID)
	}
	b.metrics.ProcessorSelected(p.Name, "explicit")
	return b.decrypt(p)
}

// RefundCredentials returns credentials of the processor an earlier charge ran
// on. Refunds must go back to that processor even when it was deactivated since.
func (b *Balancer) RefundCredentials(ctx context.Context, processorID string) (*domain.ProcessorCredentials, error) {
	p, err := b.processors.GetByID(ctx, processorID)
	if err != nil {
		return nil, err
	}
	if p.IsDeleted {
		return nil, fmt.Errorf("%w: %s is deleted", domain.ErrProcessorInactive, processorID)
	}
	return b.decrypt(p)
}

func (b *Balancer) decrypt(p *domain.Processor) (*domain.ProcessorCredentials, error) {
	creds := &domain.ProcessorCredentials{ProcessorID: p.ID, Name: p.Name}
	fields := []struct {
		enc string
		dst *string
	}{
		{p.EncryptedUsername, &creds.Username},
		{p.EncryptedPassword, &creds.Password},
		{p.EncryptedSecurityKey, &creds.SecurityKey},
	}
	for _, f := range fields {
		if f.enc == "" {
			continue
		}
		plain, err := b.cipher.Decrypt(f.enc)
		if err != nil {
			return nil, fmt.Errorf("decrypt credentials of processor %s: %w", p.ID, err)
		}
		*f.dst = plain
	}
	return creds, nil
}

// IncrementUsage must only be called after a charge actually succeeded.
func (b *Balancer) IncrementUsage(ctx context.Context, processorID string) error {
	return b.store.IncrementUsage(ctx, processorID)
}

func (b *Balancer) ResetUsage(ctx context.Context) error {
	return b.store.ResetUsage(ctx)
}

// ConfigureWeights replaces every weight and resets usage in one transaction.
// Weights must lie in [0,100], reference existing processors and sum to 100.
func (b *Balancer) ConfigureWeights(ctx context.Context, weights []domain.LoadBalancerWeight) error {
	logger.EnterMethod("Balancer.ConfigureWeights", "count", len(weights))

	var sum float64
	seen := map[string]bool{}
	for _, w := range weights {
		if w.Weight < 0 || w.Weight > 100 {
			return fmt.Errorf("%w: weight %v for %s out of range", domain.ErrWeightsInvalid, w.Weight, w.ProcessorID)
		}
		if seen[w.ProcessorID] {
			return fmt.Errorf("%w: processor %s listed twice", domain.ErrWeightsInvalid, w.ProcessorID)
		}
		seen[w.ProcessorID] = true
		sum += w.Weight
	}
	if math.Abs(sum-100) > weightTolerance {
		return fmt.Errorf("%w: got %v", domain.ErrWeightsInvalid, sum)
	}

	err := b.tx.WithTx(ctx, func(ctx context.Context) error {
		for _, w := range weights {
			p, err := b.processors.GetByID(ctx, w.ProcessorID)
			if err != nil {
				return fmt.Errorf("%w: processor %s: %v", domain.ErrWeightsInvalid, w.ProcessorID, err)
			}
			if p.IsDeleted {
				return fmt.Errorf("%w: processor %s is deleted", domain.ErrWeightsInvalid, w.ProcessorID)
			}
		}
		if err := b.store.ReplaceWeights(ctx, weights); err != nil {
			return err
		}
		return b.store.ResetUsage(ctx)
	})
	if err != nil {
		logger.ExitMethodWithError("Balancer.ConfigureWeights", err)
		return err
	}
	logger.ExitMethod("Balancer.ConfigureWeights")
	return nil
}

func (b *Balancer) Weights(ctx context.Context) ([]domain.LoadBalancerWeight, error) {
	return b.store.ListWeights(ctx)
}
