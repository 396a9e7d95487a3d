package postgres

import (
	"context"
	"database/sql"
	"time"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/logger"
	"expedite-backend/internal/repository"

	"github.com/lib/pq"
)

type loadBalancerRepository struct {
	db *sql.DB
}

func NewLoadBalancerRepository(db *sql.DB) repository.LoadBalancerRepository {
	return &loadBalancerRepository{db: db}
}

func (r *loadBalancerRepository) ListWeights(ctx context.Context) ([]domain.LoadBalancerWeight, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT processor_id, weight FROM load_balancer_weights ORDER BY processor_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LoadBalancerWeight
	for rows.Next() {
		var w domain.LoadBalancerWeight
		if err := rows.Scan(&w.ProcessorID, &w.Weight); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *loadBalancerRepository) ReplaceWeights(ctx context.Context, weights []domain.LoadBalancerWeight) error {
	db := conn(ctx, r.db)
	if _, err := db.ExecContext(ctx, `DELETE FROM load_balancer_weights`); err != nil {
		return err
	}
	for _, w := range weights {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO load_balancer_weights (processor_id, weight) VALUES ($1, $2)`, w.ProcessorID, w.Weight); err != nil {
			return err
		}
	}
	return nil
}

func (r *loadBalancerRepository) EnsureUsage(ctx context.Context, processorIDs []string) ([]domain.ProcessorUsage, error) {
	db := conn(ctx, r.db)
	now := time.Now().UTC()
	if _, err := db.ExecContext(ctx,
		`INSERT INTO processor_usage (processor_id, transaction_count, last_updated)
		 SELECT UNNEST($1::text[]), 0, $2
		 ON CONFLICT (processor_id) DO NOTHING`, pq.Array(processorIDs), now); err != nil {
		return nil, err
	}

	logger.DatabaseCall("SELECT", "processor_usage", "processors", len(processorIDs))
	rows, err := db.QueryContext(ctx,
		`SELECT processor_id, transaction_count, last_updated FROM processor_usage WHERE processor_id = ANY($1)`,
		pq.Array(processorIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProcessorUsage
	for rows.Next() {
		var u domain.ProcessorUsage
		if err := rows.Scan(&u.ProcessorID, &u.TransactionCount, &u.LastUpdated); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *loadBalancerRepository) IncrementUsage(ctx context.Context, processorID string) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO processor_usage (processor_id, transaction_count, last_updated) VALUES ($1, 1, $2)
		 ON CONFLICT (processor_id) DO UPDATE SET transaction_count = processor_usage.transaction_count + 1, last_updated = $2`,
		processorID, time.Now().UTC())
	return err
}

func (r *loadBalancerRepository) ResetUsage(ctx context.Context) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE processor_usage SET transaction_count = 0, last_updated = $1`, time.Now().UTC())
	return err
}
