package postgres

import (
	"context"
	"database/sql"
	"time"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/repository"

	"github.com/google/uuid"
)

type paymentAuditRepository struct {
	db *sql.DB
}

func NewPaymentAuditRepository(db *sql.DB) repository.PaymentAuditRepository {
	return &paymentAuditRepository{db: db}
}

func (r *paymentAuditRepository) Create(ctx context.Context, e *domain.PaymentAuditEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO payment_audit_events (id, case_id, processor_id, processor_name, leg, operation, amount, outcome,
			gateway_transaction_id, response_code, message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.CaseID, e.ProcessorID, e.ProcessorName, e.Leg, e.Operation, e.Amount, e.Outcome,
		e.GatewayTransactionID, e.ResponseCode, e.Message, e.CreatedAt)
	return err
}

func (r *paymentAuditRepository) ListByCase(ctx context.Context, caseID string) ([]domain.PaymentAuditEvent, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT id, case_id, processor_id, processor_name, leg, operation, amount, outcome, gateway_transaction_id,
			response_code, message, created_at
		 FROM payment_audit_events WHERE case_id = $1 ORDER BY created_at, leg`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PaymentAuditEvent
	for rows.Next() {
		var e domain.PaymentAuditEvent
		if err := rows.Scan(&e.ID, &e.CaseID, &e.ProcessorID, &e.ProcessorName, &e.Leg, &e.Operation, &e.Amount,
			&e.Outcome, &e.GatewayTransactionID, &e.ResponseCode, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
