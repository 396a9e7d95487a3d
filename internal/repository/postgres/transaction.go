package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/logger"
	"expedite-backend/internal/repository"

	"github.com/google/uuid"
)

type transactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) repository.TransactionRepository {
	return &transactionRepository{db: db}
}

const transactionColumns = `id, account_id, case_id, order_id, amount, card_number, card_expiry, type, status,
	gateway_transaction_id, COALESCE(processor_id, ''), COALESCE(original_transaction_id, ''), service_fee, processing_fee,
	non_refundable_fee, online_processing_fee, additional_services_fee, consular_fee, promo_discount,
	returned_amount, refund_or_void_status, created_at`

func (r *transactionRepository) Create(ctx context.Context, t *domain.Transaction) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO transactions (` + transactionColumnsInsert + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`
	logger.DatabaseCall("INSERT", "transactions", "case_id", t.CaseID, "type", t.Type)
	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		t.ID, t.AccountID, t.CaseID, t.OrderID, t.Amount, t.CardNumber, t.CardExpiry, t.Type, t.Status,
		t.GatewayTransactionID, nullString(t.ProcessorID), nullString(t.OriginalTransactionID), t.ServiceFee,
		t.ProcessingFee, t.NonRefundableFee, t.OnlineProcessingFee, t.AdditionalServicesFee, t.ConsularFee,
		t.PromoDiscount, t.ReturnedAmount, t.RefundOrVoidStatus, t.CreatedAt)
	logger.DatabaseResult("INSERT", 1, err)
	return err
}

const transactionColumnsInsert = `id, account_id, case_id, order_id, amount, card_number, card_expiry, type, status,
	gateway_transaction_id, processor_id, original_transaction_id, service_fee, processing_fee,
	non_refundable_fee, online_processing_fee, additional_services_fee, consular_fee, promo_discount,
	returned_amount, refund_or_void_status, created_at`

func (r *transactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if err != nil {
		return nil, notFound(err, "transaction")
	}
	return t, nil
}

func (r *transactionRepository) ListByCase(ctx context.Context, caseID string) ([]domain.Transaction, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE case_id = $1 ORDER BY created_at`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

func (r *transactionRepository) UpdateReturned(ctx context.Context, id string, returned float64, status domain.RefundOrVoidStatus) error {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE transactions SET returned_amount = $1, refund_or_void_status = $2 WHERE id = $3`, returned, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	err := row.Scan(&t.ID, &t.AccountID, &t.CaseID, &t.OrderID, &t.Amount, &t.CardNumber, &t.CardExpiry, &t.Type,
		&t.Status, &t.GatewayTransactionID, &t.ProcessorID, &t.OriginalTransactionID, &t.ServiceFee, &t.ProcessingFee,
		&t.NonRefundableFee, &t.OnlineProcessingFee, &t.AdditionalServicesFee, &t.ConsularFee, &t.PromoDiscount,
		&t.ReturnedAmount, &t.RefundOrVoidStatus, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}
