package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/repository"
)

type offlinePaymentLinkRepository struct {
	db *sql.DB
}

func NewOfflinePaymentLinkRepository(db *sql.DB) repository.OfflinePaymentLinkRepository {
	return &offlinePaymentLinkRepository{db: db}
}

func (r *offlinePaymentLinkRepository) Create(ctx context.Context, l *domain.OfflinePaymentLink) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO offline_payment_links (token, case_no, amount, is_active, expires_at, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		l.Token, l.CaseNo, l.Amount, l.IsActive, l.ExpiresAt, l.CreatedAt)
	return err
}

func (r *offlinePaymentLinkRepository) GetByToken(ctx context.Context, token string) (*domain.OfflinePaymentLink, error) {
	l := &domain.OfflinePaymentLink{}
	var usedAt sql.NullTime
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT token, case_no, amount, is_active, used_at, used_by, expires_at, created_at FROM offline_payment_links WHERE token = $1`,
		token).Scan(&l.Token, &l.CaseNo, &l.Amount, &l.IsActive, &usedAt, &l.UsedBy, &l.ExpiresAt, &l.CreatedAt)
	if err != nil {
		return nil, notFound(err, "offline payment link")
	}
	if usedAt.Valid {
		t := usedAt.Time
		l.UsedAt = &t
	}
	return l, nil
}

// MarkUsed only succeeds once per token.
func (r *offlinePaymentLinkRepository) MarkUsed(ctx context.Context, token, caseID string, usedAt time.Time) error {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE offline_payment_links SET used_at = $1, used_by = $2, is_active = FALSE WHERE token = $3 AND used_at IS NULL`,
		usedAt, caseID, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrOfflineLinkInvalid, token)
	}
	return nil
}
