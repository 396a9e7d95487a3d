package postgres

import (
	"context"
	"database/sql"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/repository"
)

type catalogRepository struct {
	db *sql.DB
}

func NewCatalogRepository(db *sql.DB) repository.CatalogRepository {
	return &catalogRepository{db: db}
}

func (r *catalogRepository) GetServiceLevel(ctx context.Context, id string) (*domain.ServiceLevel, error) {
	l := &domain.ServiceLevel{}
	query := `SELECT id, service_type_id, name, service_fee, inbound_fee, outbound_fee, non_refundable_fee, double_charge, auth_method
		FROM service_levels WHERE id = $1`
	err := conn(ctx, r.db).QueryRowContext(ctx, query, id).Scan(&l.ID, &l.ServiceTypeID, &l.Name, &l.ServiceFee,
		&l.InboundFee, &l.OutboundFee, &l.NonRefundableFee, &l.DoubleCharge, &l.AuthMethod)
	if err != nil {
		return nil, notFound(err, "service level")
	}
	return l, nil
}

func (r *catalogRepository) GetServiceType(ctx context.Context, id string) (*domain.ServiceType, error) {
	t := &domain.ServiceType{}
	err := conn(ctx, r.db).QueryRowContext(ctx, `SELECT id, code, name FROM service_types WHERE id = $1`, id).
		Scan(&t.ID, &t.Code, &t.Name)
	if err != nil {
		return nil, notFound(err, "service type")
	}
	return t, nil
}

func (r *catalogRepository) GetPromoCode(ctx context.Context, code string) (*domain.PromoCode, error) {
	p := &domain.PromoCode{}
	query := `SELECT id, code, is_active, is_deleted, start_date, end_date, min_amount, max_amount, discount_type, discount_value
		FROM promo_codes WHERE UPPER(code) = UPPER($1) AND NOT is_deleted`
	err := conn(ctx, r.db).QueryRowContext(ctx, query, code).Scan(&p.ID, &p.Code, &p.IsActive, &p.IsDeleted,
		&p.StartDate, &p.EndDate, &p.MinAmount, &p.MaxAmount, &p.DiscountType, &p.DiscountValue)
	if err != nil {
		return nil, notFound(err, "promo code")
	}
	return p, nil
}

func (r *catalogRepository) GetConsularFee(ctx context.Context, serviceTypeID, destinationCountry string) (float64, error) {
	var fee float64
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT fee FROM consular_fees WHERE service_type_id = $1 AND destination_country = $2`,
		serviceTypeID, destinationCountry).Scan(&fee)
	if err != nil {
		return 0, notFound(err, "consular fee")
	}
	return fee, nil
}
