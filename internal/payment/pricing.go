package payment

import (
	"fmt"
	"strings"
	"time"

	"expedite-backend/internal/domain"
)

// ConsularFeeService is the line item name that carries the consular fee.
const ConsularFeeService = "Consular Fee"

// PriceInput is everything pricing needs besides the promo lookup.
type PriceInput struct {
	Level     *domain.ServiceLevel
	LineItems []domain.InvoiceLineItem
	Promo     *domain.PromoCode
	// SurchargePct is applied only when ChargeSurcharge is set.
	ChargeSurcharge bool
	SurchargePct    float64
	Now             time.Time
}

// Price is the computed breakdown of one case charge. Values keep full
// precision; rounding happens when legs are sent to the gateway.
type Price struct {
	Amounts
	ServiceLevelTotal float64
	Total             float64
	PromoDiscount     float64
}

// ComputePrice sums the service level, additional services and consular fee,
// applies the promo discount and adds the online processing surcharge.
func ComputePrice(in PriceInput) (*Price, error) {
	level := in.Level
	serviceLevelTotal := level.Total()

	var additional, consular float64
	for _, item := range in.LineItems {
		if strings.EqualFold(strings.TrimSpace(item.Service), ConsularFeeService) {
			consular += item.Price
			continue
		}
		additional += item.Price
	}

	total := serviceLevelTotal + additional + consular

	var discount float64
	if in.Promo != nil {
		d, err := PromoDiscount(in.Promo, serviceLevelTotal, in.Now)
		if err != nil {
			return nil, err
		}
		discount = d
	}
	promoDiscount := min(total, discount)
	total = max(total-discount, 0)

	var surcharge float64
	if in.ChargeSurcharge && in.SurchargePct > 0 {
		surcharge = total * in.SurchargePct / 100
	}

	return &Price{
		Amounts: Amounts{
			ServiceFee:         level.ServiceFee,
			ShippingFee:        level.ShippingFee(),
			NonRefundableFee:   level.NonRefundableFee,
			AdditionalServices: additional,
			ConsularFee:        consular,
			Discount:           promoDiscount,
			Surcharge:          surcharge,
			SuperTotal:         total + surcharge,
		},
		ServiceLevelTotal: serviceLevelTotal,
		Total:             total,
		PromoDiscount:     promoDiscount,
	}, nil
}

// PromoDiscount validates a promo code against the service level total and
// returns the discount it grants. MaxAmount 0 means no upper bound.
func PromoDiscount(p *domain.PromoCode, serviceLevelTotal float64, now time.Time) (float64, error) {
	switch {
	case !p.IsActive || p.IsDeleted:
		return 0, fmt.Errorf("%w: %s is not active", domain.ErrPromoInvalid, p.Code)
	case !p.StartDate.IsZero() && now.Before(p.StartDate):
		return 0, fmt.Errorf("%w: %s is not valid yet", domain.ErrPromoInvalid, p.Code)
	case !p.EndDate.IsZero() && now.After(p.EndDate):
		return 0, fmt.Errorf("%w: %s has expired", domain.ErrPromoInvalid, p.Code)
	case serviceLevelTotal < p.MinAmount:
		return 0, fmt.Errorf("%w: %s needs a total of at least %.2f", domain.ErrPromoInvalid, p.Code, p.MinAmount)
	case p.MaxAmount > 0 && serviceLevelTotal > p.MaxAmount:
		return 0, fmt.Errorf("%w: %s allows a total of at most %.2f", domain.ErrPromoInvalid, p.Code, p.MaxAmount)
	}

	switch p.DiscountType {
	case domain.DiscountTypeFlat:
		return min(p.DiscountValue, serviceLevelTotal), nil
	case domain.DiscountTypePercentage:
		return min(serviceLevelTotal*p.DiscountValue/100, serviceLevelTotal), nil
	default:
		return 0, fmt.Errorf("%w: %s has unknown discount type %q", domain.ErrPromoInvalid, p.Code, p.DiscountType)
	}
}
