package payment

import (
	"expedite-backend/internal/domain"
	"expedite-backend/internal/gateway"
	"expedite-backend/internal/utils"
)

// Amounts is the priced breakdown a strategy splits into gateway legs.
type Amounts struct {
	ServiceFee         float64
	ShippingFee        float64
	NonRefundableFee   float64
	AdditionalServices float64
	ConsularFee        float64
	Discount           float64
	Surcharge          float64
	SuperTotal         float64
}

// FeeAttribution is the fee breakdown stored on the Transaction of one leg.
type FeeAttribution struct {
	ServiceFee            float64
	ProcessingFee         float64
	NonRefundableFee      float64
	OnlineProcessingFee   float64
	AdditionalServicesFee float64
	ConsularFee           float64
	PromoDiscount         float64
}

// LegPlan is one gateway call a strategy wants made.
type LegPlan struct {
	Operation gateway.Operation
	Amount    float64
	Fees      FeeAttribution
}

// ChargeStrategy decides how a case total is split into gateway calls.
type ChargeStrategy interface {
	Name() string
	Legs(a Amounts) []LegPlan
}

// Single charges the whole amount in one call.
type Single struct {
	Op gateway.Operation
}

// AuthNrfCaptureRest authorizes the non-refundable part and sells the rest.
type AuthNrfCaptureRest struct{}

// CaptureBoth sells both parts.
type CaptureBoth struct{}

// AuthorizeBoth authorizes both parts.
type AuthorizeBoth struct{}

func (s Single) Name() string           { return "single-" + string(s.Op) }
func (AuthNrfCaptureRest) Name() string { return "authorize-nrf-capture-service" }
func (CaptureBoth) Name() string        { return "capture-both" }
func (AuthorizeBoth) Name() string      { return "authorize-both" }

func (s Single) Legs(a Amounts) []LegPlan {
	return []LegPlan{wholeLeg(s.Op, a)}
}

func (AuthNrfCaptureRest) Legs(a Amounts) []LegPlan {
	return splitLegs(a, gateway.OperationAuth, gateway.OperationSale)
}

func (CaptureBoth) Legs(a Amounts) []LegPlan {
	return splitLegs(a, gateway.OperationSale, gateway.OperationSale)
}

func (AuthorizeBoth) Legs(a Amounts) []LegPlan {
	return splitLegs(a, gateway.OperationAuth, gateway.OperationAuth)
}

// ResolveStrategy maps a service level's charge mode and auth method onto a strategy.
// authorize_nrf_capture_service always splits, even when double charge is off.
func ResolveStrategy(level *domain.ServiceLevel) ChargeStrategy {
	if level.AuthMethod == domain.AuthMethodAuthorizeNrfCaptureService {
		return AuthNrfCaptureRest{}
	}
	if level.DoubleCharge {
		switch level.AuthMethod {
		case domain.AuthMethodAuthorizeBoth:
			return AuthorizeBoth{}
		default:
			return CaptureBoth{}
		}
	}
	if level.AuthMethod == domain.AuthMethodAuthorizeBoth {
		return Single{Op: gateway.OperationAuth}
	}
	return Single{Op: gateway.OperationSale}
}

func wholeLeg(op gateway.Operation, a Amounts) LegPlan {
	return LegPlan{
		Operation: op,
		Amount:    utils.Round2(a.SuperTotal),
		Fees: FeeAttribution{
			ServiceFee:            a.ServiceFee,
			ProcessingFee:         a.ShippingFee,
			NonRefundableFee:      a.NonRefundableFee,
			OnlineProcessingFee:   utils.Round2(a.Surcharge),
			AdditionalServicesFee: a.AdditionalServices,
			ConsularFee:           a.ConsularFee,
			PromoDiscount:         a.Discount,
		},
	}
}

// splitLegs puts the non-refundable fee and the whole surcharge on the first leg
// and everything else on the second. When either side rounds to zero the charge
// collapses into one leg using the operation of the side that carries money.
func splitLegs(a Amounts, first, second gateway.Operation) []LegPlan {
	total := utils.Round2(a.SuperTotal)
	leg1 := utils.Round2(min(a.NonRefundableFee+a.Surcharge, total))
	leg2 := utils.Round2(total - leg1)

	if leg1 <= 0 {
		return []LegPlan{wholeLeg(second, a)}
	}
	if leg2 <= 0 {
		return []LegPlan{wholeLeg(first, a)}
	}

	return []LegPlan{
		{
			Operation: first,
			Amount:    leg1,
			Fees: FeeAttribution{
				NonRefundableFee:    a.NonRefundableFee,
				OnlineProcessingFee: utils.Round2(a.Surcharge),
			},
		},
		{
			Operation: second,
			Amount:    leg2,
			Fees: FeeAttribution{
				ServiceFee:            a.ServiceFee,
				ProcessingFee:         a.ShippingFee,
				AdditionalServicesFee: a.AdditionalServices,
				ConsularFee:           a.ConsularFee,
				PromoDiscount:         a.Discount,
			},
		},
	}
}
