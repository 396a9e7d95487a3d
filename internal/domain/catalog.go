package domain

import "time"

// AuthMethod is the configured auth strategy of a service level.
type AuthMethod string

const (
	AuthMethodAuthorizeNrfCaptureService AuthMethod = "authorize_nrf_capture_service"
	AuthMethodCaptureBoth                AuthMethod = "capture_both"
	AuthMethodAuthorizeBoth              AuthMethod = "authorize_both"
)

type ServiceType struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// ServiceLevel is a priced processing speed for a service type.
type ServiceLevel struct {
	ID               string     `json:"id"`
	ServiceTypeID    string     `json:"service_type_id"`
	Name             string     `json:"name"`
	ServiceFee       float64    `json:"service_fee"`
	InboundFee       float64    `json:"inbound_fee"`
	OutboundFee      float64    `json:"outbound_fee"`
	NonRefundableFee float64    `json:"non_refundable_fee"`
	DoubleCharge     bool       `json:"double_charge"`
	AuthMethod       AuthMethod `json:"auth_method"`
}

// Total is serviceFee + inbound + outbound + non-refundable fee.
func (l *ServiceLevel) Total() float64 {
	return l.ServiceFee + l.InboundFee + l.OutboundFee + l.NonRefundableFee
}

// ShippingFee is inbound plus outbound shipping.
func (l *ServiceLevel) ShippingFee() float64 {
	return l.InboundFee + l.OutboundFee
}

type DiscountType string

const (
	DiscountTypeFlat       DiscountType = "flat"
	DiscountTypePercentage DiscountType = "percentage"
)

type PromoCode struct {
	ID            string       `json:"id"`
	Code          string       `json:"code"`
	IsActive      bool         `json:"is_active"`
	IsDeleted     bool         `json:"is_deleted"`
	StartDate     time.Time    `json:"start_date"`
	EndDate       time.Time    `json:"end_date"`
	MinAmount     float64      `json:"min_amount"`
	MaxAmount     float64      `json:"max_amount"`
	DiscountType  DiscountType `json:"discount_type"`
	DiscountValue float64      `json:"discount_value"`
}

// Status is an entry of the status lookup table.
type Status struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

const (
	StatusKeyNew                  = "new"
	StatusKeyCompleteNotProcessed = "complete-not-processed"
	StatusKeyFailedCharge         = "failed-charge"
	StatusKeyRefunded             = "refunded"
	StatusKeyVoided               = "voided"
	StatusKeyAwaitingDocuments    = "awaiting-documents"
	StatusKeyInactive             = "inactive"
	StatusKeyExpired              = "expired"
	StatusKeyCancelled            = "cancelled"
)

// OfflinePaymentLink lets a case be marked paid without an online card charge.
type OfflinePaymentLink struct {
	Token     string     `json:"token"`
	CaseNo    string     `json:"case_no,omitempty"`
	Amount    float64    `json:"amount"`
	IsActive  bool       `json:"is_active"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	UsedBy    string     `json:"used_by,omitempty"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
}

func (l *OfflinePaymentLink) Usable(now time.Time) bool {
	return l.IsActive && l.UsedAt == nil && now.Before(l.ExpiresAt)
}
