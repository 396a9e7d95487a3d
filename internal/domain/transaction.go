package domain

import "time"

type TransactionType string

const (
	TransactionTypeCasePayment         TransactionType = "casepayment"
	TransactionTypeServiceLevelPayment TransactionType = "serviceLevel-payment"
	TransactionTypeExtraCharge         TransactionType = "extracharge"
	TransactionTypeRefund              TransactionType = "refund"
	TransactionTypeVoid                TransactionType = "void"
)

type TransactionStatus string

const (
	TransactionStatusAuthorized TransactionStatus = "authorized"
	TransactionStatusCaptured   TransactionStatus = "captured"
	TransactionStatusRefunded   TransactionStatus = "refunded"
	TransactionStatusVoided     TransactionStatus = "voided"
)

// RefundOrVoidStatus tracks how much of a transaction has been handed back.
type RefundOrVoidStatus string

const (
	RefundOrVoidNone            RefundOrVoidStatus = ""
	RefundOrVoidPartialRefunded RefundOrVoidStatus = "partially-refunded"
	RefundOrVoidRefunded        RefundOrVoidStatus = "refunded"
	RefundOrVoidVoided          RefundOrVoidStatus = "voided"
)

// Transaction is the immutable record of one successful gateway call.
// ReturnedAmount and RefundOrVoidStatus are the only fields mutated after creation.
type Transaction struct {
	ID                    string             `json:"id"`
	AccountID             string             `json:"account_id"`
	CaseID                string             `json:"case_id"`
	OrderID               string             `json:"order_id"`
	Amount                float64            `json:"amount"`
	CardNumber            string             `json:"card_number"` // masked
	CardExpiry            string             `json:"card_expiry"`
	Type                  TransactionType    `json:"transaction_type"`
	Status                TransactionStatus  `json:"status"`
	GatewayTransactionID  string             `json:"gateway_transaction_id"`
	ProcessorID           string             `json:"processor_id"`
	OriginalTransactionID string             `json:"original_transaction_id,omitempty"`
	ServiceFee            float64            `json:"service_fee"`
	ProcessingFee         float64            `json:"processing_fee"`
	NonRefundableFee      float64            `json:"non_refundable_fee"`
	OnlineProcessingFee   float64            `json:"online_processing_fee"`
	AdditionalServicesFee float64            `json:"additional_services_fee"`
	ConsularFee           float64            `json:"consular_fee"`
	PromoDiscount         float64            `json:"promo_discount"`
	ReturnedAmount        float64            `json:"returned_amount"`
	RefundOrVoidStatus    RefundOrVoidStatus `json:"refund_or_void_status"`
	CreatedAt             time.Time          `json:"created_at"`
}

// ServiceLevelFees is the part of the amount that belongs to the service level,
// which is what the service-level delta biller compares against.
func (t *Transaction) ServiceLevelFees() float64 {
	return t.ServiceFee + t.ProcessingFee + t.NonRefundableFee
}

// Refundable returns the amount that can still be refunded against this transaction.
func (t *Transaction) Refundable() float64 {
	return t.Amount - t.ReturnedAmount
}
