package domain

import (
	"strings"
	"time"
)

// Card is the payment card as received from the applicant. Only the masked
// number and expiry are ever persisted.
type Card struct {
	Number        string `json:"number"`
	Expiry        string `json:"expiry"`
	CVV           string `json:"cvv"`
	International bool   `json:"international"`
}

// Masked returns the card number with everything but the last four digits hidden.
func (c Card) Masked() string {
	digits := strings.ReplaceAll(c.Number, " ", "")
	if len(digits) <= 4 {
		return digits
	}
	return strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}

// AuditOutcome is the structured result of one gateway attempt.
type AuditOutcome string

const (
	AuditOutcomeApproved      AuditOutcome = "approved"
	AuditOutcomeDeclined      AuditOutcome = "declined"
	AuditOutcomeIndeterminate AuditOutcome = "indeterminate"
	AuditOutcomeRejected      AuditOutcome = "rejected" // never sent, e.g. circuit open
)

// PaymentAuditEvent is the queryable twin of the human-readable payment note.
type PaymentAuditEvent struct {
	ID                   string       `json:"id"`
	CaseID               string       `json:"case_id"`
	ProcessorID          string       `json:"processor_id"`
	ProcessorName        string       `json:"processor_name"`
	Leg                  int          `json:"leg"`
	Operation            string       `json:"operation"`
	Amount               float64      `json:"amount"`
	Outcome              AuditOutcome `json:"outcome"`
	GatewayTransactionID string       `json:"gateway_transaction_id,omitempty"`
	ResponseCode         string       `json:"response_code,omitempty"`
	Message              string       `json:"message,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
}
