// Package events carries domain events from the payment and case flows to
// handlers that run after the database transaction committed.
package events

import (
	"time"

	"expedite-backend/internal/domain"
)

type Name string

const (
	NameCaseCreated         Name = "case.created"
	NamePaymentSucceeded    Name = "payment.succeeded"
	NamePaymentFailed       Name = "payment.failed"
	NameServiceLevelChanged Name = "case.service_level_changed"
	NamePaymentAudited      Name = "payment.audited"
)

type Event interface {
	EventName() Name
	// Key orders events of one case on the stream.
	Key() string
}

type CaseCreated struct {
	CaseID     string    `json:"case_id"`
	CaseNo     string    `json:"case_no"`
	AccountID  string    `json:"account_id"`
	Email      string    `json:"email"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	NewAccount bool      `json:"new_account"`
	OccurredAt time.Time `json:"occurred_at"`
	// TempPassword is only handed to the credentials mail and never serialized.
	TempPassword string              `json:"-"`
	CaseManager  *domain.CaseManager `json:"case_manager,omitempty"`
}

type PaymentSucceeded struct {
	CaseID           string    `json:"case_id"`
	CaseNo           string    `json:"case_no"`
	Email            string    `json:"email"`
	FirstName        string    `json:"first_name"`
	ProcessorName    string    `json:"processor_name,omitempty"`
	Amount           float64   `json:"amount"`
	OfflineLinkToken string    `json:"offline_link_token,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

type PaymentFailed struct {
	CaseID            string    `json:"case_id"`
	CaseNo            string    `json:"case_no"`
	Status            string    `json:"status"`
	FailedTransaction string    `json:"failed_transaction"`
	Reason            string    `json:"reason"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// ServiceLevelChanged is emitted after a delta charge or refund. Delta is
// positive for an upgrade charge and negative for a refund.
type ServiceLevelChanged struct {
	CaseID      string    `json:"case_id"`
	CaseNo      string    `json:"case_no"`
	Email       string    `json:"email"`
	FirstName   string    `json:"first_name"`
	FromLevelID string    `json:"from_level_id"`
	ToLevelID   string    `json:"to_level_id"`
	ToLevelName string    `json:"to_level_name"`
	Delta       float64   `json:"delta"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// PaymentAudited mirrors one gateway attempt to the stream. Handlers for
// mail ignore it.
type PaymentAudited struct {
	domain.PaymentAuditEvent
	CaseNo string `json:"case_no"`
}

// Audited wraps the audit records of one payment outcome.
func Audited(caseNo string, audits []domain.PaymentAuditEvent) []Event {
	out := make([]Event, 0, len(audits))
	for _, a := range audits {
		out = append(out, PaymentAudited{PaymentAuditEvent: a, CaseNo: caseNo})
	}
	return out
}

func (CaseCreated) EventName() Name         { return NameCaseCreated }
func (PaymentSucceeded) EventName() Name    { return NamePaymentSucceeded }
func (PaymentFailed) EventName() Name       { return NamePaymentFailed }
func (ServiceLevelChanged) EventName() Name { return NameServiceLevelChanged }

func (e CaseCreated) Key() string         { return e.CaseID }
func (e PaymentSucceeded) Key() string    { return e.CaseID }
func (e PaymentFailed) Key() string       { return e.CaseID }
func (e ServiceLevelChanged) Key() string { return e.CaseID }

func (PaymentAudited) EventName() Name { return NamePaymentAudited }
func (e PaymentAudited) Key() string   { return e.CaseID }
