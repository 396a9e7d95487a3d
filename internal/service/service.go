package service

import (
	"context"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/payment"
)

type CaseService interface {
	// CreateCase finds or creates the applicant's case and charges it. A declined
	// or unknown payment is a result with Success false, not an error.
	CreateCase(ctx context.Context, req CreateCaseRequest) (*CreateCaseResult, error)
	GetCase(ctx context.Context, caseID string) (*domain.Case, error)
	ListPaymentAudit(ctx context.Context, caseID string) ([]domain.PaymentAuditEvent, error)
}

type ServiceLevelService interface {
	ChangeServiceLevel(ctx context.Context, req ChangeServiceLevelRequest) (*ChangeServiceLevelResult, error)
}

type ProcessorService interface {
	ListProcessors(ctx context.Context) ([]domain.Processor, error)
	GetProcessor(ctx context.Context, id string) (*domain.Processor, error)
	CreateProcessor(ctx context.Context, in ProcessorInput) (*domain.Processor, error)
	UpdateProcessor(ctx context.Context, id string, in ProcessorInput) (*domain.Processor, error)
	DeleteProcessor(ctx context.Context, id string) error
	SetDefaultProcessor(ctx context.Context, id string) (*domain.Processor, error)
}

type OfflineLinkService interface {
	CreateLink(ctx context.Context, caseNo string, amount float64) (*domain.OfflinePaymentLink, error)
	GetLink(ctx context.Context, token string) (*domain.OfflinePaymentLink, error)
}

// PaymentProcessor is the part of the payment orchestrator the services use.
type PaymentProcessor interface {
	ProcessPayment(ctx context.Context, req payment.PaymentRequest) (*payment.Outcome, error)
	Charge(ctx context.Context, req payment.ChargeRequest) (*payment.Outcome, error)
	Refund(ctx context.Context, req payment.RefundRequest) (*payment.Outcome, error)
}

// Mailer sends transactional mail. Callers treat every error as non-fatal.
type Mailer interface {
	SendTemplatedNotification(ctx context.Context, to, subject, htmlBody, caseID string) error
}

type CreateCaseRequest struct {
	// AccountID is set when a logged-in applicant files another case.
	AccountID          string
	Applicant          domain.Applicant
	ContingentCaseID   string
	ServiceTypeID      string
	ServiceLevelID     string
	CitizenshipCountry string
	DestinationCountry string
	// AdditionalServices are the priced additional services and addons.
	AdditionalServices []domain.InvoiceLineItem
	Card               domain.Card
	PromoCode          string
	ProcessorID        string
	OfflineLinkToken   string
	Host               string
	DeviceFingerprint  string
}

type CreateCaseResult struct {
	Success      bool
	StatusCode   int
	Message      string
	DataRecorded bool
	Case         *domain.Case
	Outcome      *payment.Outcome
	SessionToken string
	PaymentToken string
}

type ChangeServiceLevelRequest struct {
	CaseID         string
	ServiceLevelID string
	// Card is required when the new level costs more.
	Card *domain.Card
	Host string
}

type ChangeAction string

const (
	ChangeActionNone     ChangeAction = "none"
	ChangeActionSwitched ChangeAction = "switched"
	ChangeActionCharged  ChangeAction = "charged"
	ChangeActionRefunded ChangeAction = "refunded"
)

type ChangeServiceLevelResult struct {
	Case    *domain.Case
	Action  ChangeAction
	Delta   float64
	Outcome *payment.Outcome
}

type ProcessorInput struct {
	Name             string  `json:"name"`
	Username         string  `json:"username"`
	Password         string  `json:"password"`
	SecurityKey      string  `json:"security_key"`
	IsActive         bool    `json:"is_active"`
	IsDefault        bool    `json:"is_default"`
	TransactionLimit float64 `json:"transaction_limit"`
}
