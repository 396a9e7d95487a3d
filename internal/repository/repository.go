package repository

import (
	"context"
	"time"

	"expedite-backend/internal/domain"
)

// TxManager runs fn inside one database transaction carried on the context.
// Repositories called with that context join the transaction. A nested call
// joins the outer transaction instead of opening a new one.
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	Update(ctx context.Context, account *domain.Account) error
}

// BulkTransition moves every case in (FromStatusID, FromSubStatusID) whose
// status date is before OlderThan to the target status.
type BulkTransition struct {
	FromStatusID     string
	FromSubStatusID  string
	OlderThan        time.Time
	ToStatusID       string
	ToSubStatusID    string
	MakeInaccessible bool
	Now              time.Time
}

type CaseRepository interface {
	// Create stores the case and assigns ID and CaseNo.
	Create(ctx context.Context, c *domain.Case) error
	GetByID(ctx context.Context, id string) (*domain.Case, error)
	// GetByIDForUpdate reads the case and holds it against other writers until
	// the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Case, error)
	GetByCaseNo(ctx context.Context, caseNo string) (*domain.Case, error)
	FindByContingentID(ctx context.Context, contingentID string) (*domain.Case, error)
	FindByIdentity(ctx context.Context, identity domain.CaseIdentity) (*domain.Case, error)
	// FindPotentialDuplicates returns IDs of other cases for the same applicant name and birth date.
	FindPotentialDuplicates(ctx context.Context, applicant domain.Applicant, excludeCaseID string) ([]string, error)
	// Update writes every column except notes, which only AppendNotes changes.
	Update(ctx context.Context, c *domain.Case) error
	// SwitchServiceLevel moves the case from fromLevelID to toLevelID and sets
	// ServiceLevelUpdated, but only while the case still has fromLevelID and
	// the given flag. Otherwise it fails with ErrServiceLevelConflict.
	SwitchServiceLevel(ctx context.Context, caseID, fromLevelID string, wasUpdated bool, toLevelID string) error
	AppendNotes(ctx context.Context, caseID string, notes ...domain.CaseNote) error
	BulkTransition(ctx context.Context, t BulkTransition) (int64, error)
}

type TransactionRepository interface {
	Create(ctx context.Context, tx *domain.Transaction) error
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	ListByCase(ctx context.Context, caseID string) ([]domain.Transaction, error)
	UpdateReturned(ctx context.Context, id string, returnedAmount float64, status domain.RefundOrVoidStatus) error
}

type ProcessorRepository interface {
	Create(ctx context.Context, p *domain.Processor) error
	GetByID(ctx context.Context, id string) (*domain.Processor, error)
	Update(ctx context.Context, p *domain.Processor) error
	// List excludes soft-deleted processors.
	List(ctx context.Context) ([]domain.Processor, error)
	ListActive(ctx context.Context) ([]domain.Processor, error)
	GetDefault(ctx context.Context) (*domain.Processor, error)
	// ClearDefault unsets the default flag on every processor except exceptID.
	ClearDefault(ctx context.Context, exceptID string) error
}

type LoadBalancerRepository interface {
	ListWeights(ctx context.Context) ([]domain.LoadBalancerWeight, error)
	ReplaceWeights(ctx context.Context, weights []domain.LoadBalancerWeight) error
	// EnsureUsage returns a counter per processor, creating missing rows at zero.
	EnsureUsage(ctx context.Context, processorIDs []string) ([]domain.ProcessorUsage, error)
	IncrementUsage(ctx context.Context, processorID string) error
	ResetUsage(ctx context.Context) error
}

type CatalogRepository interface {
	GetServiceLevel(ctx context.Context, id string) (*domain.ServiceLevel, error)
	GetServiceType(ctx context.Context, id string) (*domain.ServiceType, error)
	GetPromoCode(ctx context.Context, code string) (*domain.PromoCode, error)
	GetConsularFee(ctx context.Context, serviceTypeID, destinationCountry string) (float64, error)
}

type StatusRepository interface {
	GetByKey(ctx context.Context, key string) (*domain.Status, error)
}

type OfflinePaymentLinkRepository interface {
	Create(ctx context.Context, link *domain.OfflinePaymentLink) error
	GetByToken(ctx context.Context, token string) (*domain.OfflinePaymentLink, error)
	MarkUsed(ctx context.Context, token, caseID string, usedAt time.Time) error
}

type PaymentAuditRepository interface {
	Create(ctx context.Context, event *domain.PaymentAuditEvent) error
	ListByCase(ctx context.Context, caseID string) ([]domain.PaymentAuditEvent, error)
}

type CaseManagerRepository interface {
	// LeastLoaded returns the active manager with the fewest accessible cases.
	LeastLoaded(ctx context.Context) (*domain.CaseManager, error)
	GetByID(ctx context.Context, id string) (*domain.CaseManager, error)
}
