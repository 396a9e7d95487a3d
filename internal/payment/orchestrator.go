// Package payment prices a case, splits the charge into gateway legs and runs
// them against one processor. Declines are returned as Outcome values; errors
// are reserved for validation and system failures.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/gateway"
	"expedite-backend/internal/logger"
	"expedite-backend/internal/metrics"
	"expedite-backend/internal/repository"
	"expedite-backend/internal/utils"

	"github.com/google/uuid"
)

type OutcomeStatus string

const (
	StatusSucceeded OutcomeStatus = "succeeded"
	StatusDeclined  OutcomeStatus = "declined"
	// StatusIndeterminate means a money-moving request may or may not have
	// been processed. It must be reconciled by hand and never retried elsewhere.
	StatusIndeterminate OutcomeStatus = "indeterminate"
)

// FailedLeg names the leg that stopped a charge.
type FailedLeg string

const (
	FailedLegNone   FailedLeg = ""
	FailedLegFirst  FailedLeg = "first"
	FailedLegSecond FailedLeg = "second"
)

// Outcome is the result of one charge, refund or delta sale attempt.
type Outcome struct {
	Status            OutcomeStatus
	FailedTransaction FailedLeg
	Message           string
	ProcessorID       string
	ProcessorName     string
	Strategy          string
	// Transactions holds one record per successful leg, also when a later leg failed.
	Transactions  []domain.Transaction
	Notes         []domain.CaseNote
	AmountCharged float64
	Price         *Price
	PromoDiscount float64
	// OfflineLinkToken is set when the payment was settled by an offline link.
	OfflineLinkToken string
	// Audits holds the audit record of every gateway attempt, in order.
	Audits []domain.PaymentAuditEvent
}

func (o *Outcome) Succeeded() bool { return o.Status == StatusSucceeded }

// ProcessorSelector resolves processor credentials and tracks their usage.
type ProcessorSelector interface {
	SelectProcessor(ctx context.Context) (*domain.ProcessorCredentials, error)
	CredentialsFor(ctx context.Context, processorID string) (*domain.ProcessorCredentials, error)
	RefundCredentials(ctx context.Context, processorID string) (*domain.ProcessorCredentials, error)
	IncrementUsage(ctx context.Context, processorID string) error
}

type Settings struct {
	ChargeOnlineProcessingFee bool
	OnlineProcessingFeePct    float64
}

type Orchestrator struct {
	catalog      repository.CatalogRepository
	transactions repository.TransactionRepository
	audit        repository.PaymentAuditRepository
	selector     ProcessorSelector
	gateway      gateway.Executor
	metrics      *metrics.Metrics
	settings     Settings
	now          func() time.Time
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func NewOrchestrator(
	catalog repository.CatalogRepository,
	transactions repository.TransactionRepository,
	audit repository.PaymentAuditRepository,
	selector ProcessorSelector,
	gw gateway.Executor,
	settings Settings,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		catalog:      catalog,
		transactions: transactions,
		audit:        audit,
		selector:     selector,
		gateway:      gw,
		settings:     settings,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PaymentRequest is the input of ProcessPayment. ProcessorID forces a
// processor instead of asking the load balancer.
type PaymentRequest struct {
	CaseID         string
	CaseNo         string
	AccountID      string
	ServiceLevelID string
	ServiceTypeID  string
	LineItems      []domain.InvoiceLineItem
	Card           domain.Card
	PromoCode      string
	ProcessorID    string
	Host           string
	TxType         domain.TransactionType
}

func (r *PaymentRequest) validate() error {
	required := []struct{ name, value string }{
		{"case id", r.CaseID},
		{"account id", r.AccountID},
		{"service level", r.ServiceLevelID},
		{"service type", r.ServiceTypeID},
		{"card number", r.Card.Number},
		{"card expiry", r.Card.Expiry},
		{"card cvv", r.Card.CVV},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s is required", domain.ErrValidation, f.name)
		}
	}
	return nil
}

func reference(caseID, caseNo string) string {
	if caseNo != "" {
		return caseNo
	}
	return caseID
}

// ProcessPayment prices the case and runs the legs of its charge strategy
// against one processor. The first failing leg stops the charge.
func (o *Orchestrator) ProcessPayment(ctx context.Context, req PaymentRequest) (*Outcome, error) {
	logger.EnterMethod("Orchestrator.ProcessPayment", "case", req.CaseID, "processor", req.ProcessorID)
	out, err := o.processPayment(ctx, req)
	if err != nil {
		logger.ExitMethodWithError("Orchestrator.ProcessPayment", err)
		return nil, err
	}
	logger.ExitMethod("Orchestrator.ProcessPayment", "status", out.Status, "failed_leg", out.FailedTransaction)
	return out, nil
}

func (o *Orchestrator) processPayment(ctx context.Context, req PaymentRequest) (*Outcome, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.TxType == "" {
		req.TxType = domain.TransactionTypeCasePayment
	}

	level, err := o.catalog.GetServiceLevel(ctx, req.ServiceLevelID)
	if err != nil {
		return nil, fmt.Errorf("service level %s: %w", req.ServiceLevelID, err)
	}
	if _, err := o.catalog.GetServiceType(ctx, req.ServiceTypeID); err != nil {
		return nil, fmt.Errorf("service type %s: %w", req.ServiceTypeID, err)
	}
	if level.ServiceTypeID != "" && level.ServiceTypeID != req.ServiceTypeID {
		return nil, fmt.Errorf("%w: service level %s does not belong to service type %s", domain.ErrValidation, level.ID, req.ServiceTypeID)
	}

	promo, err := LoadPromo(ctx, o.catalog, req.PromoCode)
	if err != nil {
		return nil, err
	}

	price, err := ComputePrice(PriceInput{
		Level:           level,
		LineItems:       req.LineItems,
		Promo:           promo,
		ChargeSurcharge: o.settings.ChargeOnlineProcessingFee,
		SurchargePct:    o.settings.OnlineProcessingFeePct,
		Now:             o.now(),
	})
	if err != nil {
		return nil, err
	}

	creds, err := o.chargeCredentials(ctx, req.ProcessorID)
	if err != nil {
		return nil, err
	}

	strategy := ResolveStrategy(level)
	out := o.runLegs(ctx, legRun{
		caseID:    req.CaseID,
		reference: reference(req.CaseID, req.CaseNo),
		accountID: req.AccountID,
		card:      req.Card,
		host:      req.Host,
		txType:    req.TxType,
		creds:     creds,
		legs:      strategy.Legs(price.Amounts),
	})
	if out.err != nil {
		return nil, out.err
	}
	out.Strategy = strategy.Name()
	out.Price = price
	out.PromoDiscount = price.PromoDiscount
	return out.Outcome, nil
}

// LoadPromo resolves a promo code. Blank means no promo; an unknown code is
// ErrPromoInvalid. Validity against the case total is checked by ComputePrice.
func LoadPromo(ctx context.Context, catalog repository.CatalogRepository, code string) (*domain.PromoCode, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	promo, err := catalog.GetPromoCode(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown code %s", domain.ErrPromoInvalid, code)
	}
	if err != nil {
		return nil, fmt.Errorf("load promo code: %w", err)
	}
	return promo, nil
}

// ChargeRequest is a single sale outside the case pricing, used for
// service-level upgrades.
type ChargeRequest struct {
	CaseID      string
	CaseNo      string
	AccountID   string
	Card        domain.Card
	Amount      float64
	Fees        FeeAttribution
	TxType      domain.TransactionType
	ProcessorID string
	Host        string
}

// Charge runs one sale for an explicit amount.
func (o *Orchestrator) Charge(ctx context.Context, req ChargeRequest) (*Outcome, error) {
	logger.EnterMethod("Orchestrator.Charge", "case", req.CaseID, "amount", req.Amount)
	out, err := o.charge(ctx, req)
	if err != nil {
		logger.ExitMethodWithError("Orchestrator.Charge", err)
		return nil, err
	}
	logger.ExitMethod("Orchestrator.Charge", "status", out.Status)
	return out, nil
}

func (o *Orchestrator) charge(ctx context.Context, req ChargeRequest) (*Outcome, error) {
	if strings.TrimSpace(req.Card.Number) == "" || strings.TrimSpace(req.Card.Expiry) == "" {
		return nil, fmt.Errorf("%w: card number and expiry are required", domain.ErrValidation)
	}
	amount := utils.Round2(req.Amount)
	if amount <= 0 {
		return nil, fmt.Errorf("%w: charge amount must be positive", domain.ErrValidation)
	}
	if req.TxType == "" {
		req.TxType = domain.TransactionTypeServiceLevelPayment
	}

	creds, err := o.chargeCredentials(ctx, req.ProcessorID)
	if err != nil {
		return nil, err
	}
	out := o.runLegs(ctx, legRun{
		caseID:    req.CaseID,
		reference: reference(req.CaseID, req.CaseNo),
		accountID: req.AccountID,
		card:      req.Card,
		host:      req.Host,
		txType:    req.TxType,
		creds:     creds,
		legs:      []LegPlan{{Operation: gateway.OperationSale, Amount: amount, Fees: req.Fees}},
	})
	if out.err != nil {
		return nil, out.err
	}
	out.Strategy = Single{Op: gateway.OperationSale}.Name()
	return out.Outcome, nil
}

// RefundRequest returns Amount against an earlier transaction. Fees is stored on
// the refund record; a service-level refund carries a negative ServiceFee.
type RefundRequest struct {
	CaseID   string
	CaseNo   string
	Original *domain.Transaction
	Amount   float64
	Fees     FeeAttribution
	Host     string
}

// Refund sends a refund to the processor the original transaction ran on and
// updates the original's returned amount on success.
func (o *Orchestrator) Refund(ctx context.Context, req RefundRequest) (*Outcome, error) {
	logger.EnterMethod("Orchestrator.Refund", "case", req.CaseID, "amount", req.Amount)
	out, err := o.refund(ctx, req)
	if err != nil {
		logger.ExitMethodWithError("Orchestrator.Refund", err)
		return nil, err
	}
	logger.ExitMethod("Orchestrator.Refund", "status", out.Status)
	return out, nil
}

func (o *Orchestrator) refund(ctx context.Context, req RefundRequest) (*Outcome, error) {
	orig := req.Original
	if orig == nil || orig.GatewayTransactionID == "" {
		return nil, fmt.Errorf("%w: refund needs an original gateway transaction", domain.ErrValidation)
	}
	amount := utils.Round2(req.Amount)
	if amount <= 0 {
		return nil, fmt.Errorf("%w: refund amount must be positive", domain.ErrValidation)
	}
	if amount > utils.Round2(orig.Refundable()) {
		return nil, fmt.Errorf("%w: refund of %.2f exceeds refundable %.2f on %s", domain.ErrValidation, amount, orig.Refundable(), orig.ID)
	}

	creds, err := o.selector.RefundCredentials(ctx, orig.ProcessorID)
	if err != nil {
		return nil, fmt.Errorf("refund processor: %w", err)
	}

	out := &Outcome{ProcessorID: creds.ProcessorID, ProcessorName: creds.Name, Strategy: string(gateway.OperationRefund)}
	res, status, cause := o.send(ctx, out, gateway.Request{
		Operation:     gateway.OperationRefund,
		Amount:        amount,
		Reference:     reference(req.CaseID, req.CaseNo),
		Account:       orig.AccountID,
		TransactionID: orig.GatewayTransactionID,
		Credentials:   *creds,
	}, req.CaseID, 1)
	at := o.now()

	if status != StatusSucceeded {
		out.Status = status
		out.FailedTransaction = FailedLegFirst
		out.Message = cause
		out.Notes = append(out.Notes, refundNote(req.Host, creds.Name, amount, "", false, cause, at))
		o.metrics.PaymentOutcome(string(status), string(FailedLegFirst))
		return out, nil
	}

	refund := domain.Transaction{
		ID:                    uuid.NewString(),
		AccountID:             orig.AccountID,
		CaseID:                req.CaseID,
		OrderID:               res.OrderID,
		Amount:                amount,
		CardNumber:            orig.CardNumber,
		CardExpiry:            orig.CardExpiry,
		Type:                  domain.TransactionTypeRefund,
		Status:                domain.TransactionStatusRefunded,
		GatewayTransactionID:  res.TransactionID,
		ProcessorID:           creds.ProcessorID,
		OriginalTransactionID: orig.ID,
		CreatedAt:             at,
	}
	applyFees(&refund, req.Fees)
	if err := o.transactions.Create(ctx, &refund); err != nil {
		return nil, fmt.Errorf("record refund: %w", err)
	}

	returned := utils.Round2(orig.ReturnedAmount + amount)
	state := domain.RefundOrVoidPartialRefunded
	if returned >= utils.Round2(orig.Amount) {
		state = domain.RefundOrVoidRefunded
	}
	if err := o.transactions.UpdateReturned(ctx, orig.ID, returned, state); err != nil {
		return nil, fmt.Errorf("update original transaction: %w", err)
	}

	out.Status = StatusSucceeded
	out.Transactions = append(out.Transactions, refund)
	out.AmountCharged = -amount
	out.Notes = append(out.Notes, refundNote(req.Host, creds.Name, amount, res.TransactionID, true, "", at))
	o.metrics.Refunded(creds.Name, amount)
	o.metrics.PaymentOutcome(string(StatusSucceeded), "")
	return out, nil
}

func (o *Orchestrator) chargeCredentials(ctx context.Context, processorID string) (*domain.ProcessorCredentials, error) {
	if processorID != "" {
		creds, err := o.selector.CredentialsFor(ctx, processorID)
		if err != nil {
			return nil, fmt.Errorf("processor %s: %w", processorID, err)
		}
		return creds, nil
	}
	creds, err := o.selector.SelectProcessor(ctx)
	if err != nil {
		return nil, fmt.Errorf("select processor: %w", err)
	}
	return creds, nil
}

type legRun struct {
	caseID    string
	reference string
	accountID string
	card      domain.Card
	host      string
	txType    domain.TransactionType
	creds     *domain.ProcessorCredentials
	legs      []LegPlan
}

type runResult struct {
	*Outcome
	err error
}

// runLegs executes legs in order. Every attempt produces a note and an audit
// event; every approved leg is persisted before the next leg starts.
func (o *Orchestrator) runLegs(ctx context.Context, run legRun) runResult {
	out := &Outcome{ProcessorID: run.creds.ProcessorID, ProcessorName: run.creds.Name}
	total := len(run.legs)

	for i, leg := range run.legs {
		n := i + 1
		res, status, cause := o.send(ctx, out, gateway.Request{
			Operation:   leg.Operation,
			Amount:      leg.Amount,
			Card:        run.card,
			Reference:   run.reference,
			Account:     run.accountID,
			Credentials: *run.creds,
		}, run.caseID, n)
		at := o.now()

		if status != StatusSucceeded {
			failed := FailedLegFirst
			if n == 2 {
				failed = FailedLegSecond
			}
			out.Status = status
			out.FailedTransaction = failed
			out.Message = cause
			if status == StatusIndeterminate {
				out.Notes = append(out.Notes, indeterminateNote(run.host, run.creds.Name, n, total, leg.Operation, leg.Amount, errors.New(cause), at))
			} else {
				out.Notes = append(out.Notes, failureNote(run.host, run.creds.Name, n, total, leg.Operation, leg.Amount, cause, at))
			}
			o.metrics.PaymentOutcome(string(status), string(failed))
			return runResult{Outcome: out}
		}

		out.Notes = append(out.Notes, successNote(run.host, run.creds.Name, n, total, leg.Operation, leg.Amount, res.TransactionID, at))

		txStatus := domain.TransactionStatusCaptured
		if leg.Operation == gateway.OperationAuth {
			txStatus = domain.TransactionStatusAuthorized
		}
		tx := domain.Transaction{
			ID:                   uuid.NewString(),
			AccountID:            run.accountID,
			CaseID:               run.caseID,
			OrderID:              res.OrderID,
			Amount:               leg.Amount,
			CardNumber:           run.card.Masked(),
			CardExpiry:           run.card.Expiry,
			Type:                 run.txType,
			Status:               txStatus,
			GatewayTransactionID: res.TransactionID,
			ProcessorID:          run.creds.ProcessorID,
			CreatedAt:            at,
		}
		applyFees(&tx, leg.Fees)
		if err := o.transactions.Create(ctx, &tx); err != nil {
			return runResult{err: fmt.Errorf("record %s leg %d (gateway transaction %s): %w", leg.Operation, n, res.TransactionID, err)}
		}
		out.Transactions = append(out.Transactions, tx)
		out.AmountCharged = utils.Round2(out.AmountCharged + leg.Amount)

		if err := o.selector.IncrementUsage(ctx, run.creds.ProcessorID); err != nil {
			logger.Error("Failed to increment processor usage", "processor", run.creds.ProcessorID, "error", err)
		}
		o.metrics.Charged(run.creds.Name, string(run.txType), leg.Amount)
	}

	out.Status = StatusSucceeded
	o.metrics.PaymentOutcome(string(StatusSucceeded), "")
	return runResult{Outcome: out}
}

// send executes one gateway request, writes its audit event and appends it to
// out. The returned string is the failure reason for anything but StatusSucceeded.
func (o *Orchestrator) send(ctx context.Context, out *Outcome, req gateway.Request, caseID string, leg int) (*gateway.Result, OutcomeStatus, string) {
	res, err := o.gateway.Execute(ctx, req)

	event := &domain.PaymentAuditEvent{
		ID:            uuid.NewString(),
		CaseID:        caseID,
		ProcessorID:   req.Credentials.ProcessorID,
		ProcessorName: req.Credentials.Name,
		Leg:           leg,
		Operation:     string(req.Operation),
		Amount:        req.Amount,
		CreatedAt:     o.now(),
	}

	var (
		status OutcomeStatus
		reason string
	)
	switch {
	case errors.Is(err, gateway.ErrCircuitOpen):
		status, reason = StatusDeclined, "gateway unavailable, request not sent"
		event.Outcome = domain.AuditOutcomeRejected
		event.Message = err.Error()
	case err != nil && req.Operation.MovesMoney():
		status, reason = StatusIndeterminate, err.Error()
		event.Outcome = domain.AuditOutcomeIndeterminate
		event.Message = err.Error()
	case err != nil:
		status, reason = StatusDeclined, err.Error()
		event.Outcome = domain.AuditOutcomeDeclined
		event.Message = err.Error()
	case !res.Success:
		status, reason = StatusDeclined, declineReason(res)
		event.Outcome = domain.AuditOutcomeDeclined
		event.ResponseCode = res.ResponseCode
		event.Message = res.Message
		event.GatewayTransactionID = res.TransactionID
	default:
		status = StatusSucceeded
		event.Outcome = domain.AuditOutcomeApproved
		event.ResponseCode = res.ResponseCode
		event.Message = res.Message
		event.GatewayTransactionID = res.TransactionID
	}

	if caseID != "" {
		if aerr := o.audit.Create(ctx, event); aerr != nil {
			logger.Error("Failed to write payment audit event", "case", caseID, "leg", leg, "error", aerr)
		}
	}
	out.Audits = append(out.Audits, *event)
	return res, status, reason
}

func declineReason(res *gateway.Result) string {
	if res.Message != "" {
		return res.Message
	}
	return "declined with response " + res.Response
}

func applyFees(tx *domain.Transaction, f FeeAttribution) {
	tx.ServiceFee = f.ServiceFee
	tx.ProcessingFee = f.ProcessingFee
	tx.NonRefundableFee = f.NonRefundableFee
	tx.OnlineProcessingFee = f.OnlineProcessingFee
	tx.AdditionalServicesFee = f.AdditionalServicesFee
	tx.ConsularFee = f.ConsularFee
	tx.PromoDiscount = f.PromoDiscount
}
