package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/events"
	"expedite-backend/internal/logger"
	"expedite-backend/internal/metrics"
	"expedite-backend/internal/payment"
	"expedite-backend/internal/repository"
	"expedite-backend/internal/security"
	"expedite-backend/internal/utils"
)

const tempPasswordLength = 12

// CaseDeps are the collaborators of the case service.
type CaseDeps struct {
	Tx           repository.TxManager
	Accounts     repository.AccountRepository
	Cases        repository.CaseRepository
	Catalog      repository.CatalogRepository
	Processors   repository.ProcessorRepository
	OfflineLinks repository.OfflinePaymentLinkRepository
	PaymentAudit repository.PaymentAuditRepository
	Statuses     *StatusLookup
	Managers     *ManagerAssigner
	Duplicates   *DuplicateDetector
	ConsularFees *ConsularFees
	Payments     PaymentProcessor
	Tokens       security.TokenManager
	Events       events.Publisher
	Metrics      *metrics.Metrics
	Settings     payment.Settings
	Now          func() time.Time
}

type caseService struct {
	CaseDeps
}

func NewCaseService(deps CaseDeps) CaseService {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &caseService{CaseDeps: deps}
}

func (s *caseService) GetCase(ctx context.Context, caseID string) (*domain.Case, error) {
	return s.Cases.GetByID(ctx, caseID)
}

func (s *caseService) ListPaymentAudit(ctx context.Context, caseID string) ([]domain.PaymentAuditEvent, error) {
	if _, err := s.Cases.GetByID(ctx, caseID); err != nil {
		return nil, err
	}
	return s.PaymentAudit.ListByCase(ctx, caseID)
}

func (r *CreateCaseRequest) validate(now time.Time) error {
	required := []struct{ name, value string }{
		{"first name", r.Applicant.FirstName},
		{"last name", r.Applicant.LastName},
		{"email", r.Applicant.Email},
		{"date of birth", r.Applicant.DateOfBirth},
		{"service type", r.ServiceTypeID},
		{"service level", r.ServiceLevelID},
		{"citizenship country", r.CitizenshipCountry},
		{"destination country", r.DestinationCountry},
	}
	if r.OfflineLinkToken == "" {
		required = append(required,
			struct{ name, value string }{"card number", r.Card.Number},
			struct{ name, value string }{"card expiry", r.Card.Expiry},
		)
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s is required", domain.ErrValidation, f.name)
		}
	}
	if !strings.Contains(r.Applicant.Email, "@") {
		return fmt.Errorf("%w: email %q is not valid", domain.ErrValidation, r.Applicant.Email)
	}
	if err := utils.ValidateBirthDate(r.Applicant.DateOfBirth, now); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

// intake carries the state of one CreateCase call through the transaction.
type intake struct {
	req          CreateCaseRequest
	account      *domain.Account
	tempPassword string
	newAccount   bool
	manager      *domain.CaseManager
	kase         *domain.Case
	level        *domain.ServiceLevel
	additional   []domain.InvoiceLineItem
	consularFee  float64
	statusIDs    map[string]string
}

// CreateCase runs the whole intake in one transaction. A failed payment still
// commits the case with a failure status so the attempt stays on record.
func (s *caseService) CreateCase(ctx context.Context, req CreateCaseRequest) (*CreateCaseResult, error) {
	logger.EnterMethod("caseService.CreateCase", "email", req.Applicant.Email, "service_level", req.ServiceLevelID)

	now := s.Now()
	req.Applicant.Email = domain.NormalizedEmail(req.Applicant.Email)
	if err := req.validate(now); err != nil {
		logger.ExitMethodWithError("caseService.CreateCase", err)
		return nil, err
	}

	statusIDs, err := s.Statuses.IDs(ctx, domain.StatusKeyNew, domain.StatusKeyFailedCharge, domain.StatusKeyCompleteNotProcessed)
	if err != nil {
		logger.ExitMethodWithError("caseService.CreateCase", err)
		return nil, err
	}

	var (
		result  *CreateCaseResult
		pending []events.Event
	)
	err = s.Tx.WithTx(ctx, func(ctx context.Context) error {
		in := &intake{req: req, statusIDs: statusIDs}

		if err := s.resolveAccount(ctx, in); err != nil {
			return err
		}
		in.manager = s.Managers.Assign(ctx)
		if err := s.findOrCreateCase(ctx, in); err != nil {
			return err
		}
		in.kase.DuplicateCaseIDs = s.Duplicates.Detect(ctx, in.kase)

		level, err := s.Catalog.GetServiceLevel(ctx, req.ServiceLevelID)
		if err != nil {
			return fmt.Errorf("service level %s: %w", req.ServiceLevelID, err)
		}
		in.level = level
		in.additional = pricedServices(req.AdditionalServices)
		in.consularFee = s.ConsularFees.Lookup(ctx, req.ServiceTypeID, req.DestinationCountry)

		var outcome *payment.Outcome
		if req.OfflineLinkToken != "" {
			outcome, err = s.settleOffline(ctx, in)
		} else {
			outcome, err = s.chargeWithRetry(ctx, in)
		}
		if err != nil {
			return err
		}
		pending = append(pending, events.Audited(in.kase.CaseNo, outcome.Audits)...)

		if !outcome.Succeeded() {
			result, err = s.recordFailure(ctx, in, outcome)
			if err != nil {
				return err
			}
			pending = append(pending, events.PaymentFailed{
				CaseID:            in.kase.ID,
				CaseNo:            in.kase.CaseNo,
				Status:            string(outcome.Status),
				FailedTransaction: string(outcome.FailedTransaction),
				Reason:            outcome.Message,
				OccurredAt:        s.Now(),
			})
			return nil
		}

		result, err = s.recordSuccess(ctx, in, outcome)
		if err != nil {
			return err
		}
		pending = append(pending,
			events.CaseCreated{
				CaseID:       in.kase.ID,
				CaseNo:       in.kase.CaseNo,
				AccountID:    in.account.ID,
				Email:        in.account.Email,
				FirstName:    in.account.FirstName,
				LastName:     in.account.LastName,
				NewAccount:   in.newAccount,
				TempPassword: in.tempPassword,
				CaseManager:  in.manager,
				OccurredAt:   s.Now(),
			},
			events.PaymentSucceeded{
				CaseID:           in.kase.ID,
				CaseNo:           in.kase.CaseNo,
				Email:            in.account.Email,
				FirstName:        in.account.FirstName,
				ProcessorName:    outcome.ProcessorName,
				Amount:           outcome.AmountCharged,
				OfflineLinkToken: outcome.OfflineLinkToken,
				OccurredAt:       s.Now(),
			},
		)
		return nil
	})
	if err != nil {
		s.Metrics.CaseCreated("error")
		logger.ExitMethodWithError("caseService.CreateCase", err)
		return nil, err
	}

	if s.Events != nil {
		s.Events.Publish(ctx, pending...)
	}
	if result.Success {
		s.Metrics.CaseCreated("paid")
	} else {
		s.Metrics.CaseCreated("payment_failed")
	}
	logger.ExitMethod("caseService.CreateCase", "case", result.Case.ID, "success", result.Success)
	return result, nil
}

// resolveAccount loads the logged-in account, reuses an inactive account with
// the same email or creates a new inactive one with a temporary password.
func (s *caseService) resolveAccount(ctx context.Context, in *intake) error {
	if in.req.AccountID != "" {
		acct, err := s.Accounts.GetByID(ctx, in.req.AccountID)
		if err != nil {
			return fmt.Errorf("account %s: %w", in.req.AccountID, err)
		}
		in.account = acct
		return nil
	}

	tempPassword, err := security.GenerateTempPassword(tempPasswordLength)
	if err != nil {
		return fmt.Errorf("generate password: %w", err)
	}
	hash, err := security.HashPassword(tempPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	a := in.req.Applicant
	existing, err := s.Accounts.GetByEmail(ctx, a.Email)
	switch {
	case err == nil && existing.IsActive:
		return fmt.Errorf("%w: %s", domain.ErrEmailInUse, a.Email)
	case err == nil:
		existing.FirstName, existing.LastName, existing.PhoneNumber = a.FirstName, a.LastName, a.PhoneNumber
		existing.PasswordHash = hash
		if err := s.Accounts.Update(ctx, existing); err != nil {
			return fmt.Errorf("update account: %w", err)
		}
		in.account = existing
	case errors.Is(err, domain.ErrNotFound):
		acct := &domain.Account{
			Email:        a.Email,
			FirstName:    a.FirstName,
			LastName:     a.LastName,
			PhoneNumber:  a.PhoneNumber,
			PasswordHash: hash,
		}
		if err := s.Accounts.Create(ctx, acct); err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		in.account = acct
	default:
		return fmt.Errorf("lookup account: %w", err)
	}
	in.tempPassword = tempPassword
	in.newAccount = true
	return nil
}

// findOrCreateCase reuses an unpaid case of the same contingent id or identity
// so a resubmitted form never creates a second case.
func (s *caseService) findOrCreateCase(ctx context.Context, in *intake) error {
	req := in.req
	var existing *domain.Case
	if req.ContingentCaseID != "" {
		c, err := s.Cases.FindByContingentID(ctx, req.ContingentCaseID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("find case by contingent id: %w", err)
		}
		existing = c
	}
	if existing == nil {
		c, err := s.Cases.FindByIdentity(ctx, domain.CaseIdentity{
			Applicant:          req.Applicant,
			ServiceTypeID:      req.ServiceTypeID,
			CitizenshipCountry: req.CitizenshipCountry,
			DestinationCountry: req.DestinationCountry,
		})
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("find case by identity: %w", err)
		}
		existing = c
	}

	if existing != nil {
		if existing.IsPaid() {
			return fmt.Errorf("%w: %s", domain.ErrCaseAlreadyPaid, existing.CaseNo)
		}
		existing.AccountID = in.account.ID
		existing.Applicant = req.Applicant
		existing.ServiceLevelID = req.ServiceLevelID
		if existing.ContingentCaseID == "" {
			existing.ContingentCaseID = req.ContingentCaseID
		}
		if existing.CaseManagerID == "" && in.manager != nil {
			existing.CaseManagerID = in.manager.ID
		}
		in.kase = existing
		return nil
	}

	c := &domain.Case{
		AccountID:          in.account.ID,
		ContingentCaseID:   req.ContingentCaseID,
		Applicant:          req.Applicant,
		ServiceTypeID:      req.ServiceTypeID,
		ServiceLevelID:     req.ServiceLevelID,
		CitizenshipCountry: req.CitizenshipCountry,
		DestinationCountry: req.DestinationCountry,
		StatusDate:         s.Now(),
	}
	if in.manager != nil {
		c.CaseManagerID = in.manager.ID
	}
	if err := s.Cases.Create(ctx, c); err != nil {
		return fmt.Errorf("create case: %w", err)
	}
	in.kase = c
	return nil
}

// pricedServices drops any client-sent consular fee; the lookup is authoritative.
func pricedServices(items []domain.InvoiceLineItem) []domain.InvoiceLineItem {
	out := make([]domain.InvoiceLineItem, 0, len(items))
	for _, item := range items {
		if strings.EqualFold(strings.TrimSpace(item.Service), payment.ConsularFeeService) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func (in *intake) paymentLineItems() []domain.InvoiceLineItem {
	items := append([]domain.InvoiceLineItem(nil), in.additional...)
	if in.consularFee > 0 {
		items = append(items, domain.InvoiceLineItem{Service: payment.ConsularFeeService, Price: in.consularFee})
	}
	return items
}

// chargeWithRetry charges the case and, while the first leg is declined, tries
// every other active processor once. Anything past a first-leg decline stops.
func (s *caseService) chargeWithRetry(ctx context.Context, in *intake) (*payment.Outcome, error) {
	req := payment.PaymentRequest{
		CaseID:         in.kase.ID,
		CaseNo:         in.kase.CaseNo,
		AccountID:      in.account.ID,
		ServiceLevelID: in.req.ServiceLevelID,
		ServiceTypeID:  in.req.ServiceTypeID,
		LineItems:      in.paymentLineItems(),
		Card:           in.req.Card,
		PromoCode:      in.req.PromoCode,
		ProcessorID:    in.req.ProcessorID,
		Host:           in.req.Host,
		TxType:         domain.TransactionTypeCasePayment,
	}

	outcome, err := s.Payments.ProcessPayment(ctx, req)
	if err != nil {
		return nil, err
	}
	tried := map[string]bool{outcome.ProcessorID: true}
	notes := append([]domain.CaseNote(nil), outcome.Notes...)
	audits := append([]domain.PaymentAuditEvent(nil), outcome.Audits...)

	for retryable(outcome) {
		next, err := s.nextProcessor(ctx, tried)
		if err != nil {
			return nil, err
		}
		if next == "" {
			break
		}
		tried[next] = true
		logger.Info("Retrying case payment on another processor", "case", in.kase.ID, "processor", next)

		req.ProcessorID = next
		retry, err := s.Payments.ProcessPayment(ctx, req)
		if errors.Is(err, domain.ErrProcessorInactive) {
			continue
		}
		if err != nil {
			return nil, err
		}
		notes = append(notes, retry.Notes...)
		audits = append(audits, retry.Audits...)
		outcome = retry
	}
	outcome.Notes = notes
	outcome.Audits = audits
	return outcome, nil
}

func retryable(o *payment.Outcome) bool {
	return o.Status == payment.StatusDeclined && o.FailedTransaction == payment.FailedLegFirst
}

func (s *caseService) nextProcessor(ctx context.Context, tried map[string]bool) (string, error) {
	active, err := s.Processors.ListActive(ctx)
	if err != nil {
		return "", fmt.Errorf("list active processors: %w", err)
	}
	for _, p := range active {
		if !tried[p.ID] {
			return p.ID, nil
		}
	}
	return "", nil
}

// settleOffline consumes an offline payment link instead of charging a card.
func (s *caseService) settleOffline(ctx context.Context, in *intake) (*payment.Outcome, error) {
	token := in.req.OfflineLinkToken
	link, err := s.OfflineLinks.GetByToken(ctx, token)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown token", domain.ErrOfflineLinkInvalid)
	}
	if err != nil {
		return nil, fmt.Errorf("load offline link: %w", err)
	}
	now := s.Now()
	if !link.Usable(now) {
		return nil, fmt.Errorf("%w: link is inactive, used or expired", domain.ErrOfflineLinkInvalid)
	}
	if link.CaseNo != "" && link.CaseNo != in.kase.CaseNo {
		return nil, fmt.Errorf("%w: link belongs to case %s", domain.ErrOfflineLinkInvalid, link.CaseNo)
	}

	promo, err := payment.LoadPromo(ctx, s.Catalog, in.req.PromoCode)
	if err != nil {
		return nil, err
	}
	price, err := payment.ComputePrice(payment.PriceInput{
		Level:           in.level,
		LineItems:       in.paymentLineItems(),
		Promo:           promo,
		ChargeSurcharge: s.Settings.ChargeOnlineProcessingFee,
		SurchargePct:    s.Settings.OnlineProcessingFeePct,
		Now:             now,
	})
	if err != nil {
		return nil, err
	}
	amount := utils.Round2(link.Amount)
	if math.Abs(amount-utils.Round2(price.SuperTotal)) > 0.01+1e-9 {
		return nil, fmt.Errorf("%w: link amount %s does not match case total %s",
			domain.ErrOfflineLinkInvalid, utils.FormatMoney(amount), utils.FormatMoney(price.SuperTotal))
	}

	if err := s.OfflineLinks.MarkUsed(ctx, token, in.kase.ID, now); err != nil {
		return nil, err
	}
	return &payment.Outcome{
		Status:           payment.StatusSucceeded,
		Strategy:         "offline-link",
		AmountCharged:    amount,
		Price:            price,
		PromoDiscount:    price.PromoDiscount,
		OfflineLinkToken: token,
		Notes: []domain.CaseNote{{
			AutoNote:  fmt.Sprintf("Paid with offline payment link <b>%s</b> (%s)", token, utils.FormatMoney(amount)),
			Host:      in.req.Host,
			CreatedAt: now,
		}},
	}, nil
}

// invoiceLines lists every priced part of the charge in the order shown to
// the applicant. The lines sum to the charged total within a cent.
func (s *caseService) invoiceLines(in *intake, outcome *payment.Outcome) []domain.InvoiceLineItem {
	level := in.level
	lines := append([]domain.InvoiceLineItem(nil), in.additional...)
	lines = append(lines,
		domain.InvoiceLineItem{Service: level.Name + " Service Fee", Price: level.ServiceFee},
		domain.InvoiceLineItem{Service: "Non-Refundable Fee", Price: level.NonRefundableFee},
	)
	if level.InboundFee > 0 {
		lines = append(lines, domain.InvoiceLineItem{Service: "Inbound Shipping Fee", Price: level.InboundFee})
	}
	if level.OutboundFee > 0 {
		lines = append(lines, domain.InvoiceLineItem{Service: "Outbound Shipping Fee", Price: level.OutboundFee})
	}
	if in.consularFee > 0 {
		lines = append(lines, domain.InvoiceLineItem{Service: payment.ConsularFeeService, Price: in.consularFee})
	}
	if price := outcome.Price; price != nil {
		if s.Settings.ChargeOnlineProcessingFee && price.Surcharge > 0 {
			lines = append(lines, domain.InvoiceLineItem{Service: "Online Processing Fee", Price: utils.Round2(price.Surcharge)})
		}
		if price.PromoDiscount > 0 {
			lines = append(lines, domain.InvoiceLineItem{
				Service: fmt.Sprintf("Promo Discount (%s)", strings.ToUpper(strings.TrimSpace(in.req.PromoCode))),
				Price:   -utils.Round2(price.PromoDiscount),
			})
		}
	}
	return lines
}

func deviceNote(req CreateCaseRequest, at time.Time) domain.CaseNote {
	fp := req.DeviceFingerprint
	if fp == "" {
		fp = "unknown"
	}
	return domain.CaseNote{
		AutoNote:  fmt.Sprintf("Payment attempt from device <b>%s</b>", fp),
		Host:      req.Host,
		CreatedAt: at,
	}
}

func (s *caseService) recordFailure(ctx context.Context, in *intake, outcome *payment.Outcome) (*CreateCaseResult, error) {
	now := s.Now()
	statusKey := domain.StatusKeyCompleteNotProcessed
	if retryable(outcome) {
		statusKey = domain.StatusKeyFailedCharge
	}

	c := in.kase
	c.Status = in.statusIDs[statusKey]
	c.SubStatus1 = ""
	c.StatusDate = now
	c.IsAccessible = false
	c.AdditionalServices = in.additional
	if err := s.Cases.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("update case: %w", err)
	}
	notes := append(append([]domain.CaseNote(nil), outcome.Notes...), deviceNote(in.req, now))
	if err := s.Cases.AppendNotes(ctx, c.ID, notes...); err != nil {
		return nil, fmt.Errorf("append notes: %w", err)
	}
	c.Notes = append(c.Notes, notes...)

	msg := "Payment could not be processed"
	if outcome.Status == payment.StatusIndeterminate {
		msg = "Payment outcome could not be confirmed; our team will follow up"
	} else if outcome.Message != "" {
		msg = fmt.Sprintf("Payment declined: %s", outcome.Message)
	}
	logger.Warn("Case payment failed", "case", c.ID, "status", outcome.Status, "failed_leg", outcome.FailedTransaction)
	return &CreateCaseResult{
		Success:      false,
		StatusCode:   http.StatusBadRequest,
		Message:      msg,
		DataRecorded: true,
		Case:         c,
		Outcome:      outcome,
	}, nil
}

func (s *caseService) recordSuccess(ctx context.Context, in *intake, outcome *payment.Outcome) (*CreateCaseResult, error) {
	now := s.Now()
	c := in.kase
	c.Status = in.statusIDs[domain.StatusKeyNew]
	c.SubStatus1 = ""
	c.StatusDate = now
	c.PaymentProcessorID = outcome.ProcessorID
	c.InvoiceInformation = s.invoiceLines(in, outcome)
	c.AdditionalServices = in.additional
	c.CitizenshipCountry = in.req.CitizenshipCountry
	c.DestinationCountry = in.req.DestinationCountry
	c.IsAccessible = true
	c.SubmissionDate = &now
	if err := s.Cases.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("update case: %w", err)
	}

	notes := append([]domain.CaseNote(nil), outcome.Notes...)
	if outcome.ProcessorName != "" {
		notes = append(notes, payment.GatewayNote(in.req.Host, outcome.ProcessorName, now))
	}
	if err := s.Cases.AppendNotes(ctx, c.ID, notes...); err != nil {
		return nil, fmt.Errorf("append notes: %w", err)
	}
	c.Notes = append(c.Notes, notes...)

	if !in.account.IsActive {
		in.account.IsActive = true
		if err := s.Accounts.Update(ctx, in.account); err != nil {
			return nil, fmt.Errorf("activate account: %w", err)
		}
	}

	session, err := s.Tokens.GenerateSessionToken(in.account.ID, in.account.Email)
	if err != nil {
		return nil, fmt.Errorf("issue session token: %w", err)
	}
	paymentToken, err := s.Tokens.GeneratePaymentToken(in.account.ID, c.ID)
	if err != nil {
		return nil, fmt.Errorf("issue payment token: %w", err)
	}

	return &CreateCaseResult{
		Success:      true,
		StatusCode:   http.StatusOK,
		Message:      "Case created",
		DataRecorded: true,
		Case:         c,
		Outcome:      outcome,
		SessionToken: session,
		PaymentToken: paymentToken,
	}, nil
}
