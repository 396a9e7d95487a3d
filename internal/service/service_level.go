package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/events"
	"expedite-backend/internal/logger"
	"expedite-backend/internal/payment"
	"expedite-backend/internal/repository"
	"expedite-backend/internal/utils"
)

type serviceLevelService struct {
	tx           repository.TxManager
	cases        repository.CaseRepository
	transactions repository.TransactionRepository
	catalog      repository.CatalogRepository
	payments     PaymentProcessor
	events       events.Publisher
	now          func() time.Time
}

func NewServiceLevelService(
	tx repository.TxManager,
	cases repository.CaseRepository,
	transactions repository.TransactionRepository,
	catalog repository.CatalogRepository,
	payments PaymentProcessor,
	publisher events.Publisher,
) ServiceLevelService {
	return &serviceLevelService{
		tx:           tx,
		cases:        cases,
		transactions: transactions,
		catalog:      catalog,
		payments:     payments,
		events:       publisher,
		now:          time.Now,
	}
}

// billedTypes are the transactions whose fee fields make up what the case has
// paid for its service level so far.
var billedTypes = map[domain.TransactionType]bool{
	domain.TransactionTypeCasePayment:         true,
	domain.TransactionTypeServiceLevelPayment: true,
	domain.TransactionTypeRefund:              true,
}

// ChangeServiceLevel bills the difference between the paid and the new service
// level: a refund when the new level is cheaper, a sale when it costs more.
// A failed charge or refund keeps the old level and records the attempt.
func (s *serviceLevelService) ChangeServiceLevel(ctx context.Context, req ChangeServiceLevelRequest) (*ChangeServiceLevelResult, error) {
	logger.EnterMethod("serviceLevelService.ChangeServiceLevel", "case", req.CaseID, "service_level", req.ServiceLevelID)

	var (
		result  *ChangeServiceLevelResult
		failure error
		pending []events.Event
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		c, err := s.cases.GetByIDForUpdate(ctx, req.CaseID)
		if err != nil {
			return err
		}
		if !c.IsPaid() {
			return fmt.Errorf("%w: %s", domain.ErrCaseNotPaid, c.CaseNo)
		}
		// The level is either the one paid at intake or a change already billed
		// and flagged. A concurrent request for the same change waits on the row
		// lock above and ends here.
		if c.ServiceLevelID == req.ServiceLevelID {
			result = &ChangeServiceLevelResult{Case: c, Action: ChangeActionNone}
			return nil
		}

		current, err := s.catalog.GetServiceLevel(ctx, c.ServiceLevelID)
		if err != nil {
			return fmt.Errorf("current service level: %w", err)
		}
		next, err := s.catalog.GetServiceLevel(ctx, req.ServiceLevelID)
		if err != nil {
			return fmt.Errorf("service level %s: %w", req.ServiceLevelID, err)
		}
		if next.ServiceTypeID != c.ServiceTypeID {
			return fmt.Errorf("%w: service level %s is not offered for this service type", domain.ErrValidation, next.ID)
		}

		txs, err := s.transactions.ListByCase(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("list transactions: %w", err)
		}
		prev := paidForServiceLevel(txs, current)
		delta := utils.Round2(next.Total() - prev)

		result = &ChangeServiceLevelResult{Case: c, Action: ChangeActionSwitched, Delta: delta}
		var outcome *payment.Outcome
		switch {
		case delta < 0:
			outcome, err = s.refund(ctx, c, txs, -delta, req.Host)
			result.Action = ChangeActionRefunded
		case delta > 0:
			outcome, err = s.charge(ctx, c, delta, req)
			result.Action = ChangeActionCharged
		}
		if err != nil {
			return err
		}
		result.Outcome = outcome
		if outcome != nil {
			pending = append(pending, events.Audited(c.CaseNo, outcome.Audits)...)
		}

		now := s.now()
		if outcome != nil && !outcome.Succeeded() {
			if err := s.cases.AppendNotes(ctx, c.ID, outcome.Notes...); err != nil {
				return fmt.Errorf("append notes: %w", err)
			}
			failure = domain.ErrPaymentDeclined
			if outcome.Status == payment.StatusIndeterminate {
				failure = domain.ErrPaymentIndeterminate
			}
			failure = fmt.Errorf("%w: %s", failure, outcome.Message)
			return nil
		}

		switch result.Action {
		case ChangeActionRefunded:
			c.InvoiceInformation = append(c.InvoiceInformation, domain.InvoiceLineItem{
				Service: fmt.Sprintf("Service Level Change Refund (%s to %s)", current.Name, next.Name),
				Price:   delta,
			})
		case ChangeActionCharged:
			c.InvoiceInformation = append(c.InvoiceInformation, domain.InvoiceLineItem{
				Service: fmt.Sprintf("Service Level Upgrade (%s to %s)", current.Name, next.Name),
				Price:   delta,
			})
		}
		if err := s.cases.SwitchServiceLevel(ctx, c.ID, current.ID, c.ServiceLevelUpdated, next.ID); err != nil {
			return err
		}
		c.ServiceLevelID = next.ID
		c.ServiceLevelUpdated = true
		if err := s.cases.Update(ctx, c); err != nil {
			return fmt.Errorf("update case: %w", err)
		}

		notes := []domain.CaseNote{}
		if outcome != nil {
			notes = append(notes, outcome.Notes...)
		}
		notes = append(notes, domain.CaseNote{
			AutoNote:  fmt.Sprintf("Service level changed from <b>%s</b> to <b>%s</b> (%s)", current.Name, next.Name, utils.FormatMoney(delta)),
			Host:      req.Host,
			CreatedAt: now,
		})
		if err := s.cases.AppendNotes(ctx, c.ID, notes...); err != nil {
			return fmt.Errorf("append notes: %w", err)
		}
		c.Notes = append(c.Notes, notes...)

		pending = append(pending, events.ServiceLevelChanged{
			CaseID:      c.ID,
			CaseNo:      c.CaseNo,
			Email:       c.Applicant.Email,
			FirstName:   c.Applicant.FirstName,
			FromLevelID: current.ID,
			ToLevelID:   next.ID,
			ToLevelName: next.Name,
			Delta:       delta,
			OccurredAt:  now,
		})
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("serviceLevelService.ChangeServiceLevel", err)
		return nil, err
	}
	if s.events != nil {
		s.events.Publish(ctx, pending...)
	}
	if failure != nil {
		logger.ExitMethodWithError("serviceLevelService.ChangeServiceLevel", failure)
		return result, failure
	}
	logger.ExitMethod("serviceLevelService.ChangeServiceLevel", "action", result.Action, "delta", result.Delta)
	return result, nil
}

// paidForServiceLevel sums the service level fees of the case's charges and
// refunds. A case paid by offline link has no charge and is taken to have paid
// its current level.
func paidForServiceLevel(txs []domain.Transaction, current *domain.ServiceLevel) float64 {
	var paid float64
	charged := false
	for i := range txs {
		t := &txs[i]
		if !billedTypes[t.Type] {
			continue
		}
		if t.Type == domain.TransactionTypeCasePayment {
			charged = true
		}
		paid += t.ServiceLevelFees()
	}
	if !charged {
		return current.Total()
	}
	return paid
}

func (s *serviceLevelService) refund(ctx context.Context, c *domain.Case, txs []domain.Transaction, amount float64, host string) (*payment.Outcome, error) {
	var original *domain.Transaction
	for i := range txs {
		t := &txs[i]
		if t.Type == domain.TransactionTypeCasePayment && t.Status == domain.TransactionStatusCaptured &&
			utils.Round2(t.Refundable()) >= amount {
			original = t
			break
		}
	}
	if original == nil {
		return nil, fmt.Errorf("%w: no captured payment covers a refund of %s", domain.ErrValidation, utils.FormatMoney(amount))
	}
	return s.payments.Refund(ctx, payment.RefundRequest{
		CaseID:   c.ID,
		CaseNo:   c.CaseNo,
		Original: original,
		Amount:   amount,
		Fees:     payment.FeeAttribution{ServiceFee: -amount},
		Host:     host,
	})
}

func (s *serviceLevelService) charge(ctx context.Context, c *domain.Case, amount float64, req ChangeServiceLevelRequest) (*payment.Outcome, error) {
	if req.Card == nil {
		return nil, fmt.Errorf("%w: a card is required to pay %s", domain.ErrValidation, utils.FormatMoney(amount))
	}
	charge := payment.ChargeRequest{
		CaseID:      c.ID,
		CaseNo:      c.CaseNo,
		AccountID:   c.AccountID,
		Card:        *req.Card,
		Amount:      amount,
		Fees:        payment.FeeAttribution{ServiceFee: amount},
		TxType:      domain.TransactionTypeServiceLevelPayment,
		ProcessorID: c.PaymentProcessorID,
		Host:        req.Host,
	}
	out, err := s.payments.Charge(ctx, charge)
	if errors.Is(err, domain.ErrProcessorInactive) {
		// The original processor was retired; let the load balancer pick one.
		charge.ProcessorID = ""
		return s.payments.Charge(ctx, charge)
	}
	return out, err
}
