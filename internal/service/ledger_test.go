package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/events"
	"expedite-backend/internal/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCreateCase_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.On("Execute", mock.Anything, onProcessor("proc-a")).Return(approved("gw-1"), nil).Once()

	res, err := f.cases.CreateCase(ctx, caseRequest())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, res.DataRecorded)
	assert.NotEmpty(t, res.SessionToken)
	assert.NotEmpty(t, res.PaymentToken)

	claims, err := f.tokens.ValidateToken(res.PaymentToken)
	require.NoError(t, err)
	assert.Equal(t, res.Case.ID, claims.CaseID)

	c, err := f.store.Cases.GetByID(ctx, res.Case.ID)
	require.NoError(t, err)
	assert.Equal(t, "st-new", c.Status)
	assert.True(t, c.IsAccessible)
	assert.Equal(t, "proc-a", c.PaymentProcessorID)
	assert.Equal(t, "mgr-1", c.CaseManagerID)
	require.NotNil(t, c.SubmissionDate)
	assert.Equal(t, testNow, *c.SubmissionDate)
	assert.Equal(t, "maya.lindqvist@example.com", c.Applicant.Email)

	assert.Equal(t, []domain.InvoiceLineItem{
		{Service: "Standard Service Fee", Price: 100},
		{Service: "Non-Refundable Fee", Price: 20},
		{Service: "Inbound Shipping Fee", Price: 10},
		{Service: "Online Processing Fee", Price: 3.90},
	}, c.InvoiceInformation)
	assert.InDelta(t, res.Outcome.AmountCharged, sumLines(c.InvoiceInformation), 0.01)
	require.NotEmpty(t, c.Notes)
	assert.Contains(t, c.Notes[len(c.Notes)-1].AutoNote, "Gateway proc-a")

	acct, err := f.store.Accounts.GetByID(ctx, c.AccountID)
	require.NoError(t, err)
	assert.True(t, acct.IsActive)

	require.Equal(t, []events.Name{events.NamePaymentAudited, events.NameCaseCreated, events.NamePaymentSucceeded}, f.published.names())
	audited := f.published.events[0].(events.PaymentAudited)
	assert.Equal(t, res.Case.ID, audited.CaseID)
	assert.Equal(t, res.Case.CaseNo, audited.CaseNo)
	assert.Equal(t, domain.AuditOutcomeApproved, audited.Outcome)
	assert.Equal(t, "gw-1", audited.GatewayTransactionID)
	created := f.published.events[1].(events.CaseCreated)
	assert.True(t, created.NewAccount)
	assert.Len(t, created.TempPassword, tempPasswordLength)
	require.NotNil(t, created.CaseManager)
	assert.Equal(t, "mgr-1", created.CaseManager.ID)
}

func TestCreateCase_InvoiceIncludesServicesAndConsularFee(t *testing.T) {
	f := newFixture(t)
	f.store.PutConsularFee("type-pp", "GB", 45)
	f.gw.On("Execute", mock.Anything, mock.Anything).Return(approved("gw-1"), nil).Once()

	req := caseRequest()
	req.DestinationCountry = "GB"
	req.AdditionalServices = []domain.InvoiceLineItem{
		{Service: "Photo Service", Price: 15},
		{Service: "Consular Fee", Price: 999},
	}
	res, err := f.cases.CreateCase(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Success)

	assert.Equal(t, 195.70, res.Outcome.AmountCharged)
	assert.InDelta(t, 195.70, sumLines(res.Case.InvoiceInformation), 0.01)
	assert.Equal(t, domain.InvoiceLineItem{Service: "Photo Service", Price: 15}, res.Case.InvoiceInformation[0])
	assert.Contains(t, res.Case.InvoiceInformation, domain.InvoiceLineItem{Service: "Consular Fee", Price: 45})
}

func TestCreateCase_RetriesNextProcessorAfterFirstLegDecline(t *testing.T) {
	f := newFixture(t)
	f.gw.On("Execute", mock.Anything, onProcessor("proc-a")).Return(declined(), nil).Once()
	f.gw.On("Execute", mock.Anything, onProcessor("proc-b")).Return(approved("gw-b"), nil).Once()

	res, err := f.cases.CreateCase(context.Background(), caseRequest())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "proc-b", res.Case.PaymentProcessorID)
	require.GreaterOrEqual(t, len(res.Case.Notes), 3)
	assert.Contains(t, res.Case.Notes[0].AutoNote, "Payment failed")
	assert.Contains(t, res.Case.Notes[1].AutoNote, "Payment successful")
	f.gw.AssertExpectations(t)
}

func TestCreateCase_AllProcessorsDecline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.On("Execute", mock.Anything, mock.Anything).Return(declined(), nil).Twice()

	res, err := f.cases.CreateCase(ctx, caseRequest())
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.True(t, res.DataRecorded)
	assert.Contains(t, res.Message, "DECLINE")

	c, err := f.store.Cases.GetByID(ctx, res.Case.ID)
	require.NoError(t, err)
	assert.Equal(t, "st-failed-charge", c.Status)
	assert.False(t, c.IsAccessible)
	assert.Empty(t, c.InvoiceInformation)
	assert.Empty(t, c.PaymentProcessorID)
	require.Len(t, c.Notes, 3)
	assert.Contains(t, c.Notes[2].AutoNote, "fp-42")

	acct, err := f.store.Accounts.GetByID(ctx, c.AccountID)
	require.NoError(t, err)
	assert.False(t, acct.IsActive)
	assert.Equal(t, []events.Name{events.NamePaymentAudited, events.NamePaymentAudited, events.NamePaymentFailed}, f.published.names())
	assert.Equal(t, "proc-a", f.published.events[0].(events.PaymentAudited).ProcessorID)
	assert.Equal(t, domain.AuditOutcomeDeclined, f.published.events[1].(events.PaymentAudited).Outcome)
	f.gw.AssertNumberOfCalls(t, "Execute", 2)
}

func TestCreateCase_IndeterminateIsNotRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.On("Execute", mock.Anything, mock.Anything).Return(nil, errors.New("read: connection reset by peer")).Once()

	res, err := f.cases.CreateCase(ctx, caseRequest())
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, payment.StatusIndeterminate, res.Outcome.Status)
	assert.Equal(t, "st-complete-not-processed", res.Case.Status)
	f.gw.AssertNumberOfCalls(t, "Execute", 1)
}

func TestCreateCase_SecondLegFailureIsNotRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.On("Execute", mock.Anything, mock.Anything).Return(approved("gw-1"), nil).Once()
	f.gw.On("Execute", mock.Anything, mock.Anything).Return(declined(), nil).Once()

	req := caseRequest()
	req.ServiceLevelID = "lvl-double"
	res, err := f.cases.CreateCase(ctx, req)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, payment.FailedLegSecond, res.Outcome.FailedTransaction)
	assert.Equal(t, "st-complete-not-processed", res.Case.Status)

	txs, err := f.store.Transactions.ListByCase(ctx, res.Case.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	f.gw.AssertNumberOfCalls(t, "Execute", 2)
}

func TestCreateCase_ResubmissionReusesCase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.On("Execute", mock.Anything, mock.Anything).Return(declined(), nil).Twice()
	f.gw.On("Execute", mock.Anything, mock.Anything).Return(approved("gw-ok"), nil).Once()

	first, err := f.cases.CreateCase(ctx, caseRequest())
	require.NoError(t, err)
	require.False(t, first.Success)

	second, err := f.cases.CreateCase(ctx, caseRequest())
	require.NoError(t, err)
	require.True(t, second.Success)

	assert.Equal(t, first.Case.ID, second.Case.ID)
	assert.Equal(t, first.Case.CaseNo, second.Case.CaseNo)
	assert.Equal(t, first.Case.AccountID, second.Case.AccountID)
	_, err = f.store.Cases.GetByCaseNo(ctx, "EXP-0001002")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	again := caseRequest()
	again.AccountID = second.Case.AccountID
	_, err = f.cases.CreateCase(ctx, again)
	assert.ErrorIs(t, err, domain.ErrCaseAlreadyPaid)

	_, err = f.cases.CreateCase(ctx, caseRequest())
	assert.ErrorIs(t, err, domain.ErrEmailInUse)
}

func TestCreateCase_EmailOfActiveAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Accounts.Create(ctx, &domain.Account{Email: "maya.lindqvist@example.com", IsActive: true}))

	_, err := f.cases.CreateCase(ctx, caseRequest())
	assert.ErrorIs(t, err, domain.ErrEmailInUse)
	f.gw.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestCreateCase_InvalidPromoLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutPromoCode(domain.PromoCode{
		Code: "OLD", IsActive: true, EndDate: testNow.Add(-time.Hour),
		DiscountType: domain.DiscountTypeFlat, DiscountValue: 10,
	})

	req := caseRequest()
	req.PromoCode = "OLD"
	_, err := f.cases.CreateCase(ctx, req)
	assert.ErrorIs(t, err, domain.ErrPromoInvalid)

	_, err = f.store.Accounts.GetByEmail(ctx, "maya.lindqvist@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	f.gw.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	assert.Empty(t, f.published.names())
}

func TestCreateCase_PromoLine(t *testing.T) {
	f := newFixture(t)
	f.store.PutPromoCode(domain.PromoCode{
		Code: "SPRING10", IsActive: true, StartDate: testNow.AddDate(0, -1, 0), EndDate: testNow.AddDate(0, 1, 0),
		DiscountType: domain.DiscountTypePercentage, DiscountValue: 10,
	})
	f.gw.On("Execute", mock.Anything, mock.Anything).Return(approved("gw-1"), nil).Once()

	req := caseRequest()
	req.PromoCode = "spring10"
	res, err := f.cases.CreateCase(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Success)

	lines := res.Case.InvoiceInformation
	assert.Equal(t, domain.InvoiceLineItem{Service: "Promo Discount (SPRING10)", Price: -13}, lines[len(lines)-1])
	// 117 + 3% surcharge
	assert.Equal(t, 120.51, res.Outcome.AmountCharged)
	assert.InDelta(t, 120.51, sumLines(lines), 0.01)
}

func TestCreateCase_OfflineLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.OfflineLinks.Create(ctx, &domain.OfflinePaymentLink{
		Token: "tok-123", Amount: 133.90, IsActive: true, ExpiresAt: testNow.Add(time.Hour),
	}))

	req := caseRequest()
	req.Card = domain.Card{}
	req.OfflineLinkToken = "tok-123"
	res, err := f.cases.CreateCase(ctx, req)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Empty(t, res.Case.PaymentProcessorID)
	assert.NotEmpty(t, res.Case.InvoiceInformation)
	assert.Equal(t, "tok-123", res.Outcome.OfflineLinkToken)
	f.gw.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)

	link, err := f.store.OfflineLinks.GetByToken(ctx, "tok-123")
	require.NoError(t, err)
	require.NotNil(t, link.UsedAt)
	assert.Equal(t, res.Case.ID, link.UsedBy)

	other := caseRequest()
	other.Applicant.FirstName = "Jonas"
	other.Applicant.Email = "jonas.lindqvist@example.com"
	other.Card = domain.Card{}
	other.OfflineLinkToken = "tok-123"
	_, err = f.cases.CreateCase(ctx, other)
	assert.ErrorIs(t, err, domain.ErrOfflineLinkInvalid)
}

func TestCreateCase_OfflineLinkAmountMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.OfflineLinks.Create(ctx, &domain.OfflinePaymentLink{
		Token: "tok-cheap", Amount: 1.00, IsActive: true, ExpiresAt: testNow.Add(time.Hour),
	}))

	req := caseRequest()
	req.Card = domain.Card{}
	req.OfflineLinkToken = "tok-cheap"
	_, err := f.cases.CreateCase(ctx, req)
	assert.ErrorIs(t, err, domain.ErrOfflineLinkInvalid)

	link, err := f.store.OfflineLinks.GetByToken(ctx, "tok-cheap")
	require.NoError(t, err)
	assert.Nil(t, link.UsedAt)
	_, err = f.store.Accounts.GetByEmail(ctx, "maya.lindqvist@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.published.names())
}

func TestCreateCase_OfflineLinkWithPromo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutPromoCode(domain.PromoCode{
		Code: "SPRING10", IsActive: true, StartDate: testNow.AddDate(0, -1, 0), EndDate: testNow.AddDate(0, 1, 0),
		DiscountType: domain.DiscountTypePercentage, DiscountValue: 10,
	})
	require.NoError(t, f.store.OfflineLinks.Create(ctx, &domain.OfflinePaymentLink{
		Token: "tok-promo", Amount: 120.51, IsActive: true, ExpiresAt: testNow.Add(time.Hour),
	}))

	req := caseRequest()
	req.Card = domain.Card{}
	req.PromoCode = "SPRING10"
	req.OfflineLinkToken = "tok-promo"
	res, err := f.cases.CreateCase(ctx, req)
	require.NoError(t, err)
	require.True(t, res.Success)

	assert.Equal(t, 120.51, res.Outcome.AmountCharged)
	lines := res.Case.InvoiceInformation
	assert.Equal(t, domain.InvoiceLineItem{Service: "Promo Discount (SPRING10)", Price: -13}, lines[len(lines)-1])
	assert.InDelta(t, 120.51, sumLines(lines), 0.01)
	f.gw.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestCreateCase_Validation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		modify func(*CreateCaseRequest)
	}{
		{"missing email", func(r *CreateCaseRequest) { r.Applicant.Email = "" }},
		{"bad email", func(r *CreateCaseRequest) { r.Applicant.Email = "maya" }},
		{"future birth date", func(r *CreateCaseRequest) { r.Applicant.DateOfBirth = "2030-01-01" }},
		{"impossible birth date", func(r *CreateCaseRequest) { r.Applicant.DateOfBirth = "1990-02-30" }},
		{"missing card", func(r *CreateCaseRequest) { r.Card.Number = "" }},
		{"missing destination", func(r *CreateCaseRequest) { r.DestinationCountry = " " }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := caseRequest()
			tt.modify(&req)
			_, err := f.cases.CreateCase(context.Background(), req)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestCreateCase_MissingStatusKey(t *testing.T) {
	f := newFixture(t)
	f.store.DeleteStatus(domain.StatusKeyFailedCharge)

	_, err := f.cases.CreateCase(context.Background(), caseRequest())
	assert.ErrorIs(t, err, domain.ErrStatusKeyMissing)
}

func TestListPaymentAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.On("Execute", mock.Anything, onProcessor("proc-a")).Return(declined(), nil).Once()
	f.gw.On("Execute", mock.Anything, onProcessor("proc-b")).Return(approved("gw-b"), nil).Once()

	res, err := f.cases.CreateCase(ctx, caseRequest())
	require.NoError(t, err)

	audit, err := f.cases.ListPaymentAudit(ctx, res.Case.ID)
	require.NoError(t, err)
	require.Len(t, audit, 2)
	assert.Equal(t, domain.AuditOutcomeDeclined, audit[0].Outcome)
	assert.Equal(t, domain.AuditOutcomeApproved, audit[1].Outcome)

	_, err = f.cases.ListPaymentAudit(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
