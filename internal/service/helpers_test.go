package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/events"
	"expedite-backend/internal/gateway"
	"expedite-backend/internal/loadbalancer"
	"expedite-backend/internal/payment"
	"expedite-backend/internal/repository/memory"
	"expedite-backend/internal/security"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*gateway.Result)
	return res, args.Error(1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evs ...events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evs...)
}

func (p *recordingPublisher) names() []events.Name {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Name, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventName())
	}
	return out
}

type sentMail struct {
	to, subject, body, caseID string
}

type fakeMailer struct {
	sent []sentMail
	err  error
}

func (m *fakeMailer) SendTemplatedNotification(_ context.Context, to, subject, body, caseID string) error {
	m.sent = append(m.sent, sentMail{to, subject, body, caseID})
	return m.err
}

var testNow = time.Date(2026, 4, 15, 9, 30, 0, 0, time.UTC)

type fixture struct {
	store     *memory.Store
	gw        *MockExecutor
	published *recordingPublisher
	cipher    *security.CredentialCipher
	tokens    security.TokenManager
	cases     CaseService
	levels    ServiceLevelService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	cipher, err := security.NewCredentialCipher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	store := memory.NewStore()
	store.PutServiceType(domain.ServiceType{ID: "type-pp", Code: "PP", Name: "Passport Renewal"})
	for _, l := range []domain.ServiceLevel{
		{ID: "lvl-standard", Name: "Standard", ServiceFee: 100, InboundFee: 10, NonRefundableFee: 20, AuthMethod: domain.AuthMethodCaptureBoth},
		{ID: "lvl-economy", Name: "Economy", ServiceFee: 70, InboundFee: 10, NonRefundableFee: 20},
		{ID: "lvl-rush", Name: "Rush", ServiceFee: 150, InboundFee: 10, NonRefundableFee: 20},
		{ID: "lvl-double", Name: "Double", ServiceFee: 100, InboundFee: 10, NonRefundableFee: 20, DoubleCharge: true},
	} {
		l.ServiceTypeID = "type-pp"
		store.PutServiceLevel(l)
	}
	store.PutCaseManager(domain.CaseManager{ID: "mgr-1", Name: "Dana Reyes", Email: "dana@expedite.test"})

	for _, id := range []string{"proc-a", "proc-b"} {
		key, err := cipher.Encrypt("key-" + id)
		require.NoError(t, err)
		require.NoError(t, store.Processors.Create(ctx, &domain.Processor{
			ID: id, Name: "Gateway " + id, EncryptedSecurityKey: key, IsActive: true, IsDefault: id == "proc-a",
		}))
	}

	clock := func() time.Time { return testNow }
	settings := payment.Settings{ChargeOnlineProcessingFee: true, OnlineProcessingFeePct: 3}
	balancer := loadbalancer.New(store.LoadBalancer, store.Processors, store, cipher, nil)
	gw := &MockExecutor{}
	orch := payment.NewOrchestrator(store.Catalog, store.Transactions, store.PaymentAudit, balancer, gw, settings, payment.WithClock(clock))
	tokens := security.NewTokenManager("test-secret", time.Hour, time.Hour)
	pub := &recordingPublisher{}

	cases := NewCaseService(CaseDeps{
		Tx:           store,
		Accounts:     store.Accounts,
		Cases:        store.Cases,
		Catalog:      store.Catalog,
		Processors:   store.Processors,
		OfflineLinks: store.OfflineLinks,
		PaymentAudit: store.PaymentAudit,
		Statuses:     NewStatusLookup(store.Statuses),
		Managers:     NewManagerAssigner(store.CaseManagers),
		Duplicates:   NewDuplicateDetector(store.Cases),
		ConsularFees: NewConsularFees(store.Catalog),
		Payments:     orch,
		Tokens:       tokens,
		Events:       pub,
		Settings:     settings,
		Now:          clock,
	})
	levels := NewServiceLevelService(store, store.Cases, store.Transactions, store.Catalog, orch, pub)
	levels.(*serviceLevelService).now = clock

	return &fixture{store: store, gw: gw, published: pub, cipher: cipher, tokens: tokens, cases: cases, levels: levels}
}

func approved(id string) *gateway.Result {
	return &gateway.Result{Success: true, Response: "1", ResponseCode: "100", Message: "SUCCESS", TransactionID: id}
}

func declined() *gateway.Result {
	return &gateway.Result{Response: "2", ResponseCode: "200", Message: "DECLINE"}
}

func onProcessor(id string) interface{} {
	return mock.MatchedBy(func(r gateway.Request) bool { return r.Credentials.ProcessorID == id })
}

func caseRequest() CreateCaseRequest {
	return CreateCaseRequest{
		Applicant: domain.Applicant{
			FirstName: "Maya", LastName: "Lindqvist", Email: "Maya.Lindqvist@example.com",
			PhoneNumber: "+1 555 0100", DateOfBirth: "1990-07-21",
		},
		ServiceTypeID:      "type-pp",
		ServiceLevelID:     "lvl-standard",
		CitizenshipCountry: "US",
		DestinationCountry: "US",
		Card:               domain.Card{Number: "4111111111111111", Expiry: "1228", CVV: "123"},
		Host:               "203.0.113.7",
		DeviceFingerprint:  "fp-42",
	}
}

func sumLines(items []domain.InvoiceLineItem) float64 {
	var sum float64
	for _, i := range items {
		sum += i.Price
	}
	return sum
}
