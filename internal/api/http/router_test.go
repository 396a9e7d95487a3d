package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/payment"
	"expedite-backend/internal/security"
	"expedite-backend/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCaseService struct{ mock.Mock }

func (m *MockCaseService) CreateCase(ctx context.Context, req service.CreateCaseRequest) (*service.CreateCaseResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*service.CreateCaseResult)
	return res, args.Error(1)
}

func (m *MockCaseService) GetCase(ctx context.Context, id string) (*domain.Case, error) {
	args := m.Called(ctx, id)
	c, _ := args.Get(0).(*domain.Case)
	return c, args.Error(1)
}

func (m *MockCaseService) ListPaymentAudit(ctx context.Context, id string) ([]domain.PaymentAuditEvent, error) {
	args := m.Called(ctx, id)
	ev, _ := args.Get(0).([]domain.PaymentAuditEvent)
	return ev, args.Error(1)
}

type MockServiceLevelService struct{ mock.Mock }

func (m *MockServiceLevelService) ChangeServiceLevel(ctx context.Context, req service.ChangeServiceLevelRequest) (*service.ChangeServiceLevelResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*service.ChangeServiceLevelResult)
	return res, args.Error(1)
}

type MockProcessorService struct{ mock.Mock }

func (m *MockProcessorService) ListProcessors(ctx context.Context) ([]domain.Processor, error) {
	args := m.Called(ctx)
	ps, _ := args.Get(0).([]domain.Processor)
	return ps, args.Error(1)
}

func (m *MockProcessorService) GetProcessor(ctx context.Context, id string) (*domain.Processor, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*domain.Processor)
	return p, args.Error(1)
}

func (m *MockProcessorService) CreateProcessor(ctx context.Context, in service.ProcessorInput) (*domain.Processor, error) {
	args := m.Called(ctx, in)
	p, _ := args.Get(0).(*domain.Processor)
	return p, args.Error(1)
}

func (m *MockProcessorService) UpdateProcessor(ctx context.Context, id string, in service.ProcessorInput) (*domain.Processor, error) {
	args := m.Called(ctx, id, in)
	p, _ := args.Get(0).(*domain.Processor)
	return p, args.Error(1)
}

func (m *MockProcessorService) DeleteProcessor(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockProcessorService) SetDefaultProcessor(ctx context.Context, id string) (*domain.Processor, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*domain.Processor)
	return p, args.Error(1)
}

type MockWeights struct{ mock.Mock }

func (m *MockWeights) Weights(ctx context.Context) ([]domain.LoadBalancerWeight, error) {
	args := m.Called(ctx)
	w, _ := args.Get(0).([]domain.LoadBalancerWeight)
	return w, args.Error(1)
}

func (m *MockWeights) ConfigureWeights(ctx context.Context, weights []domain.LoadBalancerWeight) error {
	return m.Called(ctx, weights).Error(0)
}

type MockOfflineLinkService struct{ mock.Mock }

func (m *MockOfflineLinkService) CreateLink(ctx context.Context, caseNo string, amount float64) (*domain.OfflinePaymentLink, error) {
	args := m.Called(ctx, caseNo, amount)
	l, _ := args.Get(0).(*domain.OfflinePaymentLink)
	return l, args.Error(1)
}

func (m *MockOfflineLinkService) GetLink(ctx context.Context, token string) (*domain.OfflinePaymentLink, error) {
	args := m.Called(ctx, token)
	l, _ := args.Get(0).(*domain.OfflinePaymentLink)
	return l, args.Error(1)
}

type testServer struct {
	cases      *MockCaseService
	levels     *MockServiceLevelService
	processors *MockProcessorService
	weights    *MockWeights
	links      *MockOfflineLinkService
	tokens     security.TokenManager
	handler    http.Handler
	adminToken string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		cases:      &MockCaseService{},
		levels:     &MockServiceLevelService{},
		processors: &MockProcessorService{},
		weights:    &MockWeights{},
		links:      &MockOfflineLinkService{},
		tokens:     security.NewTokenManager("router-test-secret", time.Hour, time.Hour),
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "router_test_total", Help: "test"}))
	ts.handler = NewRouter(Services{
		Cases:        ts.cases,
		Levels:       ts.levels,
		Processors:   ts.processors,
		Weights:      ts.weights,
		OfflineLinks: ts.links,
	}, ts.tokens, reg)

	token, err := ts.tokens.GenerateAdminToken("admin-1", "ops@expedite.test")
	require.NoError(t, err)
	ts.adminToken = token
	return ts
}

func (ts *testServer) do(method, path, body, token string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "198.51.100.4:51234"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

type response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	var r response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r), rec.Body.String())
	return r
}

const createCaseJSON = `{
	"applicant": {"first_name": "Maya", "last_name": "Lindqvist", "email": "maya@example.com", "date_of_birth": "1990-07-21"},
	"service_type_id": "type-pp", "service_level_id": "lvl-standard",
	"citizenship_country": "US", "destination_country": "US",
	"card": {"number": "4111111111111111", "expiry": "1228", "cvv": "123"}
}`

func TestCreateCase_Success(t *testing.T) {
	ts := newTestServer(t)
	ts.cases.On("CreateCase", mock.Anything, mock.MatchedBy(func(r service.CreateCaseRequest) bool {
		return r.Applicant.Email == "maya@example.com" && r.Host == "198.51.100.4" && r.Card.CVV == "123"
	})).Return(&service.CreateCaseResult{
		Success: true, StatusCode: http.StatusOK, Message: "Case created", DataRecorded: true,
		Case:         &domain.Case{ID: "case-1", CaseNo: "EXP-0001001", InvoiceInformation: []domain.InvoiceLineItem{{Service: "Standard Service Fee", Price: 100}}},
		Outcome:      &payment.Outcome{Status: payment.StatusSucceeded, AmountCharged: 133.90},
		SessionToken: "sess", PaymentToken: "pay",
	}, nil)

	rec := ts.do(http.MethodPost, "/api/v1/cases", createCaseJSON, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	var data createCaseData
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.True(t, data.DataRecorded)
	assert.Equal(t, "EXP-0001001", data.CaseNo)
	assert.Equal(t, 133.90, data.AmountCharged)
	assert.Equal(t, "succeeded", data.PaymentStatus)
}

func TestCreateCase_DeclinedStillReportsDataRecorded(t *testing.T) {
	ts := newTestServer(t)
	ts.cases.On("CreateCase", mock.Anything, mock.Anything).Return(&service.CreateCaseResult{
		StatusCode: http.StatusBadRequest, Message: "Payment declined: DECLINE", DataRecorded: true,
		Case:    &domain.Case{ID: "case-1", CaseNo: "EXP-0001001"},
		Outcome: &payment.Outcome{Status: payment.StatusDeclined, FailedTransaction: payment.FailedLegFirst},
	}, nil)

	rec := ts.do(http.MethodPost, "/api/v1/cases", createCaseJSON, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "Payment declined: DECLINE", resp.Message)
	assert.Contains(t, string(resp.Data), `"dataRecorded":true`)
	assert.Contains(t, string(resp.Data), `"failedTransaction":"first"`)
}

func TestCreateCase_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", fmt.Errorf("%w: email is required", domain.ErrValidation), http.StatusBadRequest},
		{"promo", domain.ErrPromoInvalid, http.StatusBadRequest},
		{"already paid", domain.ErrCaseAlreadyPaid, http.StatusConflict},
		{"no processor", domain.ErrNoProcessorAvailable, http.StatusServiceUnavailable},
		{"unexpected", fmt.Errorf("pq: connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.cases.On("CreateCase", mock.Anything, mock.Anything).Return(nil, tt.err)

			rec := ts.do(http.MethodPost, "/api/v1/cases", createCaseJSON, "")
			assert.Equal(t, tt.status, rec.Code)
			resp := decodeResponse(t, rec)
			assert.False(t, resp.Success)
			assert.Contains(t, string(resp.Data), `"dataRecorded":false`)
			assert.NotContains(t, resp.Message, "pq:")
		})
	}
}

func TestCreateCase_MalformedBody(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPost, "/api/v1/cases", `{"unknown_field": 1}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	ts.cases.AssertNotCalled(t, "CreateCase", mock.Anything, mock.Anything)
}

func TestAdminRoutesRequireAdminToken(t *testing.T) {
	ts := newTestServer(t)
	session, err := ts.tokens.GenerateSessionToken("acct-1", "maya@example.com")
	require.NoError(t, err)

	rec := ts.do(http.MethodGet, "/api/v1/admin/processors", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/admin/processors", "", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/admin/processors", "", session)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	ts.processors.AssertNotCalled(t, "ListProcessors", mock.Anything)
}

func TestListProcessors_HidesCredentials(t *testing.T) {
	ts := newTestServer(t)
	ts.processors.On("ListProcessors", mock.Anything).Return([]domain.Processor{
		{ID: "proc-a", Name: "Harbor Pay", IsActive: true, IsDefault: true, EncryptedSecurityKey: "aa:bb"},
	}, nil)

	rec := ts.do(http.MethodGet, "/api/v1/admin/processors", "", ts.adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "aa:bb")
	assert.Contains(t, rec.Body.String(), `"has_security_key":true`)
}

func TestProcessorAdmin(t *testing.T) {
	ts := newTestServer(t)
	in := service.ProcessorInput{Name: "Harbor Pay", SecurityKey: "k", IsActive: true}
	ts.processors.On("CreateProcessor", mock.Anything, in).Return(&domain.Processor{ID: "proc-new", Name: "Harbor Pay", IsActive: true}, nil)
	ts.processors.On("DeleteProcessor", mock.Anything, "proc-a").Return(fmt.Errorf("%w: Harbor Pay", domain.ErrDefaultProcessor))
	ts.processors.On("SetDefaultProcessor", mock.Anything, "missing").Return(nil, domain.ErrNotFound)

	rec := ts.do(http.MethodPost, "/api/v1/admin/processors", `{"name":"Harbor Pay","security_key":"k","is_active":true}`, ts.adminToken)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(http.MethodDelete, "/api/v1/admin/processors/proc-a", "", ts.adminToken)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(http.MethodPost, "/api/v1/admin/processors/missing/default", "", ts.adminToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfigureWeights(t *testing.T) {
	ts := newTestServer(t)
	want := []domain.LoadBalancerWeight{{ProcessorID: "proc-a", Weight: 70}, {ProcessorID: "proc-b", Weight: 30}}
	ts.weights.On("ConfigureWeights", mock.Anything, want).Return(nil).Once()
	ts.weights.On("ConfigureWeights", mock.Anything, mock.Anything).Return(fmt.Errorf("%w: got 90", domain.ErrWeightsInvalid)).Once()

	body := `{"weights":[{"processor_id":"proc-a","weight":70},{"processor_id":"proc-b","weight":30}]}`
	rec := ts.do(http.MethodPut, "/api/v1/admin/load-balancer/weights", body, ts.adminToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPut, "/api/v1/admin/load-balancer/weights", strings.Replace(body, "30", "20", 1), ts.adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChangeServiceLevel(t *testing.T) {
	ts := newTestServer(t)
	ts.levels.On("ChangeServiceLevel", mock.Anything, mock.MatchedBy(func(r service.ChangeServiceLevelRequest) bool {
		return r.CaseID == "case-1" && r.ServiceLevelID == "lvl-rush" && r.Card != nil
	})).Return(&service.ChangeServiceLevelResult{
		Case: &domain.Case{ServiceLevelID: "lvl-rush"}, Action: service.ChangeActionCharged, Delta: 50,
		Outcome: &payment.Outcome{Status: payment.StatusSucceeded},
	}, nil)

	body := `{"service_level_id":"lvl-rush","card":{"number":"4111111111111111","expiry":"1228","cvv":"123"}}`
	rec := ts.do(http.MethodPost, "/api/v1/cases/case-1/service-level", body, ts.adminToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"action":"charged"`)
}

func TestChangeServiceLevel_Declined(t *testing.T) {
	ts := newTestServer(t)
	ts.levels.On("ChangeServiceLevel", mock.Anything, mock.Anything).Return(&service.ChangeServiceLevelResult{
		Case: &domain.Case{ServiceLevelID: "lvl-standard"}, Action: service.ChangeActionCharged, Delta: 50,
		Outcome: &payment.Outcome{Status: payment.StatusDeclined},
	}, fmt.Errorf("%w: DECLINE", domain.ErrPaymentDeclined))

	rec := ts.do(http.MethodPost, "/api/v1/cases/case-1/service-level", `{"service_level_id":"lvl-rush"}`, ts.adminToken)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)
	assert.Contains(t, string(resp.Data), `"serviceLevelId":"lvl-standard"`)
}

func TestPaymentAudit(t *testing.T) {
	ts := newTestServer(t)
	ts.cases.On("ListPaymentAudit", mock.Anything, "case-1").Return([]domain.PaymentAuditEvent{
		{ID: "ev-1", CaseID: "case-1", Outcome: domain.AuditOutcomeDeclined},
	}, nil)
	ts.cases.On("ListPaymentAudit", mock.Anything, "case-2").Return(nil, nil)

	rec := ts.do(http.MethodGet, "/api/v1/cases/case-1/payment-audit", "", ts.adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outcome":"declined"`)

	rec = ts.do(http.MethodGet, "/api/v1/cases/case-2/payment-audit", "", ts.adminToken)
	assert.Contains(t, rec.Body.String(), `"data":[]`)
}

func TestOfflineLinks(t *testing.T) {
	ts := newTestServer(t)
	ts.links.On("CreateLink", mock.Anything, "EXP-0001001", 133.9).Return(&domain.OfflinePaymentLink{Token: "tok", Amount: 133.9}, nil)
	ts.links.On("GetLink", mock.Anything, "nope").Return(nil, domain.ErrNotFound)

	rec := ts.do(http.MethodPost, "/api/v1/admin/offline-links", `{"case_no":"EXP-0001001","amount":133.9}`, ts.adminToken)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"token":"tok"`)

	rec = ts.do(http.MethodGet, "/api/v1/admin/offline-links/nope", "", ts.adminToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = ts.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "router_test_total")
}

func TestRecovererAndRequestID(t *testing.T) {
	h := requestID(recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
}

func TestClientHost(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4000"
	assert.Equal(t, "10.0.0.1", clientHost(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientHost(req))
}
