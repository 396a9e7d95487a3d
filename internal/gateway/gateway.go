// Package gateway submits single transactions to the card gateway. It speaks the
// gateway's legacy form-encoded request and key=value response format and never
// retries on its own.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/logger"
	"expedite-backend/internal/metrics"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

type Operation string

const (
	OperationAuth   Operation = "auth"
	OperationSale   Operation = "sale"
	OperationRefund Operation = "refund"
	OperationVoid   Operation = "void"
)

// MovesMoney reports whether a lost response leaves the charge state unknown.
func (o Operation) MovesMoney() bool {
	return o == OperationAuth || o == OperationSale || o == OperationRefund
}

// ErrCircuitOpen means the request was rejected locally and never sent.
var ErrCircuitOpen = errors.New("gateway circuit open")

const responseApproved = "1"

type Request struct {
	Operation Operation
	Amount    float64
	Card      domain.Card
	// Reference is the case id or case number; it prefixes the order id.
	Reference string
	Account   string
	// TransactionID is the original gateway transaction for refund and void.
	TransactionID string
	Credentials   domain.ProcessorCredentials
}

type Result struct {
	Success       bool
	Response      string
	ResponseCode  string
	Message       string
	TransactionID string
	AmountEcho    string
	OrderID       string
}

type Executor interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

type Client struct {
	endpoint   string
	httpClient *http.Client
	metrics    *metrics.Metrics
	now        func() time.Time

	breakerFailures uint32
	breakerCooldown time.Duration
	mu              sync.Mutex
	breakers        map[string]*gobreaker.CircuitBreaker
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(cl *Client) { cl.now = now }
}

// WithBreaker sets how many consecutive transport failures open a processor's
// breaker and how long it stays open.
func WithBreaker(failures uint32, cooldown time.Duration) Option {
	return func(cl *Client) {
		cl.breakerFailures = failures
		cl.breakerCooldown = cooldown
	}
}

func NewClient(endpoint string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		endpoint:        endpoint,
		httpClient:      &http.Client{Timeout: timeout},
		now:             time.Now,
		breakerFailures: 5,
		breakerCooldown: 30 * time.Second,
		breakers:        map[string]*gobreaker.CircuitBreaker{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) breaker(processorID string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[processorID]; ok {
		return cb
	}
	failures := c.breakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        processorID,
		MaxRequests: 1,
		Timeout:     c.breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Gateway breaker state changed", "processor", name, "from", from.String(), "to", to.String())
		},
	})
	c.breakers[processorID] = cb
	return cb
}

// Execute sends one request. A returned error means no parsed response exists:
// ErrCircuitOpen when nothing was sent, any other error when the outcome is unknown.
func (c *Client) Execute(ctx context.Context, req Request) (*Result, error) {
	form, orderID, err := c.buildForm(req)
	if err != nil {
		return nil, err
	}

	processor := req.Credentials.ProcessorID
	logger.ExternalServiceCall("gateway", string(req.Operation), "processor", processor, "order_id", orderID)
	start := c.now()

	body, err := c.breaker(processor).Execute(func() (interface{}, error) {
		return c.post(ctx, form)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: processor %s", ErrCircuitOpen, processor)
			c.metrics.GatewayCall(req.Credentials.Name, string(req.Operation), string(domain.AuditOutcomeRejected), 0)
		} else {
			c.metrics.GatewayCall(req.Credentials.Name, string(req.Operation), string(domain.AuditOutcomeIndeterminate), time.Since(start))
		}
		logger.ExternalServiceResult("gateway", string(req.Operation), err, "processor", processor)
		return nil, err
	}

	res := ParseResponse(body.(string))
	if res.OrderID == "" {
		res.OrderID = orderID
	}
	outcome := domain.AuditOutcomeDeclined
	if res.Success {
		outcome = domain.AuditOutcomeApproved
	}
	c.metrics.GatewayCall(req.Credentials.Name, string(req.Operation), string(outcome), time.Since(start))
	logger.ExternalServiceResult("gateway", string(req.Operation), nil,
		"processor", processor, "response", res.Response, "response_code", res.ResponseCode)
	return res, nil
}

func (c *Client) buildForm(req Request) (url.Values, string, error) {
	form := url.Values{}
	form.Set("type", string(req.Operation))

	switch req.Operation {
	case OperationAuth, OperationSale:
		form.Set("ccnumber", strings.ReplaceAll(req.Card.Number, " ", ""))
		form.Set("ccexp", req.Card.Expiry)
		form.Set("cvv", req.Card.CVV)
	case OperationRefund, OperationVoid:
		if req.TransactionID == "" {
			return nil, "", fmt.Errorf("%w: %s requires a transaction id", domain.ErrValidation, req.Operation)
		}
		form.Set("transaction_id", req.TransactionID)
	default:
		return nil, "", fmt.Errorf("%w: unknown gateway operation %q", domain.ErrValidation, req.Operation)
	}

	orderID := fmt.Sprintf("%s-%d", req.Reference, c.now().UnixMilli())
	form.Set("orderid", orderID)
	form.Set("amount", FormatAmount(req.Amount))
	if req.Account != "" {
		form.Set("account", req.Account)
	}
	if req.Credentials.SecurityKey != "" {
		form.Set("security_key", req.Credentials.SecurityKey)
	} else {
		form.Set("username", req.Credentials.Username)
		form.Set("password", req.Credentials.Password)
	}
	if req.Card.International {
		form.Set("international", "1")
	}
	return form, orderID, nil
}

func (c *Client) post(ctx context.Context, form url.Values) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return "", fmt.Errorf("gateway returned http %d", resp.StatusCode)
	}
	return string(body), nil
}

// FormatAmount renders an amount with exactly two decimals.
func FormatAmount(amount float64) string {
	return decimal.NewFromFloat(amount).StringFixed(2)
}

// ParseResponse decodes the gateway's "key=value&key=value" body. Missing
// fields stay empty; an empty body yields a synthetic failure.
func ParseResponse(body string) *Result {
	body = strings.TrimSpace(body)
	if body == "" {
		return &Result{Response: "3", Message: "empty gateway response"}
	}

	fields := map[string]string{}
	for _, pair := range strings.Split(body, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		fields[key] = value
	}

	return &Result{
		Success:       fields["response"] == responseApproved,
		Response:      fields["response"],
		ResponseCode:  fields["response_code"],
		Message:       fields["responsetext"],
		TransactionID: fields["transactionid"],
		AmountEcho:    fields["amount"],
		OrderID:       fields["orderid"],
	}
}
