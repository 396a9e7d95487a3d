package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	GatewayCallsTotal      *prometheus.CounterVec
	GatewayCallDuration    *prometheus.HistogramVec
	ChargedAmountTotal     *prometheus.CounterVec
	RefundedAmountTotal    *prometheus.CounterVec
	ProcessorSelections    *prometheus.CounterVec
	PaymentOutcomesTotal   *prometheus.CounterVec
	CasesCreatedTotal      *prometheus.CounterVec
	StatusTransitionsTotal *prometheus.CounterVec
	EventPublishErrors     *prometheus.CounterVec
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GatewayCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_calls_total",
			Help: "Gateway calls by processor, operation and outcome",
		}, []string{"processor", "operation", "outcome"}),
		GatewayCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_call_duration_seconds",
			Help:    "Gateway round-trip latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		ChargedAmountTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_charged_amount_total",
			Help: "Sum of successfully charged amounts",
		}, []string{"processor", "transaction_type"}),
		RefundedAmountTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_refunded_amount_total",
			Help: "Sum of refunded amounts",
		}, []string{"processor"}),
		ProcessorSelections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "load_balancer_selections_total",
			Help: "Processor selections by source (weighted or default)",
		}, []string{"processor", "source"}),
		PaymentOutcomesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_outcomes_total",
			Help: "Payment orchestration outcomes",
		}, []string{"status", "failed_leg"}),
		CasesCreatedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cases_created_total",
			Help: "Case intake results",
		}, []string{"result"}),
		StatusTransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "status_rule_transitions_total",
			Help: "Cases moved by status transition rules",
		}, []string{"rule"}),
		EventPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "event_publish_errors_total",
			Help: "Domain events that could not be published",
		}, []string{"event"}),
	}
}

func (m *Metrics) GatewayCall(processor, operation, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.GatewayCallsTotal.WithLabelValues(processor, operation, outcome).Inc()
	m.GatewayCallDuration.WithLabelValues(operation).Observe(took.Seconds())
}

func (m *Metrics) Charged(processor, txType string, amount float64) {
	if m == nil {
		return
	}
	m.ChargedAmountTotal.WithLabelValues(processor, txType).Add(amount)
}

func (m *Metrics) Refunded(processor string, amount float64) {
	if m == nil {
		return
	}
	m.RefundedAmountTotal.WithLabelValues(processor).Add(amount)
}

func (m *Metrics) ProcessorSelected(processor, source string) {
	if m == nil {
		return
	}
	m.ProcessorSelections.WithLabelValues(processor, source).Inc()
}

func (m *Metrics) PaymentOutcome(status, failedLeg string) {
	if m == nil {
		return
	}
	m.PaymentOutcomesTotal.WithLabelValues(status, failedLeg).Inc()
}

func (m *Metrics) CaseCreated(result string) {
	if m == nil {
		return
	}
	m.CasesCreatedTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) StatusTransitions(rule string, n int64) {
	if m == nil {
		return
	}
	m.StatusTransitionsTotal.WithLabelValues(rule).Add(float64(n))
}

func (m *Metrics) EventPublishFailed(event string) {
	if m == nil {
		return
	}
	m.EventPublishErrors.WithLabelValues(event).Inc()
}
