// Package metrics exposes Prometheus instruments for the settlement engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fantasymarket"

// Metrics groups every instrument the engine records.
type Metrics struct {
	ScoringRuns       *prometheus.CounterVec
	ScoringDuration   prometheus.Histogram
	SettlementResults *prometheus.CounterVec
	TransferStatus    *prometheus.CounterVec
	WebhookEvents     *prometheus.CounterVec
	BreakerState      *prometheus.GaugeVec
	RateLimitBlocks   *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ScoringRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scoring_runs_total",
				Help:      "Score aggregation runs by outcome.",
			},
			[]string{"outcome"},
		),
		ScoringDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scoring_duration_seconds",
				Help:      "Duration of score aggregation runs.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		SettlementResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settlement_results_total",
				Help:      "Per-user settlement outcomes.",
			},
			[]string{"action", "outcome"},
		),
		TransferStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfer_transitions_total",
				Help:      "Bridge transfer status transitions.",
			},
			[]string{"from", "to", "source"},
		),
		WebhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bridge_webhook_events_total",
				Help:      "Bridge webhook deliveries by outcome.",
			},
			[]string{"outcome"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuitbreaker_state",
				Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
			},
			[]string{"name"},
		),
		RateLimitBlocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_block_total",
				Help:      "Requests rejected by the rate limiter.",
			},
			[]string{"scope"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route pattern and status code.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "code"},
		),
	}
	reg.MustRegister(
		m.ScoringRuns,
		m.ScoringDuration,
		m.SettlementResults,
		m.TransferStatus,
		m.WebhookEvents,
		m.BreakerState,
		m.RateLimitBlocks,
		m.HTTPDuration,
	)
	return m
}

// ObserveScoring records one aggregation run.
func (m *Metrics) ObserveScoring(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ScoringRuns.WithLabelValues(outcome).Inc()
	m.ScoringDuration.Observe(d.Seconds())
}

// Settlement records one user's settlement result.
func (m *Metrics) Settlement(action, outcome string) {
	if m == nil {
		return
	}
	m.SettlementResults.WithLabelValues(action, outcome).Inc()
}

// Transition records a transfer status change.
func (m *Metrics) Transition(from, to, source string) {
	if m == nil {
		return
	}
	m.TransferStatus.WithLabelValues(from, to, source).Inc()
}

// Webhook records a webhook delivery.
func (m *Metrics) Webhook(outcome string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(outcome).Inc()
}

// Breaker records a circuit breaker state change.
func (m *Metrics) Breaker(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// RateLimited records a rejected request.
func (m *Metrics) RateLimited(scope string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(scope).Inc()
}

// Request records one served HTTP request. route is the matched mux
// pattern, which keeps label cardinality bounded.
func (m *Metrics) Request(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPDuration.WithLabelValues(route, strconv.Itoa(code)).Observe(d.Seconds())
}
