package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_submissions_total",
			Help: "Total number of delivery requests handled by the gateway (count)",
		},
		[]string{"status"},
	)

	SubmissionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_submission_duration_ms",
			Help:    "Submission handling duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"status"},
	)

	DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_attempts_total",
			Help: "Total number of delivery attempts (count)",
		},
		[]string{"channel", "outcome"},
	)

	DeliveryTerminalTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_terminal_total",
			Help: "Total number of messages reaching a terminal status (count)",
		},
		[]string{"channel", "status"},
	)

	DeliveryRetriesScheduled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_retries_scheduled_total",
			Help: "Total number of backoff retries scheduled (count)",
		},
		[]string{"channel"},
	)

	LogEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsink_events_total",
			Help: "Total number of log events routed by the sink (count)",
		},
		[]string{"store"},
	)

	LogPrimaryHealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "logsink_primary_healthy",
			Help: "Whether the primary log store is considered healthy (1=healthy, 0=unhealthy)",
		},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of consumer processing retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failed requests through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests seen by the rate limiter (count)",
		},
		[]string{"status"},
	)
)

var (
	gatewayOnce  sync.Once
	deliveryOnce sync.Once
	logsinkOnce  sync.Once
	brokerOnce   sync.Once
	breakerOnce  sync.Once
)

func RegisterGatewayMetrics() {
	gatewayOnce.Do(func() {
		prometheus.MustRegister(SubmissionsTotal, SubmissionDuration, RateLimitRequestsTotal)
	})
}

func RegisterDeliveryMetrics() {
	deliveryOnce.Do(func() {
		prometheus.MustRegister(DeliveryAttemptsTotal, DeliveryTerminalTotal, DeliveryRetriesScheduled)
	})
}

func RegisterLogSinkMetrics() {
	logsinkOnce.Do(func() {
		prometheus.MustRegister(LogEventsTotal, LogPrimaryHealthy)
	})
}

func RegisterBrokerMetrics() {
	brokerOnce.Do(func() {
		prometheus.MustRegister(RetryAttemptsTotal, DLQMessagesTotal)
	})
}

func RegisterCircuitBreakerMetrics() {
	breakerOnce.Do(func() {
		prometheus.MustRegister(CircuitBreakerState, CircuitBreakerRequests, CircuitBreakerFailures)
	})
}

func ObserveSubmissionDuration(d time.Duration, status string) {
	SubmissionDuration.WithLabelValues(status).Observe(float64(d.Milliseconds()))
}

func SetPrimaryHealthy(healthy bool) {
	if healthy {
		LogPrimaryHealthy.Set(1)
	} else {
		LogPrimaryHealthy.Set(0)
	}
}
