package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP request metrics for API server
var (
	// HTTPRequestDuration tracks the duration of HTTP requests
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests by method, path, and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestsTotal counts the total number of HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)
)

// Marketplace metrics
var (
	// ProvidersRegistered counts successful provider registrations
	ProvidersRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "torpedo_providers_registered_total",
			Help: "Total number of provider capacity records registered",
		},
	)

	// RegistrationRejections counts failed registrations by reason
	RegistrationRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "torpedo_registration_rejections_total",
			Help: "Provider registrations rejected at admission, by reason",
		},
		[]string{"reason"},
	)

	// ProvidersEngaged tracks how many records are currently engaged
	ProvidersEngaged = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "torpedo_providers_engaged",
			Help: "Number of provider records currently bound to a session",
		},
	)

	// SessionsCreated counts successful matches
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "torpedo_sessions_created_total",
			Help: "Total number of sessions created by the marketplace",
		},
	)

	// SessionCreateFailures counts createSession failures by reason
	SessionCreateFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "torpedo_session_create_failures_total",
			Help: "Failed createSession calls by reason (insufficient_payment, no_eligible_provider, internal)",
		},
		[]string{"reason"},
	)

	// SessionsByState tracks sessions in each handoff state
	SessionsByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "torpedo_sessions_by_state",
			Help: "Number of sessions by handoff state",
		},
		[]string{"state"},
	)

	// OraclePriceUSD exposes the last observed settlement price, in USD
	OraclePriceUSD = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "torpedo_oracle_price_usd",
			Help: "Last observed USD price of one settlement unit",
		},
	)

	// OracleReadDuration tracks price feed read latency
	OracleReadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "torpedo_oracle_read_duration_seconds",
			Help:    "Duration of price oracle reads",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	// OracleReadFailures counts failed price feed reads
	OracleReadFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "torpedo_oracle_read_failures_total",
			Help: "Total number of failed price oracle reads",
		},
	)
)

// RecordHTTPRequest records metrics for an HTTP request
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordOracleRead records a price oracle read and its outcome
func RecordOracleRead(priceUSD float64, duration time.Duration, err error) {
	OracleReadDuration.Observe(duration.Seconds())
	if err != nil {
		OracleReadFailures.Inc()
		return
	}
	OraclePriceUSD.Set(priceUSD)
}
