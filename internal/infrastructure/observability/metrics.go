package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics
type Metrics struct {
	// Authorization metrics
	AuthorizationsTotal   *prometheus.CounterVec
	AuthorizationDuration *prometheus.HistogramVec
	StartErrors           *prometheus.CounterVec
	BusyRetries           *prometheus.CounterVec
	PollQueries           *prometheus.CounterVec
	Timeouts              *prometheus.CounterVec

	// Station metrics
	StationLocked *prometheus.GaugeVec
	Finalized     *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := prometheus.WrapRegistererWith(nil, reg)

	m := &Metrics{
		AuthorizationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "authorizations_total",
				Help:      "Total number of finished authorization attempts by channel and status",
			},
			[]string{"channel", "status"},
		),
		AuthorizationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "authorization_duration_seconds",
				Help:      "Time from start to terminal status in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 3, 6, 10, 30, 60, 120, 300},
			},
			[]string{"channel", "status"},
		),
		StartErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "authorization_start_errors_total",
				Help:      "Total number of failed authorization starts",
			},
			[]string{"channel", "error_type"},
		),
		BusyRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "busy_retries_total",
				Help:      "Total number of start retries after a terminal busy conflict",
			},
			[]string{"provider"},
		),
		PollQueries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_queries_total",
				Help:      "Total number of remote status queries",
			},
			[]string{"provider", "result"},
		),
		Timeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "authorization_timeouts_total",
				Help:      "Total number of poll loops that exhausted their budget",
			},
			[]string{"released"},
		),
		StationLocked: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "station_locked",
				Help:      "Whether the station terminal lock is engaged (1) or not (0)",
			},
			[]string{"station"},
		),
		Finalized: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payments_finalized_total",
				Help:      "Total number of approved payments consumed by a sale",
			},
			[]string{"channel"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
	}

	// Register all collectors
	factory.MustRegister(
		m.AuthorizationsTotal,
		m.AuthorizationDuration,
		m.StartErrors,
		m.BusyRetries,
		m.PollQueries,
		m.Timeouts,
		m.StationLocked,
		m.Finalized,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CircuitBreakerState,
	)

	return m
}
