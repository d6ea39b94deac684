package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "altrii_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// LockRequests counts device lock requests by outcome (locked|extended|rejected code).
	LockRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "altrii_device_lock_requests_total",
			Help: "Total number of device lock requests",
		},
		[]string{"result"},
	)

	// DeviceMutations counts device create/rename/delete/supervise operations by result.
	DeviceMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "altrii_device_mutations_total",
			Help: "Total number of device mutations",
		},
		[]string{"operation", "result"},
	)

	// ProfileDownloads counts rendered configuration profiles, split by cache hit/miss.
	ProfileDownloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "altrii_profile_downloads_total",
			Help: "Total number of configuration profile downloads",
		},
		[]string{"cache"},
	)

	// BillingEvents counts processed billing webhook events by type and outcome.
	BillingEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "altrii_billing_events_total",
			Help: "Total number of billing events processed",
		},
		[]string{"type", "result"},
	)

	// UpstreamTimeouts counts store or billing calls that exceeded their deadline.
	UpstreamTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "altrii_upstream_timeouts_total",
			Help: "Total number of upstream calls that timed out",
		},
		[]string{"upstream"},
	)

	// APIInFlight tracks requests currently being served.
	APIInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "altrii_api_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "altrii_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
