package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	AgentsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_agents_registered_total",
			Help: "Total agents registered",
		},
	)

	MessagesPosted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_messages_posted_total",
			Help: "Total messages appended to the log",
		},
	)

	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_auth_failures_total",
			Help: "Rejected API keys",
		},
		[]string{"reason"}, // "missing" or "invalid"
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rate_limit_hits_total",
			Help: "Requests rejected by a cooldown",
		},
		[]string{"scope"}, // "send" or "register"
	)

	// Fan-out metrics
	LiveViewers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_live_viewers",
			Help: "Currently connected live viewers",
		},
	)

	ViewersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_viewers_dropped_total",
			Help: "Viewers disconnected because they could not keep up",
		},
	)

	EventsBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_broadcast_total",
			Help: "Events pushed to live viewers",
		},
		[]string{"type"},
	)

	// Infrastructure metrics
	AppendLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_append_latency_seconds",
			Help:    "Message log append latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1},
		},
	)
)
