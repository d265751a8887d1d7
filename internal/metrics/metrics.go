package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdeck_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentdeck_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5, 30},
		},
		[]string{"method", "path"},
	)

	// Chat metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdeck_messages_sent_total",
			Help: "Total chat sends by outcome",
		},
		[]string{"outcome"}, // "settled", "failed" or "rejected"
	)

	SendRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentdeck_send_retries_total",
			Help: "Total retries of failed sends",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentdeck_active_sessions",
			Help: "Chat sessions currently held in memory",
		},
	)

	// Business metrics
	AgentsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentdeck_agents_created_total",
			Help: "Total agents created",
		},
	)

	QuotaRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentdeck_quota_rejections_total",
			Help: "Agent creations rejected by the quota",
		},
	)

	DeploymentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdeck_deployment_transitions_total",
			Help: "Deployment status changes",
		},
		[]string{"status"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdeck_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdeck_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Upstream metrics
	AgentAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentdeck_agent_api_latency_seconds",
			Help:    "Agent API call latency",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"operation", "status"},
	)

	DeployAPILatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentdeck_deploy_api_latency_seconds",
			Help:    "Deployment platform call latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
)
