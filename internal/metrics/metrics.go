package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequests counts served requests by route pattern and status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "globenis_http_requests_total",
		Help: "HTTP requests by method, route pattern and status",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "globenis_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	MatchesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "globenis_matches_recorded_total",
		Help: "Matches recorded by outcome",
	}, []string{"outcome"})

	LevelUps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "globenis_level_ups_total",
		Help: "Level-ups caused by recorded matches",
	})

	ChatMessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "globenis_chat_messages_sent_total",
		Help: "Chat messages stored",
	})

	// FriendRequestTransitions counts sent, accepted, rejected and cancelled requests.
	FriendRequestTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "globenis_friend_request_transitions_total",
		Help: "Friend request state transitions",
	}, []string{"transition"})

	ActiveStreams = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "globenis_active_streams",
		Help: "Open WebSocket streams by kind",
	}, []string{"kind"})

	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "globenis_rate_limit_rejections_total",
		Help: "Requests rejected by a rate limiter, by key prefix",
	}, []string{"limiter"})

	AssistantRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "globenis_assistant_requests_total",
		Help: "Assistant requests by result",
	}, []string{"result"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
