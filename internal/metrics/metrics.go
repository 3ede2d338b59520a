// Package metrics holds Penny's Prometheus instruments. All recording
// methods are safe to call on a nil *Metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "penny"

// Metrics bundles the HTTP, chat and tool instruments.
type Metrics struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	rateLimited  prometheus.Counter

	chatTurns    *prometheus.CounterVec
	chatDuration prometheus.Histogram
	pollAttempts prometheus.Histogram

	toolCalls *prometheus.CounterVec
}

// New constructs the instruments and registers them on reg. A nil reg
// uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limit.",
		}),
		chatTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Assistant turns by outcome.",
		}, []string{"outcome"}),
		chatDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "turn_duration_seconds",
			Help:      "Wall time of an assistant turn.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60, 90},
		}),
		pollAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "poll_attempts",
			Help:      "Status polls needed before a run left the pending states.",
			Buckets:   prometheus.LinearBuckets(1, 3, 11),
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "calls_total",
			Help:      "Tool calls dispatched for the assistant by tool and outcome.",
		}, []string{"tool", "outcome"}),
	}

	reg.MustRegister(
		m.httpRequests, m.httpDuration, m.rateLimited,
		m.chatTurns, m.chatDuration, m.pollAttempts,
		m.toolCalls,
	)
	return m
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// RateLimited counts a rejected request.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// ChatTurn records a finished turn.
func (m *Metrics) ChatTurn(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.chatTurns.WithLabelValues(outcome).Inc()
	m.chatDuration.Observe(elapsed.Seconds())
}

// PollAttempts records how many polls a wait took.
func (m *Metrics) PollAttempts(n int) {
	if m == nil {
		return
	}
	m.pollAttempts.Observe(float64(n))
}

// ToolCall records one dispatched tool call.
func (m *Metrics) ToolCall(name, outcome string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(name, outcome).Inc()
}
