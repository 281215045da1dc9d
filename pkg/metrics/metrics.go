// Package metrics exposes Prometheus counters for tool invocations and
// orchestration runs. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so several servers can coexist in one process.
type Collector struct {
	reg *prometheus.Registry

	runsTotal          *prometheus.CounterVec
	runIterations      *prometheus.HistogramVec
	runDuration        *prometheus.HistogramVec
	toolCallsTotal     *prometheus.CounterVec
	invocationsTotal   *prometheus.CounterVec
	reasoningRequests  *prometheus.CounterVec
	reasoningDurations *prometheus.HistogramVec
}

// New registers all toolforge metrics under namespace.
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = "toolforge"
	}
	c := &Collector{reg: prometheus.NewRegistry()}

	c.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Orchestration runs by composite tool and terminal state.",
	}, []string{"tool", "state"})

	c.runIterations = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_iterations",
		Help:      "Tool invocations per orchestration run.",
		Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 20, 30},
	}, []string{"tool"})

	c.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of orchestration runs.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"tool"})

	c.toolCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Tool calls requested by the reasoning model, by outcome.",
	}, []string{"tool", "outcome"})

	c.invocationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "invocations_total",
		Help:      "Downstream HTTP invocations by tool, method and status class.",
	}, []string{"tool", "method", "status_class"})

	c.reasoningRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reasoning_requests_total",
		Help:      "Reasoning model requests by provider and outcome.",
	}, []string{"provider", "outcome"})

	c.reasoningDurations = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reasoning_request_duration_seconds",
		Help:      "Reasoning model request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})

	c.reg.MustRegister(
		c.runsTotal, c.runIterations, c.runDuration, c.toolCallsTotal,
		c.invocationsTotal, c.reasoningRequests, c.reasoningDurations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.reg
}

// Handler serves the metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// RecordRun records a finished orchestration run.
func (c *Collector) RecordRun(tool, state string, iterations int, seconds float64) {
	if c == nil {
		return
	}
	c.runsTotal.WithLabelValues(tool, state).Inc()
	c.runIterations.WithLabelValues(tool).Observe(float64(iterations))
	c.runDuration.WithLabelValues(tool).Observe(seconds)
}

// RecordToolCall records one model-requested tool call.
// outcome is one of ok, downstream_error, bad_arguments, not_found, rejected.
func (c *Collector) RecordToolCall(tool, outcome string) {
	if c == nil {
		return
	}
	c.toolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

// RecordInvocation records one downstream request; status 0 means no response.
func (c *Collector) RecordInvocation(tool, method string, status int) {
	if c == nil {
		return
	}
	c.invocationsTotal.WithLabelValues(tool, method, statusClass(status)).Inc()
}

// RecordReasoning records one reasoning model request.
func (c *Collector) RecordReasoning(provider string, err error, seconds float64) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.reasoningRequests.WithLabelValues(provider, outcome).Inc()
	c.reasoningDurations.WithLabelValues(provider).Observe(seconds)
}

func statusClass(status int) string {
	if status <= 0 {
		return "none"
	}
	return strconv.Itoa(status/100) + "xx"
}
