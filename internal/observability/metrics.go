// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Registry metrics
	TriggersCreated    prometheus.Counter
	TriggerTransitions *prometheus.CounterVec
	OperationErrors    *prometheus.CounterVec

	// Swap metrics
	SwapsIssued             *prometheus.CounterVec
	StrandedInstructions    prometheus.Counter
	UnconfirmedInstructions prometheus.Counter

	// Keeper metrics
	CyclesTotal       *prometheus.CounterVec
	CycleDuration     prometheus.Histogram
	ActiveTriggers    prometheus.Gauge
	PriceReads        *prometheus.CounterVec
	ExecutionAttempts *prometheus.CounterVec
	RetriesExhausted  prometheus.Counter

	// Transport metrics
	RPCCallLatency *prometheus.HistogramVec

	// API metrics
	HTTPRequests     *prometheus.CounterVec
	EventSubscribers prometheus.Gauge

	// Health metrics
	LastSuccessfulCycle prometheus.Gauge
	UptimeSeconds       prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "trigger_keeper"
	}

	return &Metrics{
		TriggersCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "triggers_created_total",
			Help:      "Total number of triggers created",
		}),
		TriggerTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "trigger_transitions_total",
			Help:      "Total number of trigger status transitions by target status",
		}, []string{"status"}),
		OperationErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "operation_errors_total",
			Help:      "Total number of rejected registry operations by kind",
		}, []string{"operation", "kind"}),

		SwapsIssued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "issued_total",
			Help:      "Total number of swap instructions accepted by the relay",
		}, []string{"path"}),
		StrandedInstructions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "stranded_instructions_total",
			Help:      "Instructions relayed whose record could not be persisted",
		}),
		UnconfirmedInstructions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "unconfirmed_instructions_total",
			Help:      "Instructions broadcast without a relay receipt",
		}),

		CyclesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "cycles_total",
			Help:      "Total number of keeper cycles by status",
		}, []string{"status"}),
		CycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "cycle_duration_seconds",
			Help:      "Keeper cycle duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		ActiveTriggers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "active_triggers",
			Help:      "Active triggers seen in the last cycle",
		}),
		PriceReads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "price_reads_total",
			Help:      "Oracle reads by result",
		}, []string{"result"}),
		ExecutionAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "execution_attempts_total",
			Help:      "Execution attempts by outcome",
		}, []string{"outcome"}),
		RetriesExhausted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "retries_exhausted_total",
			Help:      "Triggers left active after all retries failed",
		}),

		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "evm",
			Name:      "rpc_call_latency_seconds",
			Help:      "Execution-layer RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "API requests by route and status code",
		}, []string{"route", "code"}),
		EventSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "event_subscribers",
			Help:      "Connected event stream clients",
		}),

		LastSuccessfulCycle: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of last successful keeper cycle",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordTriggerCreated increments the created counter.
func RecordTriggerCreated() {
	DefaultMetrics.TriggersCreated.Inc()
}

// RecordTransition records a status transition.
func RecordTransition(status string) {
	DefaultMetrics.TriggerTransitions.WithLabelValues(status).Inc()
}

// RecordOperationError records a rejected operation.
func RecordOperationError(operation, kind string) {
	DefaultMetrics.OperationErrors.WithLabelValues(operation, kind).Inc()
}

// RecordSwapIssued records an accepted swap instruction ("trigger" or "instant").
func RecordSwapIssued(path string) {
	DefaultMetrics.SwapsIssued.WithLabelValues(path).Inc()
}

// RecordStrandedInstruction records a relayed instruction without a record.
func RecordStrandedInstruction() {
	DefaultMetrics.StrandedInstructions.Inc()
}

// RecordUnconfirmedInstruction records an instruction broadcast without a receipt.
func RecordUnconfirmedInstruction() {
	DefaultMetrics.UnconfirmedInstructions.Inc()
}

// RecordCycle records a keeper cycle.
func RecordCycle(status string, duration time.Duration) {
	DefaultMetrics.CyclesTotal.WithLabelValues(status).Inc()
	DefaultMetrics.CycleDuration.Observe(duration.Seconds())
	if status == "success" {
		DefaultMetrics.LastSuccessfulCycle.SetToCurrentTime()
	}
}

// SetActiveTriggers sets the active trigger gauge.
func SetActiveTriggers(n int) {
	DefaultMetrics.ActiveTriggers.Set(float64(n))
}

// RecordPriceRead records an oracle read result ("ok" or an error kind).
func RecordPriceRead(result string) {
	DefaultMetrics.PriceReads.WithLabelValues(result).Inc()
}

// RecordExecutionAttempt records a keeper attempt outcome.
func RecordExecutionAttempt(outcome string) {
	DefaultMetrics.ExecutionAttempts.WithLabelValues(outcome).Inc()
}

// RecordRetriesExhausted increments the exhausted counter.
func RecordRetriesExhausted() {
	DefaultMetrics.RetriesExhausted.Inc()
}

// ObserveRPCCall records RPC call latency.
func ObserveRPCCall(method string, started time.Time) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(time.Since(started).Seconds())
}

// RecordHTTPRequest records an API request.
func RecordHTTPRequest(route string, code int) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// SetEventSubscribers sets the connected stream client gauge.
func SetEventSubscribers(n int) {
	DefaultMetrics.EventSubscribers.Set(float64(n))
}

// RecordUptime adds d to the uptime counter.
func RecordUptime(d time.Duration) {
	DefaultMetrics.UptimeSeconds.Add(d.Seconds())
}
