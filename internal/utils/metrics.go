package utils

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Tracks performance metrics across the system
type MetricsCollector struct {
	Registry *prometheus.Registry

	requests   prometheus.Counter
	errors     *prometheus.CounterVec
	operations *prometheus.HistogramVec
	messages   *prometheus.CounterVec
	pushes     *prometheus.CounterVec
	swept      prometheus.Counter

	systemStartTime time.Time
}

func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{
		Registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gator_chat",
			Name:      "requests_total",
			Help:      "Client intents and HTTP requests handled.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gator_chat",
			Name:      "errors_total",
			Help:      "Rejected intents by error code.",
		}, []string{"code"}),
		operations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gator_chat",
			Name:      "operation_seconds",
			Help:      "Latency of coordinator operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gator_chat",
			Name:      "messages_total",
			Help:      "Messages persisted by kind.",
		}, []string{"kind"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gator_chat",
			Name:      "pushes_total",
			Help:      "Real-time pushes by outcome.",
		}, []string{"outcome"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gator_chat",
			Name:      "scheduled_released_total",
			Help:      "Scheduled messages released by the sweep.",
		}),
		systemStartTime: time.Now(),
	}
	mc.Registry.MustRegister(mc.requests, mc.errors, mc.operations, mc.messages, mc.pushes, mc.swept)
	return mc
}

func (mc *MetricsCollector) IncrementRequests() {
	if mc == nil {
		return
	}
	mc.requests.Inc()
}

func (mc *MetricsCollector) IncrementErrors(code string) {
	if mc == nil {
		return
	}
	mc.errors.WithLabelValues(code).Inc()
}

func (mc *MetricsCollector) AddOperationLatency(operationName string, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.operations.WithLabelValues(operationName).Observe(duration.Seconds())
}

func (mc *MetricsCollector) MessagePersisted(kind string) {
	if mc == nil {
		return
	}
	mc.messages.WithLabelValues(kind).Inc()
}

// PushResult counts a single handle delivery attempt.
func (mc *MetricsCollector) PushResult(delivered bool) {
	if mc == nil {
		return
	}
	if delivered {
		mc.pushes.WithLabelValues("delivered").Inc()
		return
	}
	mc.pushes.WithLabelValues("dropped").Inc()
}

func (mc *MetricsCollector) ScheduledReleased(n int) {
	if mc == nil {
		return
	}
	mc.swept.Add(float64(n))
}

func (mc *MetricsCollector) Uptime() time.Duration {
	return time.Since(mc.systemStartTime)
}
