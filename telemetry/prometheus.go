package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PromMetrics is a second concrete Metrics implementation, backed by
// Prometheus counter/histogram vectors. No HTTP handler is registered
// here — exposing /metrics is an external transport concern, out of
// this module's scope; the caller registers these collectors with
// their own prometheus.Registerer and serves them however they like.
type PromMetrics struct {
	received  *prometheus.CounterVec
	processed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	dlq       *prometheus.CounterVec
	handlerMS *prometheus.HistogramVec
	procMS    *prometheus.HistogramVec
}

// NewPromMetrics creates and registers the collectors with reg.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	m := &PromMetrics{
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pubsub_messages_received_total",
		}, []string{"subject"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pubsub_messages_processed_total",
		}, []string{"subject"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pubsub_messages_failed_total",
		}, []string{"subject"}),
		dlq: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pubsub_messages_dlq_total",
		}, []string{"subject", "reason"}),
		handlerMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pubsub_handler_duration_ms",
			Buckets: prometheus.DefBuckets,
		}, []string{"subject"}),
		procMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pubsub_processor_duration_ms",
			Buckets: prometheus.DefBuckets,
		}, []string{"subject"}),
	}

	reg.MustRegister(m.received, m.processed, m.failed, m.dlq, m.handlerMS, m.procMS)
	return m
}

func (m *PromMetrics) IncReceived(subject string)  { m.received.WithLabelValues(subject).Inc() }
func (m *PromMetrics) IncProcessed(subject string) { m.processed.WithLabelValues(subject).Inc() }
func (m *PromMetrics) IncFailed(subject string)    { m.failed.WithLabelValues(subject).Inc() }
func (m *PromMetrics) IncDLQ(subject, reason string) {
	m.dlq.WithLabelValues(subject, reason).Inc()
}

func (m *PromMetrics) ObserveHandlerDuration(subject string, d time.Duration) {
	m.handlerMS.WithLabelValues(subject).Observe(float64(d.Milliseconds()))
}

func (m *PromMetrics) ObserveProcessorDuration(subject string, d time.Duration) {
	m.procMS.WithLabelValues(subject).Observe(float64(d.Milliseconds()))
}

var _ Metrics = (*PromMetrics)(nil)
