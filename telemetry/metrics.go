// Package telemetry exposes the narrow Metrics interface the consume
// loop reports through, plus a no-op default and two concrete
// implementations (OpenTelemetry and Prometheus) — the metrics export
// transport (an HTTP /metrics endpoint, an OTLP collector) is out of
// scope; only the client-side instrument wiring lives here.
package telemetry

import "time"

// Metrics is the fixed set of observations the consume loop reports.
// A handler or processor never reaches for a global recorder, only
// this narrow interface.
type Metrics interface {
	IncReceived(subject string)
	IncProcessed(subject string)
	IncFailed(subject string)
	IncDLQ(subject, reason string)
	ObserveHandlerDuration(subject string, d time.Duration)
	ObserveProcessorDuration(subject string, d time.Duration)
}

// Noop is the zero-cost default Metrics implementation.
type Noop struct{}

func (Noop) IncReceived(string)                        {}
func (Noop) IncProcessed(string)                        {}
func (Noop) IncFailed(string)                           {}
func (Noop) IncDLQ(string, string)                      {}
func (Noop) ObserveHandlerDuration(string, time.Duration)   {}
func (Noop) ObserveProcessorDuration(string, time.Duration) {}

var _ Metrics = Noop{}
