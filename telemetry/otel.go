package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// InitMeterProvider bootstraps the OpenTelemetry MeterProvider with an
// OTLP/gRPC metric exporter targeting endpoint, tagging every metric
// with serviceName. The caller must defer mp.Shutdown(ctx) to flush
// pending metrics.
func InitMeterProvider(ctx context.Context, serviceName, endpoint string) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	)

	otel.SetMeterProvider(mp)
	return mp, nil
}

// OTelMetrics is a Metrics implementation backed by OpenTelemetry
// counter and histogram instruments.
type OTelMetrics struct {
	received  metric.Int64Counter
	processed metric.Int64Counter
	failed    metric.Int64Counter
	dlq       metric.Int64Counter
	handlerMS metric.Float64Histogram
	procMS    metric.Float64Histogram
}

// NewOTelMetrics creates the instruments for a Metrics implementation
// on meter (obtained via otel.Meter(name) after InitMeterProvider).
func NewOTelMetrics(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	if m.received, err = meter.Int64Counter("pubsub.messages.received"); err != nil {
		return nil, err
	}
	if m.processed, err = meter.Int64Counter("pubsub.messages.processed"); err != nil {
		return nil, err
	}
	if m.failed, err = meter.Int64Counter("pubsub.messages.failed"); err != nil {
		return nil, err
	}
	if m.dlq, err = meter.Int64Counter("pubsub.messages.dlq"); err != nil {
		return nil, err
	}
	if m.handlerMS, err = meter.Float64Histogram("pubsub.handler.duration_ms"); err != nil {
		return nil, err
	}
	if m.procMS, err = meter.Float64Histogram("pubsub.processor.duration_ms"); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *OTelMetrics) IncReceived(subject string) {
	m.received.Add(context.Background(), 1, metric.WithAttributes(attribute.String("subject", subject)))
}

func (m *OTelMetrics) IncProcessed(subject string) {
	m.processed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("subject", subject)))
}

func (m *OTelMetrics) IncFailed(subject string) {
	m.failed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("subject", subject)))
}

func (m *OTelMetrics) IncDLQ(subject, reason string) {
	m.dlq.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("subject", subject),
		attribute.String("reason", reason),
	))
}

func (m *OTelMetrics) ObserveHandlerDuration(subject string, d time.Duration) {
	m.handlerMS.Record(context.Background(), float64(d.Milliseconds()), metric.WithAttributes(attribute.String("subject", subject)))
}

func (m *OTelMetrics) ObserveProcessorDuration(subject string, d time.Duration) {
	m.procMS.Record(context.Background(), float64(d.Milliseconds()), metric.WithAttributes(attribute.String("subject", subject)))
}

var _ Metrics = (*OTelMetrics)(nil)
