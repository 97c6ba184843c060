package resilience

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetricsCollector implements MetricsCollector directly against the
// OpenTelemetry metrics API — no framework-specific metrics wrapper in
// between, so this collector works with whatever MeterProvider the host
// process has installed as the global one (a no-op unless the host
// installs a real provider; nothing in this module does).
type OTelMetricsCollector struct {
	calls         metric.Int64Counter
	failures      metric.Int64Counter
	stateChanges  metric.Int64Counter
	rejected      metric.Int64Counter
	stateGaugeReg metric.Registration
}

// NewOTelMetricsCollector creates instruments on the global meter named
// for this package.
func NewOTelMetricsCollector() *OTelMetricsCollector {
	meter := otel.Meter("github.com/itsneelabh/agentrt/resilience")

	calls, _ := meter.Int64Counter("agentrt.circuit_breaker.calls",
		metric.WithDescription("Total circuit breaker calls"))
	failures, _ := meter.Int64Counter("agentrt.circuit_breaker.failures",
		metric.WithDescription("Circuit breaker failures"))
	stateChanges, _ := meter.Int64Counter("agentrt.circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state transitions"))
	rejected, _ := meter.Int64Counter("agentrt.circuit_breaker.rejected",
		metric.WithDescription("Requests rejected by an open circuit"))

	return &OTelMetricsCollector{
		calls:        calls,
		failures:     failures,
		stateChanges: stateChanges,
		rejected:     rejected,
	}
}

// RecordSuccess records a successful circuit breaker execution
func (o *OTelMetricsCollector) RecordSuccess(name string) {
	o.calls.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("circuit_breaker", name),
			attribute.String("result", "success"),
		))
}

// RecordFailure records a failed circuit breaker execution
func (o *OTelMetricsCollector) RecordFailure(name string, errorType string) {
	attrs := metric.WithAttributes(
		attribute.String("circuit_breaker", name),
		attribute.String("result", "failure"),
	)
	o.calls.Add(context.Background(), 1, attrs)
	o.failures.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("circuit_breaker", name),
			attribute.String("error_type", errorType),
		))
}

// RecordStateChange records a circuit breaker state transition
func (o *OTelMetricsCollector) RecordStateChange(name string, from, to string) {
	o.stateChanges.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("circuit_breaker", name),
			attribute.String("from_state", from),
			attribute.String("to_state", to),
		))
}

// RecordRejection records when circuit breaker rejects a request
func (o *OTelMetricsCollector) RecordRejection(name string) {
	o.rejected.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("circuit_breaker", name),
			attribute.String("result", "rejected"),
		))
}

// RegisterStateGauge registers an observable gauge reporting the circuit's
// numeric state (0=closed, 0.5=half-open, 1=open) on every collection.
func (o *OTelMetricsCollector) RegisterStateGauge(name string, stateFunc func() string) error {
	meter := otel.Meter("github.com/itsneelabh/agentrt/resilience")
	gauge, err := meter.Float64ObservableGauge("agentrt.circuit_breaker.current_state",
		metric.WithDescription("Current state of the circuit breaker (0=closed, 0.5=half-open, 1=open)"))
	if err != nil {
		return err
	}

	reg, err := meter.RegisterCallback(func(ctx context.Context, observer metric.Observer) error {
		state := stateFunc()
		value := 0.0
		switch state {
		case "open":
			value = 1.0
		case "half-open", "half_open":
			value = 0.5
		}
		observer.ObserveFloat64(gauge, value, metric.WithAttributes(
			attribute.String("circuit_breaker", name),
			attribute.String("state", state),
		))
		return nil
	}, gauge)
	if err != nil {
		return err
	}
	o.stateGaugeReg = reg
	return nil
}

// Shutdown releases the observable gauge callback registration, if any.
func (o *OTelMetricsCollector) Shutdown() error {
	if o.stateGaugeReg != nil {
		return o.stateGaugeReg.Unregister()
	}
	return nil
}
