package monitor

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/itsneelabh/agentrt/core"
)

// InstrumentSet registers the Live Monitor's observable gauges against an
// OTel Meter. Grounded on the teacher's telemetry.MetricInstruments.
// RegisterGauge (meter.Float64ObservableGauge + meter.RegisterCallback):
// one callback reads the Source on every collection tick and reports every
// gauge's current value, rather than pushing on every state change.
type InstrumentSet struct {
	registration metric.Registration
	logger       core.Logger
}

// RegisterInstruments builds the runtime's observable gauges against
// meter and wires a single callback that reads source at collection time.
// The returned InstrumentSet.Close unregisters the callback.
func RegisterInstruments(meter metric.Meter, source Source, logger core.Logger) (*InstrumentSet, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("runtime/monitor")
	}

	activeRequests, err := meter.Int64ObservableGauge("agentrt.ledger.active_requests",
		metric.WithDescription("Active request-slot reservations held against the capacity ledger"))
	if err != nil {
		return nil, err
	}
	activeLLM, err := meter.Int64ObservableGauge("agentrt.ledger.active_llm",
		metric.WithDescription("Active LLM-slot reservations held against the capacity ledger"))
	if err != nil {
		return nil, err
	}
	queuedCount, err := meter.Int64ObservableGauge("agentrt.ledger.queued_count",
		metric.WithDescription("Callers currently parked in the capacity wait queue"))
	if err != nil {
		return nil, err
	}
	queueEvictions, err := meter.Int64ObservableGauge("agentrt.ledger.queue_evictions",
		metric.WithDescription("Cumulative queue evictions due to a full wait queue"))
	if err != nil {
		return nil, err
	}
	liveInstances, err := meter.Int64ObservableGauge("agentrt.coordinator.live_instances",
		metric.WithDescription("Peer runtime instances the coordinator currently considers live"))
	if err != nil {
		return nil, err
	}
	modelLimitCurrent, err := meter.Int64ObservableGauge("agentrt.ratelimit.current_cap",
		metric.WithDescription("Adaptive rate controller's learned concurrency cap per provider/model"))
	if err != nil {
		return nil, err
	}

	callback := func(_ context.Context, o metric.Observer) error {
		if source.Ledger != nil {
			snap := source.Ledger.Snapshot()
			o.ObserveInt64(activeRequests, int64(snap.ActiveRequests))
			o.ObserveInt64(activeLLM, int64(snap.ActiveLLM))
			o.ObserveInt64(queuedCount, int64(snap.QueuedCount))
			o.ObserveInt64(queueEvictions, int64(snap.QueueEvictions))
		}
		if source.Coordinator != nil {
			o.ObserveInt64(liveInstances, int64(len(source.Coordinator.LiveInstances())))
		}
		if source.RateController != nil {
			for _, limit := range source.RateController.Snapshot() {
				o.ObserveInt64(modelLimitCurrent, int64(limit.Current),
					metric.WithAttributes(
						attribute.String("provider", limit.Provider),
						attribute.String("model", limit.Model),
					))
			}
		}
		return nil
	}

	registration, err := meter.RegisterCallback(callback,
		activeRequests, activeLLM, queuedCount, queueEvictions, liveInstances, modelLimitCurrent)
	if err != nil {
		return nil, err
	}

	return &InstrumentSet{registration: registration, logger: logger}, nil
}

// Close unregisters the observable-gauge callback.
func (i *InstrumentSet) Close() error {
	if i.registration == nil {
		return nil
	}
	if err := i.registration.Unregister(); err != nil {
		i.logger.Warn("failed to unregister monitor instrument callback", map[string]interface{}{"error": err.Error()})
		return err
	}
	return nil
}
