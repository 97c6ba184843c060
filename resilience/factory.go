package resilience

import (
	"github.com/itsneelabh/agentrt/core"
)

// ResilienceDependencies holds optional dependencies for the circuit
// breaker and retry executor factories.
type ResilienceDependencies struct {
	Logger    core.Logger
	Telemetry core.Telemetry
}

// globalTelemetryAvailable reports whether a MetricsRegistry has been wired
// up via core.SetMetricsRegistry (nothing in this module calls it; an
// embedding process may), mirroring core's own global-registry late-binding
// pattern.
func globalTelemetryAvailable() bool {
	return core.GetGlobalMetricsRegistry() != nil
}

func resolveLogger(provided core.Logger, serviceName string) core.Logger {
	var logger core.Logger
	if provided != nil {
		logger = provided
	} else {
		logger = core.NewProductionLogger(
			core.LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
			core.DevelopmentConfig{},
			serviceName,
		)
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		return cal.WithComponent("runtime/resilience")
	}
	return logger
}

// CreateCircuitBreaker creates a circuit breaker with proper dependency injection
func CreateCircuitBreaker(name string, deps ResilienceDependencies) (*CircuitBreaker, error) {
	config := DefaultConfig()
	config.Name = name
	config.Logger = resolveLogger(deps.Logger, "circuit-breaker")

	// Auto-detect and enable telemetry if available
	if deps.Telemetry != nil {
		config.Metrics = NewOTelMetricsCollector()
		config.Logger.Info("Telemetry integration enabled for circuit breaker", map[string]interface{}{
			"operation": "telemetry_integration",
			"name":      name,
			"component": "circuit_breaker",
		})
	} else if globalTelemetryAvailable() {
		config.Metrics = NewOTelMetricsCollector()
		config.Logger.Info("Global telemetry detected and enabled", map[string]interface{}{
			"operation": "telemetry_auto_detection",
			"name":      name,
			"component": "circuit_breaker",
		})
	}

	config.Logger.Info("Creating circuit breaker", map[string]interface{}{
		"operation":        "circuit_breaker_creation",
		"name":             name,
		"error_threshold":  config.ErrorThreshold,
		"volume_threshold": config.VolumeThreshold,
	})

	return NewCircuitBreaker(config)
}

// CreateRetryExecutor creates a retry executor with proper dependency injection
func CreateRetryExecutor(deps ResilienceDependencies) *RetryExecutor {
	executor := NewRetryExecutor(nil)
	executor.SetLogger(resolveLogger(deps.Logger, "retry-executor"))

	if deps.Telemetry != nil || globalTelemetryAvailable() {
		executor.telemetryEnabled = true
		executor.logger.Info("Telemetry integration enabled for retry executor", map[string]interface{}{
			"operation": "telemetry_integration",
			"component": "retry_executor",
		})
	}

	return executor
}

// WithLogger creates dependency injection option
func WithLogger(logger core.Logger) func(*ResilienceDependencies) {
	return func(d *ResilienceDependencies) {
		d.Logger = logger
	}
}

// WithTelemetry creates dependency injection option
func WithTelemetry(telemetry core.Telemetry) func(*ResilienceDependencies) {
	return func(d *ResilienceDependencies) {
		d.Telemetry = telemetry
	}
}
