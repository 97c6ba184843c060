package resilience

// NewCircuitBreakerWithTelemetry builds a circuit breaker whose metrics are
// recorded through the OpenTelemetry collector instead of the default
// no-op, for callers that don't go through CreateCircuitBreaker.
func NewCircuitBreakerWithTelemetry(name string) (*CircuitBreaker, error) {
	config := DefaultConfig()
	config.Name = name
	config.Metrics = NewOTelMetricsCollector()

	return NewCircuitBreaker(config)
}
