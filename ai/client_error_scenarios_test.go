package ai

import (
	"context"
	"testing"

	"github.com/itsneelabh/agentrt/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMustInvokerPanicsWhenUnconfigured(t *testing.T) {
	withCleanRegistry(t)

	assert.Panics(t, func() {
		MustInvoker("", &AIConfig{})
	})
}

func TestMustInvokerReturnsWorkingInvoker(t *testing.T) {
	withCleanRegistry(t)
	Register(&stubFactory{name: "ready", priority: 10, available: true, invoker: &stubInvoker{text: "ready"}})

	invoker := MustInvoker("ready", &AIConfig{})
	require.NotNil(t, invoker)
	result, err := invoker.Invoke(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, "ready", result.Text)
}

func TestNewInvokerInvalidProviderNames(t *testing.T) {
	withCleanRegistry(t)

	for _, name := range []string{"unknown-provider", "provider@#$%"} {
		t.Run(name, func(t *testing.T) {
			_, err := NewInvoker(name, &AIConfig{})
			require.Error(t, err)
			assert.Equal(t, core.KindValidationFailure, core.Classify(err))
		})
	}
}

// configCapturingFactory wraps a stubFactory to record the *AIConfig it
// is asked to Create with, so tests can assert option ordering.
type configCapturingFactory struct {
	*stubFactory
	captured **AIConfig
}

func (f *configCapturingFactory) Create(config *AIConfig) core.LLMInvoker {
	*f.captured = config
	return f.stubFactory.Create(config)
}

func TestNewInvokerAppliesOptionsLastWriteWins(t *testing.T) {
	withCleanRegistry(t)

	var captured *AIConfig
	Register(&configCapturingFactory{
		stubFactory: &stubFactory{name: "capture", priority: 10, available: true, invoker: &stubInvoker{text: "ok"}},
		captured:    &captured,
	})

	invoker, err := NewInvoker("capture", applyOptions(
		WithTemperature(0.5),
		WithMaxTokens(100),
		WithTemperature(0.8),
		WithAPIKey("key1"),
		WithAPIKey("key2"),
	))
	require.NoError(t, err)
	require.NotNil(t, invoker)
	require.NotNil(t, captured)

	assert.InDelta(t, float32(0.8), captured.Temperature, 0.0001)
	assert.Equal(t, "key2", captured.APIKey)
	assert.Equal(t, 100, captured.MaxTokens)
}

func TestNewInvokerWithAllOptions(t *testing.T) {
	withCleanRegistry(t)

	var captured *AIConfig
	Register(&configCapturingFactory{
		stubFactory: &stubFactory{name: "comprehensive", priority: 100, available: true, invoker: &stubInvoker{text: "ok"}},
		captured:    &captured,
	})

	cfg := applyOptions(
		WithProvider("comprehensive"),
		WithAPIKey("test-api-key"),
		WithBaseURL("https://api.test.com"),
		WithModel("test-model"),
		WithTemperature(0.9),
		WithMaxTokens(2000),
		WithTimeout(60000000000),
		WithMaxRetries(5),
		WithHeaders(map[string]string{"User-Agent": "test-agent"}),
		WithRegion("us-west-2"),
		WithAWSCredentials("aws-key", "aws-secret", "aws-token"),
		WithExtra("custom_param", "custom_value"),
	)

	invoker, err := NewInvoker("comprehensive", cfg)
	require.NoError(t, err)
	require.NotNil(t, invoker)
	require.NotNil(t, captured)

	assert.Equal(t, "comprehensive", captured.Provider)
	assert.Equal(t, "test-api-key", captured.APIKey)
	assert.Equal(t, "https://api.test.com", captured.BaseURL)
	assert.Equal(t, "test-model", captured.Model)
	assert.InDelta(t, float32(0.9), captured.Temperature, 0.0001)
	assert.Equal(t, 2000, captured.MaxTokens)
	assert.Equal(t, 5, captured.MaxRetries)
	assert.Equal(t, "test-agent", captured.Headers["User-Agent"])
	assert.Equal(t, "us-west-2", captured.Extra["region"])
	assert.Equal(t, "aws-key", captured.Extra["aws_access_key_id"])
	assert.Equal(t, "custom_value", captured.Extra["custom_param"])
}

// applyOptions builds an *AIConfig the way the runtime's option-driven
// constructors do, for tests that need a config without constructing a
// full client.
func applyOptions(opts ...AIOption) *AIConfig {
	cfg := &AIConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
