package ai

import (
	"context"
	"testing"

	"github.com/itsneelabh/agentrt/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFactory struct {
	name      string
	priority  int
	available bool
	invoker   core.LLMInvoker
}

func (f *stubFactory) Name() string                       { return f.name }
func (f *stubFactory) Priority() int                      { return f.priority }
func (f *stubFactory) Create(_ *AIConfig) core.LLMInvoker { return f.invoker }
func (f *stubFactory) DetectEnvironment() (int, bool)     { return f.priority, f.available }

type stubInvoker struct {
	text string
	err  error
}

func (s *stubInvoker) Invoke(_ context.Context, _ string) (*core.InvokeResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &core.InvokeResult{Text: s.text, Model: "stub-model"}, nil
}

func withCleanRegistry(t *testing.T) {
	t.Helper()
	registryMu.Lock()
	original := registry
	registry = map[string]Factory{}
	registryMu.Unlock()
	t.Cleanup(func() {
		registryMu.Lock()
		registry = original
		registryMu.Unlock()
	})
}

func TestNewInvokerExplicitProvider(t *testing.T) {
	withCleanRegistry(t)
	Register(&stubFactory{name: "mock2", invoker: &stubInvoker{text: "hi"}})

	invoker, err := NewInvoker("mock2", &AIConfig{})
	require.NoError(t, err)
	result, err := invoker.Invoke(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, "hi", result.Text)
}

func TestNewInvokerUnknownProvider(t *testing.T) {
	withCleanRegistry(t)

	_, err := NewInvoker("unknown", &AIConfig{})
	require.Error(t, err)
	assert.Equal(t, core.KindValidationFailure, core.Classify(err))
}

func TestNewInvokerAutoDetectNoneAvailable(t *testing.T) {
	withCleanRegistry(t)
	Register(&stubFactory{name: "mock1", priority: 100, available: false})

	_, err := NewInvoker("", &AIConfig{})
	require.Error(t, err)
	assert.Equal(t, core.KindValidationFailure, core.Classify(err))
}

func TestNewInvokerAutoDetectChoosesHighestPriority(t *testing.T) {
	withCleanRegistry(t)
	Register(&stubFactory{name: "low", priority: 50, available: true, invoker: &stubInvoker{text: "low priority"}})
	Register(&stubFactory{name: "high", priority: 150, available: true, invoker: &stubInvoker{text: "high priority"}})

	invoker, err := NewInvoker("", &AIConfig{})
	require.NoError(t, err)
	result, err := invoker.Invoke(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, "high priority", result.Text)
}

func TestWithOptions(t *testing.T) {
	config := &AIConfig{}

	WithProvider("test-provider")(config)
	assert.Equal(t, "test-provider", config.Provider)

	WithAPIKey("test-key")(config)
	assert.Equal(t, "test-key", config.APIKey)

	WithBaseURL("https://test.com")(config)
	assert.Equal(t, "https://test.com", config.BaseURL)

	WithModel("test-model")(config)
	assert.Equal(t, "test-model", config.Model)

	WithTemperature(0.8)(config)
	assert.InDelta(t, float32(0.8), config.Temperature, 0.0001)

	WithMaxTokens(2000)(config)
	assert.Equal(t, 2000, config.MaxTokens)

	WithRegion("us-west-2")(config)
	assert.Equal(t, "us-west-2", config.Extra["region"])

	WithAWSCredentials("access", "secret", "token")(config)
	assert.Equal(t, "access", config.Extra["aws_access_key_id"])
	assert.Equal(t, "secret", config.Extra["aws_secret_access_key"])
	assert.Equal(t, "token", config.Extra["aws_session_token"])
}
