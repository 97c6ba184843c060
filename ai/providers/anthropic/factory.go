package anthropic

import (
	"os"

	"github.com/itsneelabh/agentrt/ai"
	"github.com/itsneelabh/agentrt/core"
)

func init() {
	ai.MustRegister(&Factory{})
}

// Factory creates Anthropic AI clients.
type Factory struct{}

// Name returns the provider name.
func (f *Factory) Name() string {
	return "anthropic"
}

// Priority returns provider priority.
func (f *Factory) Priority() int {
	return 80 // lower than OpenAI but higher than local providers
}

// Create creates a new Anthropic client.
func (f *Factory) Create(config *ai.AIConfig) core.LLMInvoker {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("ANTHROPIC_BASE_URL")
		if baseURL == "" {
			baseURL = DefaultBaseURL
		}
	}

	client := NewClient(apiKey, baseURL, config.Logger)

	if config.Timeout > 0 {
		client.HTTPClient.Timeout = config.Timeout
	}
	if config.MaxRetries > 0 {
		client.MaxRetries = config.MaxRetries
	}
	if config.Model != "" {
		client.DefaultModel = config.Model
	}
	if config.Temperature > 0 {
		client.DefaultTemperature = config.Temperature
	}
	if config.MaxTokens > 0 {
		client.DefaultMaxTokens = config.MaxTokens
	}

	return client
}

// DetectEnvironment checks if Anthropic is configured and returns priority.
func (f *Factory) DetectEnvironment() (priority int, available bool) {
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return f.Priority(), true
	}
	return 0, false
}
