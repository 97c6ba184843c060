package ai

import (
	"os"

	"github.com/itsneelabh/agentrt/core"
)

func init() {
	MustRegister(&openAIFactory{})
}

// openAIFactory registers OpenAIClient into the provider registry so
// NewInvoker("", cfg) can auto-detect it alongside providers/anthropic
// and providers/mock.
type openAIFactory struct{}

func (f *openAIFactory) Name() string { return string(ProviderOpenAI) }

func (f *openAIFactory) Priority() int { return 100 }

func (f *openAIFactory) Create(config *AIConfig) core.LLMInvoker {
	return NewOpenAIClientFromConfig(config)
}

func (f *openAIFactory) DetectEnvironment() (priority int, available bool) {
	if os.Getenv("OPENAI_API_KEY") != "" {
		return f.Priority(), true
	}
	return 0, false
}
