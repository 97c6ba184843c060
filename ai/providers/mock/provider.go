// Package mock provides a mock AI provider for testing.
package mock

import (
	"context"
	"errors"

	"github.com/itsneelabh/agentrt/ai"
	"github.com/itsneelabh/agentrt/core"
)

func init() {
	// Registered unconditionally like the rest of providers/*, but its
	// Priority/DetectEnvironment keep it from ever winning auto-detection
	// in NewInvoker("", cfg) — callers must ask for "mock" by name.
	ai.MustRegister(&Factory{})
}

// Factory creates mock AI clients for testing.
type Factory struct{}

// Name returns the provider name.
func (f *Factory) Name() string {
	return "mock"
}

// Priority returns provider priority.
func (f *Factory) Priority() int {
	return 1 // very low priority
}

// Create creates a new mock client.
func (f *Factory) Create(config *ai.AIConfig) core.LLMInvoker {
	return NewClient(config)
}

// DetectEnvironment reports mock as never auto-detected.
func (f *Factory) DetectEnvironment() (priority int, available bool) {
	return 0, false
}

// Client implements core.LLMInvoker for testing.
type Client struct {
	Config        *ai.AIConfig
	Responses     []string
	ResponseIndex int
	Error         error
	CallCount     int
	LastPrompt    string
}

// NewClient creates a new mock client.
func NewClient(config *ai.AIConfig) *Client {
	return &Client{
		Config:    config,
		Responses: []string{"Mock response"},
	}
}

var _ core.LLMInvoker = (*Client)(nil)

// Invoke returns the next configured response, stepping through
// Responses in order, or the configured Error if set. Once every
// response has been returned, further calls fail; the list does not wrap.
func (c *Client) Invoke(ctx context.Context, prompt string) (*core.InvokeResult, error) {
	c.CallCount++
	c.LastPrompt = prompt

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if c.Error != nil {
		return nil, c.Error
	}

	if c.ResponseIndex >= len(c.Responses) {
		return nil, errors.New("mock: no more responses configured")
	}

	response := c.Responses[c.ResponseIndex]
	c.ResponseIndex++

	model := "mock-model"
	if c.Config != nil && c.Config.Model != "" {
		model = c.Config.Model
	}

	return &core.InvokeResult{
		Text:             response,
		Model:            model,
		PromptTokens:     len(prompt) / 4,
		CompletionTokens: len(response) / 4,
	}, nil
}

// RateLimitTarget implements core.RateLimitTarget so tests can exercise
// adaptive admission gating against a mock client.
func (c *Client) RateLimitTarget() (provider, model string) {
	model = "mock-model"
	if c.Config != nil && c.Config.Model != "" {
		model = c.Config.Model
	}
	return "mock", model
}

// SetResponses sets the responses to return.
func (c *Client) SetResponses(responses ...string) {
	c.Responses = responses
	c.ResponseIndex = 0
}

// SetError sets an error to return.
func (c *Client) SetError(err error) {
	c.Error = err
}

// Reset resets the mock client.
func (c *Client) Reset() {
	c.ResponseIndex = 0
	c.CallCount = 0
	c.LastPrompt = ""
	c.Error = nil
}
