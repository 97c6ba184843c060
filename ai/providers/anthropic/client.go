// Package anthropic implements core.LLMInvoker against Anthropic's native
// Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/itsneelabh/agentrt/ai/providers"
	"github.com/itsneelabh/agentrt/core"
)

const (
	// DefaultBaseURL is the default Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com/v1"
	// APIVersion is the required Anthropic API version header.
	APIVersion = "2023-06-01"
)

// Client implements core.LLMInvoker for Anthropic.
type Client struct {
	*providers.BaseClient
	apiKey  string
	baseURL string
}

var _ core.LLMInvoker = (*Client)(nil)

// NewClient creates a new Anthropic client with configuration.
func NewClient(apiKey, baseURL string, logger core.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	base := providers.NewBaseClient(30*time.Second, logger)
	base.DefaultModel = "claude-3-5-sonnet-20241022"
	base.DefaultMaxTokens = 1000

	return &Client{
		BaseClient: base,
		apiKey:     apiKey,
		baseURL:    baseURL,
	}
}

// Invoke implements core.LLMInvoker: a single prompt sent to Anthropic's
// Messages API as one user turn, with the client's configured retry
// policy (providers.BaseClient.ExecuteWithRetry).
func (c *Client) Invoke(ctx context.Context, prompt string) (*core.InvokeResult, error) {
	if c.apiKey == "" {
		return nil, core.NewFrameworkError("anthropic.Client.Invoke", core.KindValidationFailure,
			fmt.Errorf("anthropic API key not configured"))
	}

	model := resolveModel(c.EffectiveModel(""))
	c.LogRequest("anthropic", model, prompt)

	reqBody := AnthropicRequest{
		Model:       model,
		Messages:    []Message{{Role: "user", Content: prompt}},
		MaxTokens:   c.DefaultMaxTokens,
		Temperature: c.DefaultTemperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, core.NewFrameworkError("anthropic.Client.Invoke", core.KindInternal, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, core.NewFrameworkError("anthropic.Client.Invoke", core.KindInternal, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", APIVersion)

	resp, err := c.ExecuteWithRetry(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, core.NewFrameworkError("anthropic.Client.Invoke", core.KindTimeout, err)
		}
		return nil, core.NewFrameworkError("anthropic.Client.Invoke", core.KindTransientUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewFrameworkError("anthropic.Client.Invoke", core.KindTransientUnavailable, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, core.NewFrameworkError("anthropic.Client.Invoke", core.KindRateLimited, c.HandleError(resp.StatusCode, body, "Anthropic"))
	}
	if resp.StatusCode >= 500 {
		return nil, core.NewFrameworkError("anthropic.Client.Invoke", core.KindTransientUnavailable, c.HandleError(resp.StatusCode, body, "Anthropic"))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, core.NewFrameworkError("anthropic.Client.Invoke", core.KindValidationFailure, c.HandleError(resp.StatusCode, body, "Anthropic"))
	}

	var anthropicResp AnthropicResponse
	if err := json.Unmarshal(body, &anthropicResp); err != nil {
		return nil, core.NewFrameworkError("anthropic.Client.Invoke", core.KindInternal, fmt.Errorf("parse response: %w", err))
	}

	var content string
	for _, item := range anthropicResp.Content {
		if item.Type == "text" {
			content += item.Text
		}
	}
	if content == "" {
		return nil, core.NewFrameworkError("anthropic.Client.Invoke", core.KindEmptyOutput, fmt.Errorf("no text content in Anthropic response"))
	}

	result := &core.InvokeResult{
		Text:             content,
		Model:            anthropicResp.Model,
		PromptTokens:     anthropicResp.Usage.InputTokens,
		CompletionTokens: anthropicResp.Usage.OutputTokens,
	}
	c.LogResponse("anthropic", result.Model, result, 0)
	return result, nil
}

// RateLimitTarget implements core.RateLimitTarget, naming the model this
// client resolves to ahead of any request.
func (c *Client) RateLimitTarget() (provider, model string) {
	return "anthropic", resolveModel(c.EffectiveModel(""))
}
