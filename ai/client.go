// Package ai supplies a concrete core.LLMInvoker: an OpenAI-compatible
// chat-completions client. Sub-agents and team members never call an LLM
// provider directly (spec §1's out-of-scope "LLM invocation itself"); this
// is the one implementation the runtime wires in where a real provider is
// needed, with providers/anthropic and providers/mock covering the rest
// of the surface a caller might swap in.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/itsneelabh/agentrt/core"
)

// OpenAIClient implements core.LLMInvoker against the OpenAI chat
// completions API.
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	logger      core.Logger
}

// NewOpenAIClient creates a new OpenAI client. apiKey falls back to
// OPENAI_API_KEY when empty.
func NewOpenAIClient(apiKey string, logger core.Logger) *OpenAIClient {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	return &OpenAIClient{
		apiKey:      apiKey,
		baseURL:     "https://api.openai.com/v1",
		model:       "gpt-4",
		temperature: 0.7,
		maxTokens:   1000,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
	}
}

// NewOpenAIClientFromConfig builds an OpenAIClient from the shared
// AIConfig/AIOption surface (provider.go), so callers configuring a
// provider through WithAPIKey/WithModel/WithTemperature/etc. get the
// same construction path regardless of which concrete provider they
// select.
func NewOpenAIClientFromConfig(cfg *AIConfig) *OpenAIClient {
	c := NewOpenAIClient(cfg.APIKey, cfg.Logger)
	if cfg.BaseURL != "" {
		c.baseURL = cfg.BaseURL
	}
	if cfg.Model != "" {
		c.model = cfg.Model
	}
	if cfg.Temperature != 0 {
		c.temperature = float64(cfg.Temperature)
	}
	if cfg.MaxTokens != 0 {
		c.maxTokens = cfg.MaxTokens
	}
	if cfg.Timeout != 0 {
		c.httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return c
}

// Invoke implements core.LLMInvoker: a single prompt, the provider's
// response as a core.InvokeResult. The prompt already carries whatever
// system-prompt framing the caller (subagent.Scheduler) needs — this
// client sends it as a single user message, matching the Scheduler's own
// "prompt is pre-assembled" contract.
func (c *OpenAIClient) Invoke(ctx context.Context, prompt string) (*core.InvokeResult, error) {
	if c.apiKey == "" {
		return nil, core.NewFrameworkError("ai.OpenAIClient.Invoke", core.KindValidationFailure,
			fmt.Errorf("OpenAI API key not configured"))
	}

	reqBody := map[string]interface{}{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": c.temperature,
		"max_tokens":  c.maxTokens,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, core.NewFrameworkError("ai.OpenAIClient.Invoke", core.KindInternal, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, core.NewFrameworkError("ai.OpenAIClient.Invoke", core.KindInternal, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, core.NewFrameworkError("ai.OpenAIClient.Invoke", core.KindTimeout, err)
		}
		return nil, core.NewFrameworkError("ai.OpenAIClient.Invoke", core.KindTransientUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewFrameworkError("ai.OpenAIClient.Invoke", core.KindTransientUnavailable, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, core.NewFrameworkError("ai.OpenAIClient.Invoke", core.KindRateLimited,
			fmt.Errorf("OpenAI rate limited (status %d): %s", resp.StatusCode, string(body)))
	}
	if resp.StatusCode >= 500 {
		return nil, core.NewFrameworkError("ai.OpenAIClient.Invoke", core.KindTransientUnavailable,
			fmt.Errorf("OpenAI server error (status %d): %s", resp.StatusCode, string(body)))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, core.NewFrameworkError("ai.OpenAIClient.Invoke", core.KindValidationFailure,
			fmt.Errorf("OpenAI API error (status %d): %s", resp.StatusCode, string(body)))
	}

	var openAIResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &openAIResp); err != nil {
		return nil, core.NewFrameworkError("ai.OpenAIClient.Invoke", core.KindInternal, fmt.Errorf("parse response: %w", err))
	}
	if len(openAIResp.Choices) == 0 {
		return nil, core.NewFrameworkError("ai.OpenAIClient.Invoke", core.KindEmptyOutput, fmt.Errorf("no choices in OpenAI response"))
	}

	return &core.InvokeResult{
		Text:             openAIResp.Choices[0].Message.Content,
		Model:            openAIResp.Model,
		PromptTokens:     openAIResp.Usage.PromptTokens,
		CompletionTokens: openAIResp.Usage.CompletionTokens,
	}, nil
}

// RateLimitTarget implements core.RateLimitTarget, naming the model this
// client is configured to call ahead of any request.
func (c *OpenAIClient) RateLimitTarget() (provider, model string) {
	return "openai", c.model
}