// Package azure implements the unified Provider interface against the
// Azure OpenAI chat completions API. The request model name doubles as the
// deployment name in the request URL.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/llmutils/llmutils/services/providers"
)

const defaultAPIVersion = "2024-02-01"

// Adapter implements the Provider interface for Azure OpenAI
type Adapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
}

// New creates a new Azure OpenAI adapter
func New(config providers.ProviderConfig) *Adapter {
	if config.APIVersion == "" {
		config.APIVersion = defaultAPIVersion
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	return &Adapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return "azure"
}

// ValidateModel checks the deployment name
func (a *Adapter) ValidateModel(model string) error {
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("deployment name cannot be empty")
	}
	return nil
}

// ListModels returns the deployments this adapter routes by default.
// Azure deployment names are tenant-specific, so no defaults are assumed.
func (a *Adapter) ListModels() []string {
	return nil
}

// endpoint builds the deployment-scoped chat completions URL
func (a *Adapter) endpoint(deployment string) string {
	base := strings.TrimRight(a.config.BaseURL, "/")
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		base, url.PathEscape(deployment), url.QueryEscape(a.config.APIVersion))
}

// ChatCompletion performs a chat completion request
func (a *Adapter) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	startTime := time.Now()

	if err := a.ValidateModel(req.Model); err != nil {
		return nil, providers.NewProviderError(a.Name(), "invalid_model", err.Error(), http.StatusBadRequest, false, err)
	}
	if a.config.BaseURL == "" {
		return nil, providers.NewProviderError(a.Name(), "missing_endpoint",
			"AZURE_API_BASE is not configured", 0, false, nil)
	}

	body, err := json.Marshal(buildWireRequest(req))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "marshal_error", "failed to marshal request", 0, false, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(req.Model), bytes.NewReader(body))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "request_error", "failed to create request", 0, false, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", a.config.APIKey)
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(a.Name(), err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "read_error", "failed to read response", httpResp.StatusCode, false, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, handleErrorResponse(a.Name(), httpResp.StatusCode, respBody)
	}

	var wireResp wireChatResponse
	if err := json.Unmarshal(respBody, &wireResp); err != nil {
		return nil, providers.NewProviderError(a.Name(), "unmarshal_error", "failed to unmarshal response", httpResp.StatusCode, false, err)
	}

	return toUnifiedResponse(a.Name(), &wireResp, time.Since(startTime)), nil
}

func classifyTransportError(provider string, err error) *providers.ProviderError {
	if errors.Is(err, context.DeadlineExceeded) {
		return providers.NewProviderError(provider, "timeout", "request timed out", 0, true, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return providers.NewProviderError(provider, "timeout", "request timed out", 0, true, err)
	}
	return providers.NewProviderError(provider, "http_error", "HTTP request failed", 0, true, err)
}

func handleErrorResponse(provider string, statusCode int, body []byte) error {
	retryable := statusCode >= 500 || statusCode == http.StatusTooManyRequests

	var errResp wireErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return providers.NewProviderError(provider, "unknown_error", string(body), statusCode, retryable, nil)
	}

	code := errResp.Error.Code
	if statusCode == http.StatusTooManyRequests {
		code = "rate_limit"
	}
	return providers.NewProviderError(provider, code, errResp.Error.Message, statusCode, retryable,
		errors.New(errResp.Error.Message))
}

func buildWireRequest(req *providers.ChatRequest) *wireChatRequest {
	wireReq := &wireChatRequest{
		Messages: make([]wireMessage, len(req.Messages)),
	}
	for i, msg := range req.Messages {
		wireReq.Messages[i] = wireMessage{Role: msg.Role, Content: msg.Content}
	}
	if req.MaxTokens > 0 {
		wireReq.MaxTokens = &req.MaxTokens
	}
	if req.Temperature > 0 {
		wireReq.Temperature = &req.Temperature
	}
	return wireReq
}

func toUnifiedResponse(provider string, wireResp *wireChatResponse, latency time.Duration) *providers.ChatResponse {
	resp := &providers.ChatResponse{
		ID:       wireResp.ID,
		Model:    wireResp.Model,
		Provider: provider,
		Choices:  make([]providers.Choice, len(wireResp.Choices)),
		Usage: providers.Usage{
			PromptTokens:     wireResp.Usage.PromptTokens,
			CompletionTokens: wireResp.Usage.CompletionTokens,
			TotalTokens:      wireResp.Usage.TotalTokens,
		},
		Latency: latency,
		Created: time.Unix(wireResp.Created, 0),
	}
	for i, choice := range wireResp.Choices {
		resp.Choices[i] = providers.Choice{
			Index: choice.Index,
			Message: providers.Message{
				Role:    choice.Message.Role,
				Content: choice.Message.Content,
			},
			FinishReason: choice.FinishReason,
		}
	}
	return resp
}

// Wire types: Azure serves the OpenAI-compatible chat schema, minus the
// model field on requests (the deployment is addressed in the URL).

type wireChatRequest struct {
	Messages    []wireMessage `json:"messages"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   wireUsage    `json:"usage"`
}

type wireChoice struct {
	Index        int         `json:"index"`
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireErrorResponse struct {
	Error wireError `json:"error"`
}

type wireError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}
