package completion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/llmutils/llmutils/services"
	"github.com/llmutils/llmutils/services/providers"
)

// scriptedProvider returns canned results per call, recording call count
type scriptedProvider struct {
	name    string
	results []error // nil entry = success
	calls   int
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) ChatCompletion(_ context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	idx := p.calls
	p.calls++
	if idx < len(p.results) && p.results[idx] != nil {
		return nil, p.results[idx]
	}
	return &providers.ChatResponse{
		ID:       "cmpl-1",
		Model:    req.Model,
		Provider: p.name,
		Choices: []providers.Choice{
			{Message: providers.Message{Role: providers.RoleAssistant, Content: "a story about a cat"}},
		},
		Usage: providers.Usage{TotalTokens: 42},
	}, nil
}

func (p *scriptedProvider) ValidateModel(string) error { return nil }
func (p *scriptedProvider) ListModels() []string       { return []string{"gpt-4o"} }

func retryableErr() error {
	return providers.NewProviderError("fake", "rate_limit", "slow down", 429, true, nil)
}

func fatalErr() error {
	return providers.NewProviderError("fake", "invalid_request", "bad prompt", 400, false, nil)
}

func newService(t *testing.T, p providers.Provider, maxAttempts int) *Service {
	t.Helper()
	registry := providers.NewRegistry()
	require.NoError(t, registry.RegisterProvider(p))
	return NewService(registry, zaptest.NewLogger(t), maxAttempts)
}

func TestComplete_Success(t *testing.T) {
	p := &scriptedProvider{name: "fake"}
	svc := newService(t, p, 3)

	resp, err := svc.Complete(context.Background(), &Request{
		Provider:   "fake",
		Model:      "gpt-4o",
		UserPrompt: "Write a short story about a cat.",
	})
	require.NoError(t, err)
	assert.Equal(t, "a story about a cat", resp.Text())
	assert.Equal(t, 1, p.calls)
}

func TestComplete_SystemPromptOrdering(t *testing.T) {
	req := &Request{
		SystemPrompt: "be brief",
		UserPrompt:   "hello",
	}
	messages := buildMessages(req)
	require.Len(t, messages, 2)
	assert.Equal(t, providers.RoleSystem, messages[0].Role)
	assert.Equal(t, providers.RoleUser, messages[1].Role)

	messages = buildMessages(&Request{UserPrompt: "hello"})
	require.Len(t, messages, 1)
	assert.Equal(t, providers.RoleUser, messages[0].Role)
}

func TestComplete_RetriesTransientFailures(t *testing.T) {
	p := &scriptedProvider{name: "fake", results: []error{retryableErr(), retryableErr(), nil}}
	svc := newService(t, p, 5)

	resp, err := svc.Complete(context.Background(), &Request{
		Provider:   "fake",
		Model:      "gpt-4o",
		UserPrompt: "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, p.calls)
	assert.Equal(t, 42, resp.Usage.TotalTokens)
}

func TestComplete_FailsFastOnFatalError(t *testing.T) {
	p := &scriptedProvider{name: "fake", results: []error{fatalErr()}}
	svc := newService(t, p, 5)

	_, err := svc.Complete(context.Background(), &Request{
		Provider:   "fake",
		Model:      "gpt-4o",
		UserPrompt: "hi",
	})
	require.Error(t, err)
	assert.True(t, services.IsExternalError(err))
	assert.Equal(t, 1, p.calls)
}

func TestComplete_ExhaustsAttempts(t *testing.T) {
	p := &scriptedProvider{name: "fake", results: []error{
		retryableErr(), retryableErr(), retryableErr(),
	}}
	svc := newService(t, p, 3)

	_, err := svc.Complete(context.Background(), &Request{
		Provider:   "fake",
		Model:      "gpt-4o",
		UserPrompt: "hi",
		Identifier: "task-7",
	})
	require.Error(t, err)
	assert.True(t, services.IsExternalError(err))
	assert.Contains(t, err.Error(), "task-7")
	assert.Contains(t, err.Error(), "3 attempts")
	assert.Equal(t, 3, p.calls)
}

func TestComplete_EmptyPrompt(t *testing.T) {
	p := &scriptedProvider{name: "fake"}
	svc := newService(t, p, 3)

	_, err := svc.Complete(context.Background(), &Request{
		Provider:   "fake",
		Model:      "gpt-4o",
		UserPrompt: "   ",
	})
	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))
	assert.Equal(t, 0, p.calls)
}

func TestComplete_UnknownProvider(t *testing.T) {
	p := &scriptedProvider{name: "fake"}
	svc := newService(t, p, 3)

	_, err := svc.Complete(context.Background(), &Request{
		Provider:   "anthropic",
		Model:      "claude-3",
		UserPrompt: "hi",
	})
	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))
	assert.Contains(t, err.Error(), "anthropic")
}

func TestComplete_RoutesByModelWhenProviderEmpty(t *testing.T) {
	p := &scriptedProvider{name: "fake"}
	svc := newService(t, p, 3)

	resp, err := svc.Complete(context.Background(), &Request{
		Model:      "gpt-4o",
		UserPrompt: "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "fake", resp.Provider)
}

func TestComplete_CanceledContext(t *testing.T) {
	p := &scriptedProvider{name: "fake"}
	svc := newService(t, p, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Complete(ctx, &Request{
		Provider:   "fake",
		Model:      "gpt-4o",
		UserPrompt: "hi",
	})
	require.Error(t, err)
	assert.Equal(t, 0, p.calls)
}

func TestNewService_DefaultAttempts(t *testing.T) {
	svc := NewService(providers.NewRegistry(), zaptest.NewLogger(t), 0)
	assert.Equal(t, defaultMaxAttempts, svc.maxAttempts)
}
