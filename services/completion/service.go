// Package completion runs chat completions against a registered provider,
// retrying transient failures (rate limits, timeouts) up to a configured
// attempt budget.
package completion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llmutils/llmutils/services"
	"github.com/llmutils/llmutils/services/providers"
)

const (
	defaultMaxAttempts = 5
	defaultTimeout     = 60 * time.Second
)

// Request describes a single completion to run.
type Request struct {
	// Provider selects a registered provider by name. When empty, the
	// registry routes by model.
	Provider string

	// Model identifier (deployment name for Azure).
	Model string

	MaxTokens   int
	Temperature float64

	UserPrompt   string
	SystemPrompt string

	// Identifier names this completion in logs and failure messages.
	// Defaults to a fresh UUID.
	Identifier string

	// Timeout bounds each attempt, not the whole retry budget.
	Timeout time.Duration
}

// Service runs completions with retry.
type Service struct {
	registry    *providers.Registry
	logger      *zap.Logger
	maxAttempts int
}

// NewService creates a completion service. maxAttempts <= 0 selects the default.
func NewService(registry *providers.Registry, logger *zap.Logger, maxAttempts int) *Service {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Service{
		registry:    registry,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// Complete runs the request. Retryable provider failures (rate limit,
// timeout) are reattempted up to the service's attempt budget; any other
// failure aborts immediately.
func (s *Service) Complete(ctx context.Context, req *Request) (*providers.ChatResponse, error) {
	if strings.TrimSpace(req.UserPrompt) == "" {
		return nil, services.ErrEmptyPrompt
	}

	identifier := req.Identifier
	if identifier == "" {
		identifier = uuid.New().String()
	}

	provider, err := s.resolveProvider(req)
	if err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	chatReq := &providers.ChatRequest{
		Model:       req.Model,
		Messages:    buildMessages(req),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Metadata:    map[string]string{"completion_id": identifier},
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, services.WrapExternal(
				fmt.Sprintf("completion %s canceled", identifier), err)
		}

		s.logger.Debug("invoking provider",
			zap.String("completion_id", identifier),
			zap.String("provider", provider.Name()),
			zap.String("model", req.Model),
			zap.Int("attempt", attempt))

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := provider.ChatCompletion(attemptCtx, chatReq)
		cancel()

		if err == nil {
			s.logger.Info("completion succeeded",
				zap.String("completion_id", identifier),
				zap.String("provider", provider.Name()),
				zap.Int("attempt", attempt),
				zap.Int("total_tokens", resp.Usage.TotalTokens),
				zap.Duration("latency", resp.Latency))
			return resp, nil
		}

		if !providers.IsRetryable(err) {
			return nil, services.WrapExternal(
				fmt.Sprintf("completion %s failed", identifier), err)
		}

		lastErr = err
		s.logger.Warn("retryable completion failure",
			zap.String("completion_id", identifier),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.maxAttempts),
			zap.Error(err))
	}

	return nil, services.WrapExternal(
		fmt.Sprintf("failed to get completion for %s after %d attempts", identifier, s.maxAttempts),
		lastErr)
}

// resolveProvider picks the provider by name when given, by model otherwise.
func (s *Service) resolveProvider(req *Request) (providers.Provider, error) {
	if req.Provider != "" {
		provider, err := s.registry.GetProvider(req.Provider)
		if err != nil {
			return nil, services.NewDomainError(services.ErrorTypeValidation,
				fmt.Sprintf("provider %q is not configured (available: %s)",
					req.Provider, strings.Join(s.registry.ListProviders(), ", ")), err)
		}
		return provider, nil
	}

	provider, err := s.registry.GetProviderForModel(req.Model)
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation,
			fmt.Sprintf("no configured provider serves model %q", req.Model), err)
	}
	return provider, nil
}

func buildMessages(req *Request) []providers.Message {
	messages := make([]providers.Message, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, providers.Message{
			Role:    providers.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, providers.Message{
		Role:    providers.RoleUser,
		Content: req.UserPrompt,
	})
	return messages
}
