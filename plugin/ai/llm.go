package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/hrygo/groupmind/plugin/ai/timeout"
)

// ErrEmptyResponse is returned when the model answers with no content.
var ErrEmptyResponse = errors.New("empty response")

// CompletionRequest is a single-turn completion: one system prompt, one user prompt.
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	// Temperature and MaxTokens fall back to the service defaults when zero.
	Temperature float32
	MaxTokens   int
}

// LLMService is the chat-completion collaborator used by the classifier,
// the summarizer and the memory extractor.
type LLMService interface {
	// Complete sends one completion request and returns the text answer.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

type openAIService struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	limiter     *rate.Limiter
}

// NewLLMService creates a new LLMService.
func NewLLMService(cfg *LLMConfig) (LLMService, error) {
	switch cfg.Provider {
	case "deepseek", "openai", "siliconflow", "ollama":
		// All of these speak the OpenAI chat completion protocol.
		clientConfig := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
		return &openAIService{
			client:      openai.NewClientWithConfig(clientConfig),
			model:       cfg.Model,
			maxTokens:   cfg.MaxTokens,
			temperature: cfg.Temperature,
			limiter:     newLimiter(cfg.RateLimit),
		}, nil

	case "anthropic":
		return newAnthropicService(cfg), nil

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func waitLimiter(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

func (s *openAIService) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if err := waitLimiter(ctx, s.limiter); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout.LLMCallTimeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserPrompt,
	})

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    messages,
		Temperature: pickTemperature(req.Temperature, s.temperature),
		MaxTokens:   pickMaxTokens(req.MaxTokens, s.maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("create chat completion failed: %w", err)
	}

	slog.Debug("llm completion",
		"model", s.model,
		"latency_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

func pickTemperature(requested, fallback float32) float32 {
	if requested > 0 {
		return requested
	}
	return fallback
}

func pickMaxTokens(requested, fallback int) int {
	if requested > 0 {
		return requested
	}
	if fallback > 0 {
		return fallback
	}
	return 2048
}
