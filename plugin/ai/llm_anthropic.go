package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"

	"github.com/hrygo/groupmind/plugin/ai/timeout"
)

type anthropicService struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature float32
	limiter     *rate.Limiter
}

func newAnthropicService(cfg *LLMConfig) *anthropicService {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &anthropicService{
		client:      anthropic.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		limiter:     newLimiter(cfg.RateLimit),
	}
}

func (s *anthropicService) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if err := waitLimiter(ctx, s.limiter); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout.LLMCallTimeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: int64(pickMaxTokens(req.MaxTokens, s.maxTokens)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
		Temperature: anthropic.Float(float64(pickTemperature(req.Temperature, s.temperature))),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	start := time.Now()
	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("create message failed: %w", err)
	}

	slog.Debug("llm completion",
		"model", s.model,
		"latency_ms", time.Since(start).Milliseconds(),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)

	var text strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}
	content := strings.TrimSpace(text.String())
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}
