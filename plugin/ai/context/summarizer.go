package context

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hrygo/groupmind/plugin/ai"
	"github.com/hrygo/groupmind/plugin/ai/retry"
	"github.com/hrygo/groupmind/store"
)

// Summarizer condenses a run of messages into one structured summary.
type Summarizer struct {
	llm         ai.LLMService
	MaxAttempts int
	RetryDelay  time.Duration
}

// NewSummarizer creates a summarizer with 3 attempts and a 1s fixed delay.
func NewSummarizer(llm ai.LLMService) *Summarizer {
	return &Summarizer{llm: llm, MaxAttempts: 3, RetryDelay: time.Second}
}

// Summarize returns the summary text and the transcript it was built from.
func (s *Summarizer) Summarize(ctx context.Context, msgs []*store.Message) (summary, source string, err error) {
	if len(msgs) == 0 {
		return "", "", fmt.Errorf("nothing to summarize")
	}
	if s.llm == nil {
		return "", "", fmt.Errorf("summarizer has no llm")
	}

	source = transcript(msgs)
	req := ai.CompletionRequest{
		SystemPrompt: summarizeSystemPrompt,
		UserPrompt:   buildSummarizeUserPrompt(source),
		Temperature:  0.3,
		MaxTokens:    500,
	}

	err = retry.Do(ctx, retry.Fixed(s.MaxAttempts, s.RetryDelay), func(int) error {
		reply, err := s.llm.Complete(ctx, req)
		if err != nil {
			return err
		}
		reply = strings.TrimSpace(reply)
		if reply == "" {
			return ai.ErrEmptyResponse
		}
		summary = reply
		return nil
	})
	if err != nil {
		return "", source, fmt.Errorf("summarize %d messages: %w", len(msgs), err)
	}
	return summary, source, nil
}
