package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	aierrors "github.com/hrygo/groupmind/internal/errors"
	"github.com/hrygo/groupmind/internal/observability"
	"github.com/hrygo/groupmind/plugin/ai"
	"github.com/hrygo/groupmind/plugin/ai/retry"
	"github.com/hrygo/groupmind/store"
)

const (
	extractWindow        = 80
	fallbackWindow       = 60
	fallbackMaxItems     = 20
	maxContentRunes      = 200
	fallbackContentRunes = 160
	defaultConfidence    = 0.8
	conclusionConfidence = 0.76
	defaultMemoryType    = "discussion_asset"
	preferenceMemoryType = "user_profile"
)

var (
	preferenceKeywords = []string{"偏好", "喜欢", "请用", "尽量", "习惯", "以后", "希望你"}
	conclusionKeywords = []string{"结论", "最终", "建议", "方案", "总结", "达成一致"}
)

var extractReplySchema = ai.MustCompileSchema("extract_reply.json", `{
	"type": "array",
	"items": {"type": "object"}
}`)

// Extractor proposes memory candidates from raw messages. It asks the LLM
// first and falls back to keyword rules.
type Extractor struct {
	llm         ai.LLMService
	MaxAttempts int
	RetryDelay  time.Duration
}

// NewExtractor creates an extractor. A nil llm uses the keyword rules only.
func NewExtractor(llm ai.LLMService) *Extractor {
	return &Extractor{llm: llm, MaxAttempts: 3, RetryDelay: time.Second}
}

// Extract never fails: an unusable LLM answer degrades to the rules.
func (e *Extractor) Extract(ctx context.Context, msgs []*store.Message) []Candidate {
	if len(msgs) == 0 {
		return nil
	}

	if e.llm != nil {
		candidates, err := e.extractByLLM(ctx, tail(msgs, extractWindow))
		if err == nil {
			return candidates
		}
		observability.LoggerFrom(ctx).Warn("llm memory extraction failed, using keyword rules",
			"messages", len(msgs),
			"error", err,
		)
	}
	return fallbackExtract(msgs)
}

func (e *Extractor) extractByLLM(ctx context.Context, msgs []*store.Message) ([]Candidate, error) {
	req := ai.CompletionRequest{
		SystemPrompt: extractSystemPrompt,
		UserPrompt:   buildExtractUserPrompt(conversationText(msgs)),
		Temperature:  0.1,
		MaxTokens:    1200,
	}

	var candidates []Candidate
	err := retry.Do(ctx, retry.Fixed(e.MaxAttempts, e.RetryDelay), func(int) error {
		reply, err := e.llm.Complete(ctx, req)
		if err != nil {
			return aierrors.Wrap(err, aierrors.ErrCodeLLMFailed, "memory extraction call")
		}
		var items []map[string]any
		if err := ai.DecodeJSONArray(reply, extractReplySchema, &items); err != nil {
			return aierrors.Wrap(err, aierrors.ErrCodeExtractFailed, "decode extraction reply")
		}
		if len(items) == 0 {
			return aierrors.Wrap(nil, aierrors.ErrCodeExtractFailed, "no memory candidates in reply")
		}
		candidates = normalizeCandidates(items)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

func conversationText(msgs []*store.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		sender := m.SenderName
		if sender == "" {
			sender = "AI"
			if m.Role == store.RoleUser {
				sender = "用户"
			}
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", sender, m.Content))
	}
	return strings.Join(lines, "\n")
}

// normalizeCandidates drops items without a valid scope or content and fills defaults.
func normalizeCandidates(items []map[string]any) []Candidate {
	out := make([]Candidate, 0, len(items))
	for _, item := range items {
		scope, ok := store.ParseMemoryScope(strings.TrimSpace(stringField(item, "scope")))
		if !ok {
			continue
		}
		content := strings.TrimSpace(stringField(item, "content"))
		if content == "" {
			continue
		}
		memoryType := strings.TrimSpace(stringField(item, "memory_type"))
		if memoryType == "" {
			memoryType = defaultMemoryType
		}

		out = append(out, Candidate{
			Scope:      scope,
			MemoryType: memoryType,
			Content:    truncateRunes(content, maxContentRunes),
			Confidence: clamp01(floatField(item, "confidence", defaultConfidence)),
			SenderName: strings.TrimSpace(stringField(item, "sender_name")),
		})
	}
	return out
}

func fallbackExtract(msgs []*store.Message) []Candidate {
	var out []Candidate
	for _, m := range tail(msgs, fallbackWindow) {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}

		switch {
		case m.Role == store.RoleUser && containsAny(content, preferenceKeywords):
			out = append(out, Candidate{
				Scope:      store.ScopeUserGlobal,
				MemoryType: preferenceMemoryType,
				Content:    truncateRunes(content, fallbackContentRunes),
				Confidence: defaultConfidence,
				SenderName: m.SenderName,
			})
		case m.Role == store.RoleAssistant && containsAny(content, conclusionKeywords):
			out = append(out, Candidate{
				Scope:      store.ScopeGroupLocal,
				MemoryType: defaultMemoryType,
				Content:    truncateRunes(content, fallbackContentRunes),
				Confidence: conclusionConfidence,
				SenderName: m.SenderName,
			})
		}
		if len(out) == fallbackMaxItems {
			break
		}
	}
	return out
}

func stringField(item map[string]any, key string) string {
	switch v := item[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func floatField(item map[string]any, key string, fallback float64) float64 {
	switch v := item[key].(type) {
	case float64:
		return v
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func tail[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
