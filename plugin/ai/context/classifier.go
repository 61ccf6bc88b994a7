package context

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/hrygo/groupmind/plugin/ai"
	"github.com/hrygo/groupmind/plugin/ai/retry"
	"github.com/hrygo/groupmind/store"
)

// Classifier assigns a MessageType to each message. The result has the same
// length and order as the input.
type Classifier interface {
	Classify(ctx context.Context, msgs []*store.Message) ([]store.MessageType, error)
}

var (
	statusKeywords = []string{
		"完成", "成功", "已经", "确定", "决定", "最终", "结论", "总结", "采用", "选择", "确认",
		"done", "completed", "success", "decided", "conclusion",
	}
	reasoningKeywords = []string{
		"考虑", "分析", "比较", "权衡", "思考", "评估", "方案", "选项", "可能", "或者", "如果",
		"think", "consider", "analyze", "compare", "option", "maybe",
	}
	failureKeywords = []string{
		"失败", "错误", "问题", "无法", "不能", "报错", "异常",
		"bug", "error", "failed", "issue", "cannot",
	}
)

var (
	statusPattern    = keywordPattern(statusKeywords)
	reasoningPattern = keywordPattern(reasoningKeywords)
	failurePattern   = keywordPattern(failureKeywords)
)

func keywordPattern(keywords []string) *regexp.Regexp {
	quoted := make([]string, len(keywords))
	for i, kw := range keywords {
		quoted[i] = regexp.QuoteMeta(kw)
	}
	return regexp.MustCompile("(?i)" + strings.Join(quoted, "|"))
}

var classifyReplySchema = ai.MustCompileSchema("classify_reply.json", `{
	"type": "array",
	"items": {
		"type": "object",
		"properties": {
			"index": {"type": "integer"},
			"type": {"type": "string"}
		}
	}
}`)

// RuleClassifier classifies by role and keyword counts. It never fails.
type RuleClassifier struct{}

// Classify implements Classifier.
func (RuleClassifier) Classify(_ context.Context, msgs []*store.Message) ([]store.MessageType, error) {
	types := make([]store.MessageType, len(msgs))
	for i, m := range msgs {
		types[i] = classifyByRule(m)
	}
	return types, nil
}

func classifyByRule(m *store.Message) store.MessageType {
	if m.Role == store.RoleUser {
		return store.MessageTypeUser
	}

	switch {
	case countMatches(m.Content, failurePattern) >= 2:
		return store.MessageTypeFailure
	case countMatches(m.Content, statusPattern) >= 2:
		return store.MessageTypeStatus
	case countMatches(m.Content, reasoningPattern) >= 3:
		return store.MessageTypeReasoning
	default:
		return store.MessageTypeNormal
	}
}

// countMatches counts non-overlapping keyword occurrences, repeats included.
func countMatches(content string, pattern *regexp.Regexp) int {
	return len(pattern.FindAllStringIndex(content, -1))
}

// LLMClassifier classifies a whole batch with one chat completion.
type LLMClassifier struct {
	llm         ai.LLMService
	MaxAttempts int
	RetryDelay  time.Duration
}

// NewLLMClassifier creates a classifier with 3 attempts and a 1s fixed delay.
func NewLLMClassifier(llm ai.LLMService) *LLMClassifier {
	return &LLMClassifier{llm: llm, MaxAttempts: 3, RetryDelay: time.Second}
}

type classifyItem struct {
	Index *int   `json:"index"`
	Type  string `json:"type"`
}

// Classify implements Classifier. A malformed reply counts as a failed attempt.
func (c *LLMClassifier) Classify(ctx context.Context, msgs []*store.Message) ([]store.MessageType, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	req := ai.CompletionRequest{
		SystemPrompt: classifySystemPrompt,
		UserPrompt:   buildClassifyUserPrompt(msgs),
		Temperature:  0.1,
		MaxTokens:    1000,
	}

	var types []store.MessageType
	err := retry.Do(ctx, retry.Fixed(c.MaxAttempts, c.RetryDelay), func(attempt int) error {
		reply, err := c.llm.Complete(ctx, req)
		if err != nil {
			return err
		}
		parsed, err := parseClassifyReply(reply, len(msgs))
		if err != nil {
			slog.Debug("classifier reply rejected", "attempt", attempt, "error", err)
			return err
		}
		types = parsed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("llm classify: %w", err)
	}
	return types, nil
}

// parseClassifyReply maps a reply onto n types. Indices that are missing or
// out of range leave the default normal type in place.
func parseClassifyReply(reply string, n int) ([]store.MessageType, error) {
	var items []classifyItem
	if err := ai.DecodeJSONArray(reply, classifyReplySchema, &items); err != nil {
		return nil, err
	}

	types := make([]store.MessageType, n)
	for i := range types {
		types[i] = store.MessageTypeNormal
	}
	for _, item := range items {
		if item.Index == nil || *item.Index < 0 || *item.Index >= n {
			continue
		}
		t, _ := store.ParseMessageType(strings.ToLower(strings.TrimSpace(item.Type)))
		types[*item.Index] = t
	}
	return types, nil
}

// FallbackClassifier runs Primary and falls back to Secondary for the whole
// batch when Primary fails.
type FallbackClassifier struct {
	Primary   Classifier
	Secondary Classifier
}

// NewFallbackClassifier creates the LLM classifier with the rule fallback.
// A nil llm yields rules only.
func NewFallbackClassifier(llm ai.LLMService) *FallbackClassifier {
	c := &FallbackClassifier{Secondary: RuleClassifier{}}
	if llm != nil {
		c.Primary = NewLLMClassifier(llm)
	}
	return c
}

// Classify implements Classifier.
func (c *FallbackClassifier) Classify(ctx context.Context, msgs []*store.Message) ([]store.MessageType, error) {
	if c.Primary != nil {
		types, err := c.Primary.Classify(ctx, msgs)
		if err == nil {
			return types, nil
		}
		slog.Warn("llm classification failed, using keyword rules",
			"messages", len(msgs),
			"error", err,
		)
	}
	return c.Secondary.Classify(ctx, msgs)
}

// annotate classifies msgs in place and logs the resulting distribution.
// Summaries produced by an earlier pass keep their type.
func annotate(ctx context.Context, classifier Classifier, msgs []*store.Message) error {
	types, err := classifier.Classify(ctx, msgs)
	if err != nil {
		return err
	}
	if len(types) != len(msgs) {
		return fmt.Errorf("classifier returned %d types for %d messages", len(types), len(msgs))
	}

	dist := make(map[store.MessageType]int, 5)
	for i, m := range msgs {
		if !m.Compressed || m.Type == "" {
			m.Type = types[i]
		}
		dist[m.Type]++
	}
	slog.Debug("messages classified",
		"total", len(msgs),
		"user", dist[store.MessageTypeUser],
		"status", dist[store.MessageTypeStatus],
		"reasoning", dist[store.MessageTypeReasoning],
		"failure", dist[store.MessageTypeFailure],
		"normal", dist[store.MessageTypeNormal],
	)
	return nil
}
