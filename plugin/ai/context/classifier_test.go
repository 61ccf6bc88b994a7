package context

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/groupmind/plugin/ai"
	"github.com/hrygo/groupmind/store"
)

func TestRuleClassifier(t *testing.T) {
	tests := []struct {
		name    string
		role    store.Role
		content string
		want    store.MessageType
	}{
		{"user role wins", store.RoleUser, "失败 错误 问题", store.MessageTypeUser},
		{"two failure keywords", store.RoleAssistant, "部署失败了，日志里有 ERROR", store.MessageTypeFailure},
		{"one failure keyword is not enough", store.RoleAssistant, "这里有个问题", store.MessageTypeNormal},
		{"repeated failure keyword counts twice", store.RoleAssistant, "error: the build hit another error", store.MessageTypeFailure},
		{"repeated status keyword counts twice", store.RoleAssistant, "DONE here, done there", store.MessageTypeStatus},
		{"failure beats status", store.RoleAssistant, "最终确认：构建失败，报错如下", store.MessageTypeFailure},
		{"two status keywords", store.RoleAssistant, "Done, the migration completed", store.MessageTypeStatus},
		{"three reasoning keywords", store.RoleAssistant, "我们可以考虑两个方案，或者再比较一下", store.MessageTypeReasoning},
		{"two reasoning keywords", store.RoleAssistant, "maybe consider it", store.MessageTypeNormal},
		{"plain", store.RoleAssistant, "好的，收到", store.MessageTypeNormal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			types, err := RuleClassifier{}.Classify(context.Background(), []*store.Message{{Role: tt.role, Content: tt.content}})
			require.NoError(t, err)
			assert.Equal(t, []store.MessageType{tt.want}, types)
		})
	}
}

func TestParseClassifyReply(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    []store.MessageType
		wantErr bool
	}{
		{
			name:  "full reply",
			reply: `[{"index":0,"type":"user"},{"index":1,"type":"status"},{"index":2,"type":"failure"}]`,
			want:  []store.MessageType{store.MessageTypeUser, store.MessageTypeStatus, store.MessageTypeFailure},
		},
		{
			name:  "code fence and case",
			reply: "```json\n[{\"index\":1,\"type\":\"Reasoning\"}]\n```",
			want:  []store.MessageType{store.MessageTypeNormal, store.MessageTypeReasoning, store.MessageTypeNormal},
		},
		{
			name:  "unknown type and out of range index",
			reply: `[{"index":0,"type":"chitchat"},{"index":7,"type":"user"},{"type":"user"}]`,
			want:  []store.MessageType{store.MessageTypeNormal, store.MessageTypeNormal, store.MessageTypeNormal},
		},
		{
			name:  "empty array",
			reply: `[]`,
			want:  []store.MessageType{store.MessageTypeNormal, store.MessageTypeNormal, store.MessageTypeNormal},
		},
		{name: "no array", reply: "I cannot do that", wantErr: true},
		{name: "broken json", reply: `[{"index":0,}]`, wantErr: true},
		{name: "not objects", reply: `["user","status"]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseClassifyReply(tt.reply, 3)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLLMClassifier(t *testing.T) {
	ctx := context.Background()
	msgs := []*store.Message{
		{Role: store.RoleUser, Content: "帮我看看"},
		{Role: store.RoleAssistant, SenderName: "Coder", Content: "完成了"},
	}

	t.Run("request shape", func(t *testing.T) {
		llm := ai.NewMockLLMService(`[{"index":0,"type":"user"},{"index":1,"type":"status"}]`)
		c := NewLLMClassifier(llm)
		c.RetryDelay = 0

		types, err := c.Classify(ctx, msgs)
		require.NoError(t, err)
		assert.Equal(t, []store.MessageType{store.MessageTypeUser, store.MessageTypeStatus}, types)

		require.Equal(t, 1, llm.Calls())
		req := llm.Requests[0]
		assert.InDelta(t, 0.1, req.Temperature, 1e-6)
		assert.Equal(t, 1000, req.MaxTokens)
		assert.Contains(t, req.UserPrompt, "[0] [用户]: 帮我看看")
		assert.Contains(t, req.UserPrompt, "[1] [Coder]: 完成了")
	})

	t.Run("malformed reply is retried", func(t *testing.T) {
		llm := ai.NewMockLLMService("not json", `[{"index":1,"type":"failure"}]`)
		c := NewLLMClassifier(llm)
		c.RetryDelay = 0

		types, err := c.Classify(ctx, msgs)
		require.NoError(t, err)
		assert.Equal(t, 2, llm.Calls())
		assert.Equal(t, store.MessageTypeFailure, types[1])
	})

	t.Run("gives up after three attempts", func(t *testing.T) {
		llm := &ai.MockLLMService{Err: errors.New("boom")}
		c := NewLLMClassifier(llm)
		c.RetryDelay = 0

		_, err := c.Classify(ctx, msgs)
		assert.Error(t, err)
		assert.Equal(t, 3, llm.Calls())
	})
}

func TestFallbackClassifier(t *testing.T) {
	ctx := context.Background()
	msgs := []*store.Message{
		{Role: store.RoleUser, Content: "hello"},
		{Role: store.RoleAssistant, Content: "task completed, success"},
	}

	t.Run("uses rules when the llm fails", func(t *testing.T) {
		llm := &ai.MockLLMService{Err: errors.New("unavailable")}
		c := NewFallbackClassifier(llm)
		c.Primary.(*LLMClassifier).RetryDelay = 0

		types, err := c.Classify(ctx, msgs)
		require.NoError(t, err)
		assert.Equal(t, []store.MessageType{store.MessageTypeUser, store.MessageTypeStatus}, types)
	})

	t.Run("nil llm uses rules only", func(t *testing.T) {
		c := NewFallbackClassifier(nil)
		types, err := c.Classify(ctx, msgs)
		require.NoError(t, err)
		assert.Len(t, types, 2)
	})

	t.Run("annotate writes types", func(t *testing.T) {
		llm := ai.NewMockLLMService(`[{"index":0,"type":"user"},{"index":1,"type":"reasoning"}]`)
		work := []*store.Message{msgs[0].Clone(), msgs[1].Clone()}
		require.NoError(t, annotate(ctx, NewFallbackClassifier(llm), work))
		assert.Equal(t, store.MessageTypeReasoning, work[1].Type)
	})
}
