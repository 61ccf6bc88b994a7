package context

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/groupmind/plugin/ai"
	"github.com/hrygo/groupmind/store"
)

func newTestCompressor(llm ai.LLMService) *Compressor {
	s := NewSummarizer(llm)
	s.RetryDelay = 0
	return NewCompressor(s)
}

func triageInput() []*store.Message {
	scores := []float64{8, 3, 1, 4, 6, 0, 0, 0, 0, 0}
	msgs := make([]*store.Message, len(scores))
	for i, s := range scores {
		msgs[i] = scored(newMsg(i, store.RoleAssistant), s)
	}
	return msgs
}

func TestCompressor(t *testing.T) {
	ctx := context.Background()

	t.Run("short history is returned as is", func(t *testing.T) {
		llm := ai.NewMockLLMService("unused")
		msgs := triageInput()[:5]

		out := newTestCompressor(llm).Compress(ctx, msgs)
		assert.Equal(t, msgs, out)
		assert.Zero(t, llm.Calls())
	})

	t.Run("keeps high, summarizes medium, drops low", func(t *testing.T) {
		llm := ai.NewMockLLMService("📋 对话摘要\n- 核心话题：部署")
		msgs := triageInput()

		out := newTestCompressor(llm).Compress(ctx, msgs)
		assert.Equal(t, []string{"m000", "summary_m001", "m004", "m005", "m006", "m007", "m008", "m009"}, ids(out))
		assert.LessOrEqual(t, len(out), len(msgs))
		require.Equal(t, 1, llm.Calls())
		assert.InDelta(t, 0.3, llm.Requests[0].Temperature, 1e-6)
		assert.Equal(t, 500, llm.Requests[0].MaxTokens)

		summary := out[1]
		assert.Equal(t, "g1", summary.GroupID)
		assert.Equal(t, store.RoleAssistant, summary.Role)
		assert.Equal(t, "chat", summary.Mode)
		assert.Equal(t, msgs[1].CreatedAt, summary.CreatedAt)
		assert.Equal(t, store.MessageTypeStatus, summary.Type)
		assert.True(t, summary.Compressed)
		assert.Equal(t, "history summary", summary.SenderName)
		require.NotNil(t, summary.ValueScore)
		assert.InDelta(t, HighValueThreshold, *summary.ValueScore, 1e-9)
		assert.Contains(t, summary.OriginalContent, msgs[1].Content)
		assert.Contains(t, summary.OriginalContent, msgs[3].Content)
		assert.Contains(t, summary.Content, "对话摘要")
	})

	t.Run("failed summary keeps the chunk verbatim", func(t *testing.T) {
		llm := &ai.MockLLMService{Err: errors.New("timeout")}
		out := newTestCompressor(llm).Compress(ctx, triageInput())

		assert.Equal(t, []string{"m000", "m001", "m003", "m004", "m005", "m006", "m007", "m008", "m009"}, ids(out))
		assert.Equal(t, 3, llm.Calls())
	})

	t.Run("without summarizer medium messages stay", func(t *testing.T) {
		out := NewCompressor(nil).Compress(ctx, triageInput())
		assert.Equal(t, []string{"m000", "m001", "m003", "m004", "m005", "m006", "m007", "m008", "m009"}, ids(out))
	})

	t.Run("medium group is chunked", func(t *testing.T) {
		llm := ai.NewMockLLMService("summary")
		msgs := make([]*store.Message, 0, 125)
		for i := 0; i < 125; i++ {
			msgs = append(msgs, scored(newMsg(i, store.RoleAssistant), 3))
		}

		out := newTestCompressor(llm).Compress(ctx, msgs)
		assert.Equal(t, 3, llm.Calls())
		assert.Equal(t, []string{"summary_m000", "summary_m050", "summary_m100", "m120", "m121", "m122", "m123", "m124"}, ids(out))
	})

	t.Run("output is chronological before the recent tail", func(t *testing.T) {
		llm := ai.NewMockLLMService("summary")
		msgs := triageInput()
		// An old high-value message out of order in the input.
		msgs[4].CreatedAt = testBase.Add(-10 * time.Minute)

		out := newTestCompressor(llm).Compress(ctx, msgs)
		assert.Equal(t, []string{"m004", "m000", "summary_m001", "m005", "m006", "m007", "m008", "m009"}, ids(out))
	})
}

func TestCompressorKeepsRecentTail(t *testing.T) {
	types := []store.MessageType{
		store.MessageTypeUser,
		store.MessageTypeNormal, store.MessageTypeNormal, store.MessageTypeNormal,
		store.MessageTypeNormal, store.MessageTypeNormal,
		store.MessageTypeUser,
	}
	msgs := make([]*store.Message, len(types))
	for i, typ := range types {
		role := store.RoleAssistant
		score := 1.0
		if typ == store.MessageTypeUser {
			role, score = store.RoleUser, 10
		}
		msgs[i] = scored(newMsg(i, role), score)
		msgs[i].Type = typ
	}
	tail := append([]*store.Message(nil), msgs[2:]...)

	llm := ai.NewMockLLMService("unused")
	out := newTestCompressor(llm).Compress(context.Background(), msgs)

	assert.Equal(t, []string{"m000", "m002", "m003", "m004", "m005", "m006"}, ids(out))
	assert.Equal(t, tail, out[1:])
	assert.Zero(t, llm.Calls())
}
