package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/groupmind/plugin/ai"
	"github.com/hrygo/groupmind/store"
	teststore "github.com/hrygo/groupmind/store/test"
)

var testBase = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ArchiveBackoff = 0
	cfg.ExtractDelay = 0
	return cfg
}

func testGroup() *store.Group {
	return &store.Group{
		ID:   "g1",
		Name: "launch team",
		Members: []*store.GroupMember{
			{ID: "mem-coder", Name: "Coder", ModelID: "deepseek-chat", Task: "write code", Temperature: 0.7},
			{ID: "mem-reviewer", Name: "Reviewer", ModelID: "deepseek-chat", Task: "review", Thinking: true, Temperature: 0.2},
		},
		Settings: store.DefaultMemorySettings(),
	}
}

type fixture struct {
	store   *store.Store
	service *Service
	group   *store.Group
	llm     *ai.MockLLMService
}

// newFixture opens a migrated store and builds a service. A nil embedder
// disables vectors.
func newFixture(ctx context.Context, t *testing.T, llm *ai.MockLLMService, embedder ai.EmbeddingService) *fixture {
	t.Helper()
	ts := teststore.NewTestingStore(ctx, t)
	group := testGroup()
	_, err := ts.UpsertGroup(ctx, group)
	require.NoError(t, err)

	var llmService ai.LLMService
	if llm != nil {
		llmService = llm
	}
	gateway := NewGateway(ctx, ts, embedder, nil)
	return &fixture{
		store:   ts,
		service: NewService(ts, gateway, llmService, testConfig()),
		group:   group,
		llm:     llm,
	}
}

// addMessages stores messages [from, to): even indexes from the user, odd ones from Coder.
func (f *fixture) addMessages(ctx context.Context, t *testing.T, from, to int) {
	t.Helper()
	for i := from; i < to; i++ {
		m := &store.Message{
			ID:         fmt.Sprintf("msg-%03d", i),
			GroupID:    f.group.ID,
			Role:       store.RoleUser,
			SenderName: "alice",
			Content:    fmt.Sprintf("message number %d about the launch plan", i),
			CreatedAt:  testBase.Add(time.Duration(i) * time.Minute),
		}
		if i%2 == 1 {
			m.Role = store.RoleAssistant
			m.SenderName = "Coder"
		}
		_, err := f.store.CreateMessage(ctx, m)
		require.NoError(t, err)
	}
}

func (f *fixture) seed(ctx context.Context, t *testing.T, records ...*store.LongTermMemory) []string {
	t.Helper()
	ids, err := f.service.Gateway().AddMemories(ctx, records)
	require.NoError(t, err)
	return ids
}

func (f *fixture) activeMemories(ctx context.Context, t *testing.T) []*store.LongTermMemory {
	t.Helper()
	list, err := f.store.ListLongTermMemories(ctx, &store.FindLongTermMemory{ActiveOnly: true})
	require.NoError(t, err)
	return list
}
