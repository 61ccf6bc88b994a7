package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	aierrors "github.com/hrygo/groupmind/internal/errors"
	"github.com/hrygo/groupmind/plugin/ai"
	"github.com/hrygo/groupmind/store"
)

const archiveReply = `[
	{"scope":"user_global","memory_type":"user_profile","content":"alice prefers concise answers","confidence":0.9},
	{"scope":"group_local","memory_type":"discussion_asset","content":"launch moves to June 20","confidence":0.8},
	{"scope":"agent_local","memory_type":"style","content":"Coder writes table-driven tests","confidence":0.85,"sender_name":"Coder"},
	{"scope":"agent_local","content":"ghost member fact","confidence":0.9,"sender_name":"Ghost"},
	{"scope":"group_local","content":"weak guess","confidence":0.3},
	{"scope":"team","content":"bad scope","confidence":0.9}
]`

var errCheckpointWrite = errors.New("database is locked")

// checkpointFailStore fails every checkpoint write.
type checkpointFailStore struct {
	Store
}

func (checkpointFailStore) UpsertMemoryCheckpoint(context.Context, *store.MemoryCheckpoint) (*store.MemoryCheckpoint, error) {
	return nil, errCheckpointWrite
}

func auditEvents(ctx context.Context, t *testing.T, f *fixture) []*store.MemoryAuditLog {
	t.Helper()
	logs, err := f.store.ListMemoryAuditLogs(ctx, &store.FindMemoryAuditLog{GroupID: &f.group.ID})
	require.NoError(t, err)
	return logs
}

func TestArchiveSkips(t *testing.T) {
	ctx := context.Background()

	t.Run("nil group", func(t *testing.T) {
		f := newFixture(ctx, t, nil, nil)
		_, err := f.service.ArchiveIncremental(ctx, nil, "alice", false, "test")
		assert.True(t, aierrors.IsCode(err, aierrors.ErrCodeInvalidArgument))
	})

	t.Run("archive disabled", func(t *testing.T) {
		f := newFixture(ctx, t, nil, nil)
		f.group.Settings.ArchiveEnabled = false
		f.addMessages(ctx, t, 0, 12)

		res, err := f.service.ArchiveIncremental(ctx, f.group, "alice", true, "test")
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Equal(t, "disabled", res.SkipReason)
	})

	t.Run("no new messages", func(t *testing.T) {
		f := newFixture(ctx, t, nil, nil)

		res, err := f.service.ArchiveIncremental(ctx, f.group, "alice", true, "test")
		require.NoError(t, err)
		assert.Equal(t, "no new messages", res.SkipReason)
	})

	t.Run("below batch threshold", func(t *testing.T) {
		llm := ai.NewMockLLMService(archiveReply)
		f := newFixture(ctx, t, llm, nil)
		f.addMessages(ctx, t, 0, 5)

		res, err := f.service.ArchiveIncremental(ctx, f.group, "alice", false, "test")
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Equal(t, "below batch threshold", res.SkipReason)
		assert.Equal(t, 5, res.MessageCount)
		assert.Zero(t, llm.Calls())

		cp, err := f.store.GetMemoryCheckpoint(ctx, f.group.ID, "alice")
		require.NoError(t, err)
		assert.Nil(t, cp)
		assert.Empty(t, auditEvents(ctx, t, f))
	})
}

func TestArchiveIncremental(t *testing.T) {
	ctx := context.Background()
	llm := ai.NewMockLLMService(archiveReply)
	f := newFixture(ctx, t, llm, nil)
	f.addMessages(ctx, t, 0, 12)

	res, err := f.service.ArchiveIncremental(ctx, f.group, "alice", false, "turn")
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 12, res.MessageCount)
	assert.Equal(t, 5, res.Extracted)
	assert.Equal(t, 3, res.Prepared)
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, res.MemoryIDs, 3)
	assert.NotEmpty(t, res.RequestID)

	byScope := map[store.MemoryScope]*store.LongTermMemory{}
	for _, m := range f.activeMemories(ctx, t) {
		byScope[m.Scope] = m
	}
	require.Len(t, byScope, 3)

	user := byScope[store.ScopeUserGlobal]
	assert.Equal(t, "alice", user.UserID)
	assert.Empty(t, user.GroupID)
	assert.Nil(t, user.ExpiresAt)
	assert.Equal(t, "msg-011", user.SourceMessageID)
	assert.Equal(t, "turn", user.Metadata["reason"])

	group := byScope[store.ScopeGroupLocal]
	assert.Equal(t, f.group.ID, group.GroupID)
	require.NotNil(t, group.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(180*24*time.Hour), *group.ExpiresAt, time.Minute)

	agent := byScope[store.ScopeAgentLocal]
	assert.Equal(t, "mem-coder", agent.MemberID)
	assert.Equal(t, PersonaVersion(f.group.Members[0]), agent.PersonaVersion)
	assert.Equal(t, "Coder", agent.Metadata["sender_name"])

	cp, err := f.store.GetMemoryCheckpoint(ctx, f.group.ID, "alice")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "msg-011", cp.LastMessageID)

	events := auditEvents(ctx, t, f)
	require.Len(t, events, 2)
	eventTypes := []string{events[0].EventType, events[1].EventType}
	assert.ElementsMatch(t, []string{store.AuditArchiveStart, store.AuditArchiveSuccess}, eventTypes)
	for _, e := range events {
		assert.Equal(t, res.RequestID, e.RequestID)
		assert.Equal(t, "alice", e.UserID)
	}

	t.Run("checkpoint hides archived messages", func(t *testing.T) {
		res, err := f.service.ArchiveIncremental(ctx, f.group, "alice", true, "again")
		require.NoError(t, err)
		assert.Equal(t, "no new messages", res.SkipReason)
		assert.Equal(t, 1, llm.Calls())
	})

	t.Run("same facts from new messages do not duplicate", func(t *testing.T) {
		f.addMessages(ctx, t, 12, 14)

		res, err := f.service.ArchiveIncremental(ctx, f.group, "alice", true, "forced")
		require.NoError(t, err)
		assert.Equal(t, 2, res.MessageCount)
		assert.Len(t, f.activeMemories(ctx, t), 3)

		cp, err := f.store.GetMemoryCheckpoint(ctx, f.group.ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, "msg-013", cp.LastMessageID)
	})

	t.Run("checkpoints are per user", func(t *testing.T) {
		res, err := f.service.ArchiveIncremental(ctx, f.group, "bob", false, "turn")
		require.NoError(t, err)
		assert.Equal(t, 14, res.MessageCount)
		assert.False(t, res.Skipped)
	})
}

func TestArchiveConcurrentForcedRuns(t *testing.T) {
	ctx := context.Background()
	llm := ai.NewMockLLMService(archiveReply)
	f := newFixture(ctx, t, llm, nil)
	f.addMessages(ctx, t, 0, 12)

	results := make([]*ArchiveResult, 2)
	var eg errgroup.Group
	for i := range results {
		eg.Go(func() error {
			res, err := f.service.ArchiveIncremental(ctx, f.group, "alice", true, "turn")
			results[i] = res
			return err
		})
	}
	require.NoError(t, eg.Wait())

	archived := 0
	for _, res := range results {
		require.NotNil(t, res)
		if !res.Skipped {
			archived++
			continue
		}
		assert.Equal(t, "no new messages", res.SkipReason)
	}
	assert.Equal(t, 1, archived)
	assert.Equal(t, 1, llm.Calls())
	assert.Len(t, f.activeMemories(ctx, t), 3)

	cp, err := f.store.GetMemoryCheckpoint(ctx, f.group.ID, "alice")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "msg-011", cp.LastMessageID)
}

func TestArchiveRespectsScopeSettings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(ctx, t, ai.NewMockLLMService(archiveReply), nil)
	f.group.Settings.ScopeUserGlobal = false
	f.group.Settings.ScopeAgentLocal = false
	f.addMessages(ctx, t, 0, 10)

	res, err := f.service.ArchiveIncremental(ctx, f.group, "alice", false, "turn")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Prepared)

	list := f.activeMemories(ctx, t)
	require.Len(t, list, 1)
	assert.Equal(t, store.ScopeGroupLocal, list[0].Scope)
}

func TestArchiveWithoutLLMUsesRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(ctx, t, nil, nil)
	_, err := f.store.CreateMessage(ctx, &store.Message{
		ID:         "pref",
		GroupID:    f.group.ID,
		Role:       store.RoleUser,
		SenderName: "alice",
		Content:    "以后请用中文回答",
		CreatedAt:  testBase,
	})
	require.NoError(t, err)

	res, err := f.service.ArchiveIncremental(ctx, f.group, "alice", true, "manual")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Prepared)

	list := f.activeMemories(ctx, t)
	require.Len(t, list, 1)
	assert.Equal(t, store.ScopeUserGlobal, list[0].Scope)
	assert.Equal(t, preferenceMemoryType, list[0].MemoryType)
}

func TestArchiveDeadLetter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(ctx, t, ai.NewMockLLMService(archiveReply), nil)
	f.addMessages(ctx, t, 0, 12)

	failing := NewService(checkpointFailStore{f.store}, f.service.Gateway(), ai.NewMockLLMService(archiveReply), testConfig())

	res, err := failing.ArchiveIncremental(ctx, f.group, "alice", false, "turn")
	require.Error(t, err)
	assert.True(t, aierrors.IsCode(err, aierrors.ErrCodeArchiveFailed))
	var archiveErr *aierrors.AIError
	require.ErrorAs(t, err, &archiveErr)
	assert.Equal(t, 3, archiveErr.Context["attempts"])
	assert.True(t, errors.Is(err, errCheckpointWrite), "the store cause is kept")
	assert.True(t, res.DeadLettered)
	assert.Equal(t, 3, res.Attempts)

	cp, err := f.store.GetMemoryCheckpoint(ctx, f.group.ID, "alice")
	require.NoError(t, err)
	assert.Nil(t, cp)

	stats, err := failing.GroupStats(ctx, f.group.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeadLetterCount)

	var failed int
	for _, e := range auditEvents(ctx, t, f) {
		if e.EventType == store.AuditArchiveFailed {
			failed++
			assert.Equal(t, res.RequestID, e.RequestID)
		}
	}
	assert.Equal(t, 1, failed)

	t.Run("next run retries the same batch", func(t *testing.T) {
		res, err := f.service.ArchiveIncremental(ctx, f.group, "alice", false, "retry")
		require.NoError(t, err)
		assert.Equal(t, 12, res.MessageCount)
		assert.Len(t, f.activeMemories(ctx, t), 3)
	})
}

func TestScheduleArchive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(ctx, t, ai.NewMockLLMService(archiveReply), nil)
	f.addMessages(ctx, t, 0, 10)

	f.service.ScheduleArchive(f.group, "alice", "background")
	f.service.Wait()

	cp, err := f.store.GetMemoryCheckpoint(ctx, f.group.ID, "alice")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "msg-009", cp.LastMessageID)
}

func TestPersonaVersion(t *testing.T) {
	base := &store.GroupMember{ID: "m1", Name: "Coder", ModelID: "deepseek-chat", Task: "code", Temperature: 0.7}

	v := PersonaVersion(base)
	assert.Len(t, v, 12)
	assert.Equal(t, v, PersonaVersion(base))

	renamed := *base
	renamed.Name = "Builder"
	assert.Equal(t, v, PersonaVersion(&renamed))

	tests := []struct {
		name   string
		mutate func(m *store.GroupMember)
	}{
		{"model", func(m *store.GroupMember) { m.ModelID = "gpt-4o" }},
		{"description", func(m *store.GroupMember) { m.Description = "senior" }},
		{"task", func(m *store.GroupMember) { m.Task = "review" }},
		{"thinking", func(m *store.GroupMember) { m.Thinking = true }},
		{"temperature", func(m *store.GroupMember) { m.Temperature = 0.2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed := *base
			tt.mutate(&changed)
			assert.NotEqual(t, v, PersonaVersion(&changed))
		})
	}
}
