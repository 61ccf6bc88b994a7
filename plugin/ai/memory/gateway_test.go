package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/groupmind/plugin/ai"
	"github.com/hrygo/groupmind/store"
	teststore "github.com/hrygo/groupmind/store/test"
)

// noVectorStore reports no vector support.
type noVectorStore struct {
	Store
}

func (noVectorStore) HasVectorSupport(context.Context) (bool, error) {
	return false, nil
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("Prefers  Go\tfor services")
	b := Fingerprint("prefers go for SERVICES")
	c := Fingerprint("prefers rust for services")

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestGatewayVectorProbe(t *testing.T) {
	ctx := context.Background()
	ts := teststore.NewTestingStore(ctx, t)

	failing := ai.NewMockEmbeddingService(8)
	failing.Err = errors.New("embedding endpoint down")

	tests := []struct {
		name     string
		store    Store
		embedder ai.EmbeddingService
		want     bool
	}{
		{name: "no embedder", store: ts, embedder: nil, want: false},
		{name: "embedder always fails", store: ts, embedder: failing, want: false},
		{name: "store without vectors", store: noVectorStore{ts}, embedder: ai.NewMockEmbeddingService(8), want: false},
		{name: "enabled", store: ts, embedder: ai.NewMockEmbeddingService(8), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGateway(ctx, tt.store, tt.embedder, nil)
			assert.Equal(t, tt.want, g.VectorEnabled())
		})
	}
}

func TestGatewayAddMemories(t *testing.T) {
	ctx := context.Background()

	t.Run("upsert is idempotent", func(t *testing.T) {
		ts := teststore.NewTestingStore(ctx, t)
		g := NewGateway(ctx, ts, nil, nil)

		first, err := g.AddMemories(ctx, []*store.LongTermMemory{
			{UserID: "u1", Scope: store.ScopeUserGlobal, MemoryType: "user_profile", Content: "prefers Go", Confidence: 0.9},
			{UserID: "u1", Scope: store.ScopeUserGlobal, Content: "   "},
		})
		require.NoError(t, err)
		require.Len(t, first, 1)

		second, err := g.AddMemories(ctx, []*store.LongTermMemory{
			{UserID: "u1", Scope: store.ScopeUserGlobal, MemoryType: "user_profile", Content: "  Prefers GO ", Confidence: 0.95},
		})
		require.NoError(t, err)
		assert.Equal(t, first, second)

		list, err := ts.ListLongTermMemories(ctx, &store.FindLongTermMemory{})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "Prefers GO", list[0].Content)
		assert.InDelta(t, 0.95, list[0].Confidence, 1e-9)
		assert.Empty(t, list[0].Embedding)
	})

	t.Run("nothing to store", func(t *testing.T) {
		ts := teststore.NewTestingStore(ctx, t)
		g := NewGateway(ctx, ts, nil, nil)

		ids, err := g.AddMemories(ctx, []*store.LongTermMemory{{Content: ""}})
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("embeds when vectors are enabled", func(t *testing.T) {
		ts := teststore.NewTestingStore(ctx, t)
		embedder := ai.NewMockEmbeddingService(4)
		g := NewGateway(ctx, ts, embedder, nil)
		require.True(t, g.VectorEnabled())

		ids, err := g.AddMemories(ctx, []*store.LongTermMemory{
			{UserID: "u1", Scope: store.ScopeUserGlobal, Content: "a", Confidence: 0.9},
			{UserID: "u1", Scope: store.ScopeUserGlobal, Content: "b", Confidence: 0.9},
		})
		require.NoError(t, err)
		require.Len(t, ids, 2)

		list, err := ts.ListLongTermMemories(ctx, &store.FindLongTermMemory{IDs: ids})
		require.NoError(t, err)
		for _, m := range list {
			assert.Len(t, m.Embedding, 4)
			assert.Equal(t, "mock-embedding", m.EmbeddingModel)
		}
	})

	t.Run("failed embedding still stores the record", func(t *testing.T) {
		ts := teststore.NewTestingStore(ctx, t)
		embedder := ai.NewMockEmbeddingService(4)
		g := NewGateway(ctx, ts, embedder, nil)
		require.True(t, g.VectorEnabled())
		embedder.Err = errors.New("rate limited")

		ids, err := g.AddMemories(ctx, []*store.LongTermMemory{
			{UserID: "u1", Scope: store.ScopeUserGlobal, Content: "a", Confidence: 0.9},
		})
		require.NoError(t, err)
		require.Len(t, ids, 1)

		missing, err := ts.CountLongTermMemories(ctx, &store.FindLongTermMemory{MissingEmbedding: true})
		require.NoError(t, err)
		assert.Equal(t, 1, missing)
	})

	t.Run("mirrors asynchronously", func(t *testing.T) {
		ts := teststore.NewTestingStore(ctx, t)
		mirror := &MockMirror{Err: errors.New("mirror unavailable")}
		g := NewGateway(ctx, ts, nil, mirror)

		ids, err := g.AddMemories(ctx, []*store.LongTermMemory{
			{UserID: "u1", Scope: store.ScopeUserGlobal, Content: "mirrored fact", Confidence: 0.9},
		})
		// Mirror failures never surface.
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return len(mirror.Records()) == 1
		}, time.Second, 10*time.Millisecond)
		assert.Equal(t, ids[0], mirror.Records()[0].ID)
	})
}

func TestGatewaySearchScope(t *testing.T) {
	ctx := context.Background()
	ts := teststore.NewTestingStore(ctx, t)
	groupID := "g1"

	seed := NewGateway(ctx, ts, ai.NewMockEmbeddingService(4), nil)
	_, err := seed.AddMemories(ctx, []*store.LongTermMemory{
		{UserID: "u1", GroupID: groupID, Scope: store.ScopeGroupLocal, Content: "high", Confidence: 0.9},
		{UserID: "u1", GroupID: groupID, Scope: store.ScopeGroupLocal, Content: "low", Confidence: 0.3},
		{UserID: "u2", GroupID: groupID, Scope: store.ScopeGroupLocal, Content: "other user", Confidence: 0.9},
	})
	require.NoError(t, err)

	search := ScopeSearch{
		Scope:          store.ScopeGroupLocal,
		UserID:         "u1",
		GroupID:        groupID,
		MinConfidence:  0.5,
		QueryEmbedding: []float32{0.1, 0.1, 0.1, 0.1},
		Limit:          10,
	}

	t.Run("vector enabled scores candidates", func(t *testing.T) {
		rows, err := seed.SearchScope(ctx, search)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "high", rows[0].Memory.Content)
		assert.InDelta(t, 1.0, rows[0].VectorScore, 1e-6)
	})

	t.Run("vector disabled ignores the query vector", func(t *testing.T) {
		lexical := NewGateway(ctx, ts, nil, nil)
		rows, err := lexical.SearchScope(ctx, search)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Zero(t, rows[0].VectorScore)
	})
}

func TestGatewayTouch(t *testing.T) {
	ctx := context.Background()
	ts := teststore.NewTestingStore(ctx, t)
	g := NewGateway(ctx, ts, nil, nil)

	ids, err := g.AddMemories(ctx, []*store.LongTermMemory{
		{UserID: "u1", Scope: store.ScopeUserGlobal, Content: "touched", Confidence: 0.9, DecayScore: 0.5},
	})
	require.NoError(t, err)

	require.NoError(t, g.Touch(ctx, ids, 0.2))
	require.NoError(t, g.Touch(ctx, ids, 0.2))
	require.NoError(t, g.Touch(ctx, ids, 0.2))

	list, err := ts.ListLongTermMemories(ctx, &store.FindLongTermMemory{IDs: ids})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.InDelta(t, 1.0, list[0].DecayScore, 1e-9)
	assert.NotNil(t, list[0].LastUsedAt)
}
