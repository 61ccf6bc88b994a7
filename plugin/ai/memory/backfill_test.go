package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/groupmind/plugin/ai"
	"github.com/hrygo/groupmind/store"
	teststore "github.com/hrygo/groupmind/store/test"
)

func seedWithoutVectors(ctx context.Context, t *testing.T, st *store.Store, n int) {
	t.Helper()
	g := NewGateway(ctx, st, nil, nil)
	records := make([]*store.LongTermMemory, n)
	for i := range records {
		records[i] = &store.LongTermMemory{
			UserID:     "alice",
			GroupID:    "g1",
			Scope:      store.ScopeGroupLocal,
			Content:    fmt.Sprintf("fact number %d", i),
			Confidence: 0.9,
		}
		if i%2 == 1 {
			records[i].GroupID = ""
			records[i].Scope = store.ScopeUserGlobal
		}
	}
	_, err := g.AddMemories(ctx, records)
	require.NoError(t, err)
	// Runs only pick up records updated strictly before they started.
	time.Sleep(5 * time.Millisecond)
}

func newTestBackfiller(st Store, embedder ai.EmbeddingService) *Backfiller {
	b := NewBackfiller(st, embedder)
	b.RetryDelay = 0
	return b
}

func missingEmbeddings(ctx context.Context, t *testing.T, st *store.Store) int {
	t.Helper()
	n, err := st.CountLongTermMemories(ctx, &store.FindLongTermMemory{ActiveOnly: true, MissingEmbedding: true})
	require.NoError(t, err)
	return n
}

func TestBackfillRequirements(t *testing.T) {
	ctx := context.Background()
	ts := teststore.NewTestingStore(ctx, t)

	_, err := newTestBackfiller(ts, nil).Run(ctx, BackfillOptions{})
	assert.Error(t, err)

	_, err = newTestBackfiller(noVectorStore{ts}, ai.NewMockEmbeddingService(4)).Run(ctx, BackfillOptions{})
	assert.ErrorIs(t, err, errVectorNotSupported)
}

func TestBackfill(t *testing.T) {
	ctx := context.Background()
	ts := teststore.NewTestingStore(ctx, t)
	seedWithoutVectors(ctx, t, ts, 5)
	embedder := ai.NewMockEmbeddingService(4)
	b := newTestBackfiller(ts, embedder)

	t.Run("dry run only counts", func(t *testing.T) {
		res, err := b.Run(ctx, BackfillOptions{DryRun: true})
		require.NoError(t, err)
		assert.Equal(t, &BackfillResult{Candidates: 5}, res)
		assert.Equal(t, 5, missingEmbeddings(ctx, t, ts))
	})

	t.Run("filters by scope and group", func(t *testing.T) {
		res, err := b.Run(ctx, BackfillOptions{DryRun: true, Scope: store.ScopeUserGlobal})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Candidates)

		res, err = b.Run(ctx, BackfillOptions{DryRun: true, GroupID: "g1"})
		require.NoError(t, err)
		assert.Equal(t, 3, res.Candidates)
	})

	t.Run("max rows caps the run", func(t *testing.T) {
		res, err := b.Run(ctx, BackfillOptions{BatchSize: 2, MaxRows: 3})
		require.NoError(t, err)
		assert.Equal(t, 5, res.Candidates)
		assert.Equal(t, 3, res.Processed)
		assert.Equal(t, 3, res.Updated)
		assert.Equal(t, 2, missingEmbeddings(ctx, t, ts))
	})

	t.Run("fills the rest in batches", func(t *testing.T) {
		res, err := b.Run(ctx, BackfillOptions{BatchSize: 1})
		require.NoError(t, err)
		assert.Equal(t, &BackfillResult{Candidates: 2, Processed: 2, Updated: 2}, res)
		assert.Zero(t, missingEmbeddings(ctx, t, ts))

		list, err := ts.ListLongTermMemories(ctx, &store.FindLongTermMemory{})
		require.NoError(t, err)
		for _, m := range list {
			assert.Len(t, m.Embedding, 4)
			assert.Equal(t, "mock-embedding", m.EmbeddingModel)
		}
	})

	t.Run("nothing left", func(t *testing.T) {
		res, err := b.Run(ctx, BackfillOptions{})
		require.NoError(t, err)
		assert.Zero(t, res.Candidates)
	})

	t.Run("force visits every record once", func(t *testing.T) {
		time.Sleep(5 * time.Millisecond)
		calls := embedder.Calls()

		res, err := b.Run(ctx, BackfillOptions{Force: true, BatchSize: 2})
		require.NoError(t, err)
		assert.Equal(t, &BackfillResult{Candidates: 5, Processed: 5, Updated: 5}, res)
		assert.Equal(t, calls+5, embedder.Calls())
	})
}

func TestBackfillEmbeddingFailures(t *testing.T) {
	ctx := context.Background()
	ts := teststore.NewTestingStore(ctx, t)
	seedWithoutVectors(ctx, t, ts, 3)

	embedder := ai.NewMockEmbeddingService(4)
	embedder.Err = errors.New("quota exceeded")
	b := newTestBackfiller(ts, embedder)

	res, err := b.Run(ctx, BackfillOptions{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, &BackfillResult{Candidates: 3, Processed: 3, Skipped: 3}, res)
	// Every record is tried MaxAttempts times and then left for the next run.
	assert.Equal(t, 3*b.MaxAttempts, embedder.Calls())
	assert.Equal(t, 3, missingEmbeddings(ctx, t, ts))
}
