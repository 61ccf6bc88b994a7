package context

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/groupmind/plugin/ai/metrics"
	"github.com/hrygo/groupmind/store"
	teststore "github.com/hrygo/groupmind/store/test"
)

func TestNextSnapshotState(t *testing.T) {
	tests := []struct {
		name           string
		hasSnapshot    bool
		snapshotTokens int
		newCount       int
		want           SnapshotState
	}{
		{"no snapshot", false, 0, 3, SnapshotFullLoad},
		{"no snapshot and no messages", false, 0, 0, SnapshotFullLoad},
		{"stale snapshot", true, 100, 0, SnapshotReload},
		{"stale snapshot with new messages", true, 150, 2, SnapshotReload},
		{"fresh snapshot with new messages", true, 99, 2, SnapshotIncremental},
		{"fresh snapshot alone", true, 99, 0, SnapshotReuse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextSnapshotState(tt.hasSnapshot, tt.snapshotTokens, 100, tt.newCount))
		})
	}
}

// builderFixture stores a group whose compression threshold, combined with
// MaxTokens 250, gives a 125 token threshold (about 9 test messages).
type builderFixture struct {
	store   *store.Store
	manager *Manager
	builder *Builder
	opts    BuildOptions
}

func newBuilderFixture(ctx context.Context, t *testing.T) *builderFixture {
	t.Helper()
	ts := teststore.NewTestingStore(ctx, t)

	settings := store.DefaultMemorySettings()
	settings.CompressionThreshold = 0.5
	_, err := ts.UpsertGroup(ctx, &store.Group{ID: "g1", Name: "team", Settings: settings})
	require.NoError(t, err)

	manager := newTestManager(scriptedLLM("[]"), DefaultMaxTokens, DefaultThresholdRatio)
	return &builderFixture{
		store:   ts,
		manager: manager,
		builder: NewBuilder(manager, ts),
		opts:    BuildOptions{MaxTokens: 250},
	}
}

func (f *builderFixture) addMessages(ctx context.Context, t *testing.T, from, to int) {
	t.Helper()
	for i := from; i < to; i++ {
		_, err := f.store.CreateMessage(ctx, newMsg(i, store.RoleAssistant))
		require.NoError(t, err)
	}
}

func TestBuildContext(t *testing.T) {
	ctx := context.Background()

	t.Run("short history loads fully without a snapshot", func(t *testing.T) {
		f := newBuilderFixture(ctx, t)
		f.addMessages(ctx, t, 0, 4)

		res, err := f.builder.BuildContext(ctx, "g1", f.opts)
		require.NoError(t, err)
		assert.Equal(t, SnapshotFullLoad, res.State)
		assert.Equal(t, []string{"m000", "m001", "m002", "m003"}, ids(res.Messages))
		assert.False(t, res.Compressed)
		assert.False(t, res.SnapshotSaved)

		snapshot, err := f.store.GetLatestContextSnapshot(ctx, "g1")
		require.NoError(t, err)
		assert.Nil(t, snapshot)
	})

	t.Run("snapshot lifecycle", func(t *testing.T) {
		f := newBuilderFixture(ctx, t)
		f.addMessages(ctx, t, 0, 10)

		// The ninth message reaches the threshold: m000..m008 are compressed
		// and m009 is folded onto the result.
		res, err := f.builder.BuildContext(ctx, "g1", f.opts)
		require.NoError(t, err)
		assert.Equal(t, SnapshotFullLoad, res.State)
		assert.True(t, res.Compressed)
		assert.True(t, res.SnapshotSaved)
		assert.Equal(t, []string{"summary_m000", "m004", "m005", "m006", "m007", "m008", "m009"}, ids(res.Messages))
		assert.Less(t, res.Tokens, 125)

		snapshot, err := f.store.GetLatestContextSnapshot(ctx, "g1")
		require.NoError(t, err)
		require.NotNil(t, snapshot)
		assert.Equal(t, "m009", snapshot.LastMessageID)
		assert.Equal(t, res.Tokens, snapshot.TokenCount)

		// Nothing new: the snapshot is reused as is.
		res, err = f.builder.BuildContext(ctx, "g1", f.opts)
		require.NoError(t, err)
		assert.Equal(t, SnapshotReuse, res.State)
		assert.False(t, res.SnapshotSaved)
		assert.Equal(t, []string{"summary_m000", "m004", "m005", "m006", "m007", "m008", "m009"}, ids(res.Messages))

		// One new message fits under the threshold and is folded on.
		f.addMessages(ctx, t, 10, 11)
		res, err = f.builder.BuildContext(ctx, "g1", f.opts)
		require.NoError(t, err)
		assert.Equal(t, SnapshotIncremental, res.State)
		assert.False(t, res.Compressed)
		assert.True(t, res.SnapshotSaved)
		assert.Equal(t, 1, res.NewMessages)
		assert.Equal(t, "m010", res.Messages[len(res.Messages)-1].ID)

		snapshot, err = f.store.GetLatestContextSnapshot(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, "m010", snapshot.LastMessageID)

		// Two more cross the threshold while folding. The earlier summary
		// is kept as is next to a new one.
		f.addMessages(ctx, t, 11, 13)
		res, err = f.builder.BuildContext(ctx, "g1", f.opts)
		require.NoError(t, err)
		assert.Equal(t, SnapshotIncremental, res.State)
		assert.True(t, res.Compressed)
		assert.Less(t, res.Tokens, 125)
		assert.Equal(t, []string{"summary_m000", "summary_m004", "m007", "m008", "m009", "m010", "m011", "m012"}, ids(res.Messages))

		snapshot, err = f.store.GetLatestContextSnapshot(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, "m012", snapshot.LastMessageID)
	})

	t.Run("long full load compresses in batches", func(t *testing.T) {
		f := newBuilderFixture(ctx, t)
		f.addMessages(ctx, t, 0, 30)

		res, err := f.builder.BuildContext(ctx, "g1", f.opts)
		require.NoError(t, err)
		assert.Equal(t, SnapshotFullLoad, res.State)
		assert.True(t, res.Compressed)
		assert.True(t, res.SnapshotSaved)
		assert.Less(t, len(res.Messages), 30)
		assert.Equal(t, "summary_m000", res.Messages[0].ID)
		assert.Equal(t, "summary_m004", res.Messages[1].ID)
		assert.Equal(t, "m029", res.Messages[len(res.Messages)-1].ID)
	})

	t.Run("records compression through the builder", func(t *testing.T) {
		f := newBuilderFixture(ctx, t)
		agg := metrics.NewAggregator()
		f.manager.SetMetrics(agg)
		f.addMessages(ctx, t, 0, 10)

		res, err := f.builder.BuildContext(ctx, "g1", f.opts)
		require.NoError(t, err)
		require.True(t, res.Compressed)

		stats := agg.Snapshot()
		require.Contains(t, stats.Operations, metrics.OpCompress)
		assert.Equal(t, int64(1), stats.Operations[metrics.OpCompress].Count)
		assert.Equal(t, float32(1), stats.Operations[metrics.OpCompress].SuccessRate)
	})

	t.Run("stale snapshot is recompressed", func(t *testing.T) {
		f := newBuilderFixture(ctx, t)
		f.addMessages(ctx, t, 0, 10)

		all, err := f.store.ListMessages(ctx, &store.FindMessage{GroupID: ptr("g1")})
		require.NoError(t, err)
		_, err = f.store.SaveContextSnapshot(ctx, &store.ContextSnapshot{
			GroupID:       "g1",
			LastMessageID: "m009",
			TokenCount:    1000,
			Messages:      all,
		})
		require.NoError(t, err)

		res, err := f.builder.BuildContext(ctx, "g1", f.opts)
		require.NoError(t, err)
		assert.Equal(t, SnapshotReload, res.State)
		assert.True(t, res.Compressed)
		assert.True(t, res.SnapshotSaved)
		assert.Less(t, len(res.Messages), len(all))
	})

	t.Run("unreadable snapshot falls back to a full load", func(t *testing.T) {
		f := newBuilderFixture(ctx, t)
		f.addMessages(ctx, t, 0, 3)

		_, err := f.store.GetDriver().CreateContextSnapshot(ctx, &store.ContextSnapshot{
			ID:            "broken",
			GroupID:       "g1",
			LastMessageID: "m001",
			TokenCount:    10,
			CreatedAt:     time.Now(),
			Payload:       []byte("definitely not cbor"),
		})
		require.NoError(t, err)

		res, err := f.builder.BuildContext(ctx, "g1", f.opts)
		require.NoError(t, err)
		assert.Equal(t, SnapshotFullLoad, res.State)
		assert.Equal(t, []string{"m000", "m001", "m002"}, ids(res.Messages))
	})

	t.Run("snapshot pointing at a missing message falls back to a full load", func(t *testing.T) {
		f := newBuilderFixture(ctx, t)
		f.addMessages(ctx, t, 0, 3)

		_, err := f.store.SaveContextSnapshot(ctx, &store.ContextSnapshot{
			GroupID:       "g1",
			LastMessageID: "gone",
			TokenCount:    14,
			Messages:      []*store.Message{newMsg(99, store.RoleUser)},
		})
		require.NoError(t, err)

		res, err := f.builder.BuildContext(ctx, "g1", f.opts)
		require.NoError(t, err)
		assert.Equal(t, SnapshotFullLoad, res.State)
		assert.Len(t, res.Messages, 3)
	})

	t.Run("exclude last and force", func(t *testing.T) {
		f := newBuilderFixture(ctx, t)
		f.addMessages(ctx, t, 0, 7)

		opts := f.opts
		opts.ExcludeLast = true
		res, err := f.builder.BuildContext(ctx, "g1", opts)
		require.NoError(t, err)
		assert.Len(t, res.Messages, 6)
		assert.Equal(t, "m005", res.Messages[5].ID)

		opts.Force = true
		res, err = f.builder.BuildContext(ctx, "g1", opts)
		require.NoError(t, err)
		assert.True(t, res.Compressed)
		assert.Equal(t, []string{"summary_m000", "m001", "m002", "m003", "m004", "m005"}, ids(res.Messages))

		snapshot, err := f.store.GetLatestContextSnapshot(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, "m005", snapshot.LastMessageID)
	})
}

func ptr[T any](v T) *T {
	return &v
}
