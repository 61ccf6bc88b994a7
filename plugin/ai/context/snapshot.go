package context

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hrygo/groupmind/plugin/ai/token"
	"github.com/hrygo/groupmind/store"
)

// SnapshotState is how a build treats the latest persisted snapshot.
type SnapshotState string

const (
	// SnapshotFullLoad: no usable snapshot, the whole history is loaded.
	SnapshotFullLoad SnapshotState = "full-load"
	// SnapshotReload: the snapshot is over the threshold and is recompressed.
	SnapshotReload SnapshotState = "reload"
	// SnapshotIncremental: new messages are folded onto the snapshot.
	SnapshotIncremental SnapshotState = "incremental"
	// SnapshotReuse: the snapshot is fresh and nothing new arrived.
	SnapshotReuse SnapshotState = "reuse"
)

func nextSnapshotState(hasSnapshot bool, snapshotTokens, threshold, newCount int) SnapshotState {
	switch {
	case !hasSnapshot:
		return SnapshotFullLoad
	case snapshotTokens >= threshold:
		return SnapshotReload
	case newCount == 0:
		return SnapshotReuse
	default:
		return SnapshotIncremental
	}
}

// SnapshotStore is the persistence the builder needs. *store.Store satisfies it.
type SnapshotStore interface {
	GetGroup(ctx context.Context, id string) (*store.Group, error)
	GetMessage(ctx context.Context, groupID, id string) (*store.Message, error)
	ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error)
	GetLatestContextSnapshot(ctx context.Context, groupID string) (*store.ContextSnapshot, error)
	SaveContextSnapshot(ctx context.Context, snapshot *store.ContextSnapshot) (*store.ContextSnapshot, error)
}

// BuildOptions tune a single BuildContext call.
type BuildOptions struct {
	// MaxTokens overrides the manager's window, typically the model's context size.
	MaxTokens int
	// ThresholdRatio overrides the group's compression threshold.
	ThresholdRatio float64
	// Force compresses the result even below the threshold.
	Force bool
	// ExcludeLast leaves out the newest message, usually the turn being answered.
	ExcludeLast bool
}

// BuildResult is the history ready to be sent to the model.
type BuildResult struct {
	Messages      []*store.Message
	State         SnapshotState
	Tokens        int
	NewMessages   int
	Compressed    bool
	SnapshotSaved bool
}

// Builder assembles a group's history from the latest snapshot plus the
// messages that arrived after it.
type Builder struct {
	manager *Manager
	store   SnapshotStore
}

// NewBuilder creates a builder.
func NewBuilder(manager *Manager, st SnapshotStore) *Builder {
	return &Builder{manager: manager, store: st}
}

// BuildContext returns the compacted history of a group. Snapshot failures
// degrade to a full load and never fail the call; only message reads do.
func (b *Builder) BuildContext(ctx context.Context, groupID string, opts BuildOptions) (*BuildResult, error) {
	start := time.Now()
	logger := slog.With("group_id", groupID)

	group, err := b.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	ratio := opts.ThresholdRatio
	if ratio <= 0 && group != nil {
		ratio = group.Settings.CompressionThreshold
	}
	mgr := b.manager.withLimits(opts.MaxTokens, ratio)
	threshold := mgr.ThresholdTokens()

	snapshot, cursor := b.loadSnapshot(ctx, logger, groupID)

	find := &store.FindMessage{GroupID: &groupID}
	if cursor != nil {
		find.AfterCreatedAt = &cursor.CreatedAt
		find.AfterID = &cursor.ID
	}
	newMsgs, err := b.store.ListMessages(ctx, find)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if opts.ExcludeLast && len(newMsgs) > 0 {
		newMsgs = newMsgs[:len(newMsgs)-1]
	}

	snapshotTokens := 0
	if snapshot != nil {
		snapshotTokens = snapshot.TokenCount
	}
	state := nextSnapshotState(snapshot != nil, snapshotTokens, threshold, len(newMsgs))

	result := &BuildResult{State: state, NewMessages: len(newMsgs)}
	var final []*store.Message
	lastID := ""
	save := false

	if state != SnapshotFullLoad {
		lastID = snapshot.LastMessageID
		final = snapshot.Messages
		if state == SnapshotReload {
			final = mgr.Process(ctx, final, true)
			result.Compressed = true
			save = true
		}
	}

	// Fold new messages on, compressing whenever the running total reaches
	// the threshold. A full load is the same fold over an empty context.
	finalTokens := token.EstimateMessages(final)
	batchTokens := 0
	var batch []*store.Message
	for _, m := range newMsgs {
		batch = append(batch, m)
		batchTokens += token.EstimateMessage(m.Content, m.SenderName)
		lastID = m.ID
		if finalTokens+batchTokens < threshold {
			continue
		}
		final = mgr.Process(ctx, concat(final, batch), true)
		finalTokens = token.EstimateMessages(final)
		batch, batchTokens = nil, 0
		result.Compressed = true
		save = true
	}
	if len(batch) > 0 {
		final = concat(final, batch)
		if snapshot != nil {
			save = true
		}
	}

	if opts.Force && !result.Compressed && len(final) > 0 {
		final = mgr.Process(ctx, final, true)
		result.Compressed = true
		save = true
	}

	result.Messages = final
	result.Tokens = token.EstimateMessages(final)

	if save && lastID != "" && len(final) > 0 {
		_, err := b.store.SaveContextSnapshot(ctx, &store.ContextSnapshot{
			GroupID:       groupID,
			LastMessageID: lastID,
			TokenCount:    result.Tokens,
			Messages:      final,
		})
		if err != nil {
			logger.Warn("failed to save context snapshot", "error", err)
		} else {
			result.SnapshotSaved = true
		}
	}

	logger.Debug("context built",
		"state", string(state),
		"new_messages", len(newMsgs),
		"messages", len(final),
		"tokens", result.Tokens,
		"threshold", threshold,
		"compressed", result.Compressed,
		"snapshot_saved", result.SnapshotSaved,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// loadSnapshot returns the latest usable snapshot and the message it ends at.
// Both are nil when there is no snapshot or it cannot be used.
func (b *Builder) loadSnapshot(ctx context.Context, logger *slog.Logger, groupID string) (*store.ContextSnapshot, *store.Message) {
	snapshot, err := b.store.GetLatestContextSnapshot(ctx, groupID)
	if err != nil {
		if errors.Is(err, store.ErrSnapshotDecode) {
			logger.Warn("context snapshot unreadable, loading full history", "error", err)
		} else {
			logger.Warn("failed to load context snapshot", "error", err)
		}
		return nil, nil
	}
	if snapshot == nil || snapshot.LastMessageID == "" {
		return nil, nil
	}

	cursor, err := b.store.GetMessage(ctx, groupID, snapshot.LastMessageID)
	if err != nil || cursor == nil {
		logger.Warn("context snapshot cursor not found, loading full history",
			"last_message_id", snapshot.LastMessageID,
			"error", err,
		)
		return nil, nil
	}
	return snapshot, cursor
}

// withLimits returns a view of m with its own window. Every collaborator,
// the metrics recorder included, is shared with m.
func (m *Manager) withLimits(maxTokens int, ratio float64) *Manager {
	view := &Manager{
		classifier:     m.classifier,
		scorer:         m.scorer,
		compressor:     m.compressor,
		recorder:       m.recorder,
		now:            m.now,
		maxTokens:      m.MaxTokens(),
		thresholdRatio: m.currentRatio(),
	}
	view.SetMaxTokens(maxTokens)
	view.SetThresholdRatio(ratio)
	return view
}

func (m *Manager) currentRatio() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.thresholdRatio
}

func concat(a, b []*store.Message) []*store.Message {
	out := make([]*store.Message, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
