package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hrygo/groupmind/plugin/ai"
	"github.com/hrygo/groupmind/plugin/ai/retry"
	"github.com/hrygo/groupmind/plugin/ai/timeout"
	"github.com/hrygo/groupmind/store"
)

var errVectorNotSupported = errors.New("store has no vector support")

// BackfillOptions select the records to embed.
type BackfillOptions struct {
	BatchSize int
	// MaxRows caps the records processed; 0 means no cap.
	MaxRows int
	GroupID string
	UserID  string
	Scope   store.MemoryScope
	// DryRun only counts candidates.
	DryRun bool
	// Force re-embeds records that already have a vector.
	Force bool
}

// BackfillResult counts the work done.
type BackfillResult struct {
	Candidates int `json:"candidates"`
	Processed  int `json:"processed"`
	Updated    int `json:"updated"`
	Skipped    int `json:"skipped"`
}

// Backfiller attaches embeddings to records stored without one.
type Backfiller struct {
	store       Store
	embedder    ai.EmbeddingService
	Concurrency int
	MaxAttempts int
	RetryDelay  time.Duration
	now         func() time.Time
}

// NewBackfiller creates a backfiller with 3 attempts per record.
func NewBackfiller(st Store, embedder ai.EmbeddingService) *Backfiller {
	return &Backfiller{
		store:       st,
		embedder:    embedder,
		Concurrency: defaultEmbedConcurrency,
		MaxAttempts: 3,
		RetryDelay:  600 * time.Millisecond,
		now:         time.Now,
	}
}

// Run walks candidates in (updated_at, id) order. Records updated during the
// run are excluded, so every record is visited at most once.
func (b *Backfiller) Run(ctx context.Context, opts BackfillOptions) (*BackfillResult, error) {
	if b.embedder == nil {
		return nil, fmt.Errorf("backfill: no embedding service configured")
	}
	supported, err := b.store.HasVectorSupport(ctx)
	if err != nil {
		return nil, fmt.Errorf("backfill: detect vector support: %w", err)
	}
	if !supported {
		return nil, errVectorNotSupported
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 40
	}

	startedAt := b.now().UTC()
	find := &store.FindLongTermMemory{
		ActiveOnly:       true,
		MissingEmbedding: !opts.Force,
		UpdatedBefore:    &startedAt,
	}
	if opts.GroupID != "" {
		find.GroupID = &opts.GroupID
	}
	if opts.UserID != "" {
		find.UserID = &opts.UserID
	}
	if opts.Scope != "" {
		find.Scope = &opts.Scope
	}

	result := &BackfillResult{}
	result.Candidates, err = b.store.CountLongTermMemories(ctx, find)
	if err != nil {
		return nil, fmt.Errorf("backfill: count candidates: %w", err)
	}
	slog.Info("embedding backfill candidates", "count", result.Candidates, "dry_run", opts.DryRun, "force", opts.Force)
	if opts.DryRun || result.Candidates == 0 {
		return result, nil
	}

	for opts.MaxRows <= 0 || result.Processed < opts.MaxRows {
		limit := opts.BatchSize
		if opts.MaxRows > 0 {
			limit = min(limit, opts.MaxRows-result.Processed)
		}
		find.Limit = limit

		rows, err := b.store.ListLongTermMemories(ctx, find)
		if err != nil {
			return result, fmt.Errorf("backfill: list batch: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		updated := b.embedBatch(ctx, rows)
		result.Processed += len(rows)
		result.Updated += updated
		result.Skipped += len(rows) - updated

		last := rows[len(rows)-1]
		find.AfterUpdatedAt = &last.UpdatedAt
		find.AfterID = &last.ID

		slog.Info("embedding backfill batch done",
			"fetched", len(rows),
			"updated", updated,
			"total_updated", result.Updated,
		)
		if err := ctx.Err(); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (b *Backfiller) embedBatch(ctx context.Context, rows []*store.LongTermMemory) int {
	vectors := make([][]float32, len(rows))
	var eg errgroup.Group
	eg.SetLimit(max(1, b.Concurrency))
	for i, row := range rows {
		content := strings.TrimSpace(row.Content)
		if content == "" {
			continue
		}
		eg.Go(func() error {
			vectors[i] = b.embedOne(ctx, content)
			return nil
		})
	}
	_ = eg.Wait()

	updated := 0
	for i, row := range rows {
		if len(vectors[i]) == 0 {
			continue
		}
		err := b.store.UpdateLongTermMemoryEmbedding(ctx, &store.UpdateLongTermMemoryEmbedding{
			ID:        row.ID,
			Embedding: vectors[i],
			Model:     b.embedder.Model(),
		})
		if err != nil {
			slog.Warn("failed to store backfilled embedding", "memory_id", row.ID, "error", err)
			continue
		}
		updated++
	}
	return updated
}

func (b *Backfiller) embedOne(ctx context.Context, content string) []float32 {
	var vec []float32
	err := retry.Do(ctx, retry.Fixed(b.MaxAttempts, b.RetryDelay), func(int) error {
		embedCtx, cancel := context.WithTimeout(ctx, timeout.EmbeddingTimeout)
		defer cancel()
		v, err := b.embedder.Embed(embedCtx, content)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		slog.Warn("embedding failed, skipping record", "error", err)
		return nil
	}
	return vec
}
