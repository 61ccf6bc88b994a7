package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hrygo/groupmind/store"
)

// DefaultSweepSchedule runs the sweeper every 15 minutes.
const DefaultSweepSchedule = "@every 15m"

// GroupLoader resolves the group of a checkpoint.
type GroupLoader interface {
	GetGroup(ctx context.Context, id string) (*store.Group, error)
}

// Sweeper periodically re-runs archival for every known checkpoint and for
// every pair that was dead-lettered before it ever got one.
type Sweeper struct {
	service  *Service
	groups   GroupLoader
	schedule string
}

// NewSweeper creates a sweeper. An empty schedule uses DefaultSweepSchedule.
func NewSweeper(service *Service, groups GroupLoader, schedule string) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &Sweeper{service: service, groups: groups, schedule: schedule}
}

// SweepResult counts one pass. DeadLetters counts the pairs swept only
// because of a dead letter.
type SweepResult struct {
	Checkpoints int
	DeadLetters int
	Archived    int
	Skipped     int
	Failed      int
}

// RunOnce archives every checkpointed or dead-lettered (group, user) pair
// sequentially.
func (s *Sweeper) RunOnce(ctx context.Context) (*SweepResult, error) {
	checkpoints, err := s.service.store.ListMemoryCheckpoints(ctx)
	if err != nil {
		return nil, err
	}
	letters, err := s.service.store.ListMemoryDeadLetters(ctx, &store.FindMemoryDeadLetter{})
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Checkpoints: len(checkpoints)}
	seen := make(map[groupUserKey]bool, len(checkpoints))
	pairs := make([]groupUserKey, 0, len(checkpoints))
	for _, cp := range checkpoints {
		key := groupUserKey{cp.GroupID, cp.UserID}
		seen[key] = true
		pairs = append(pairs, key)
	}
	for _, dl := range letters {
		key := groupUserKey{dl.GroupID, dl.UserID}
		if seen[key] {
			continue
		}
		seen[key] = true
		pairs = append(pairs, key)
		result.DeadLetters++
	}

	for _, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		group, err := s.groups.GetGroup(ctx, pair.groupID)
		if err != nil || group == nil {
			slog.Warn("sweeper: group not found", "group_id", pair.groupID, "error", err)
			result.Failed++
			continue
		}

		res, err := s.service.ArchiveIncremental(ctx, group, pair.userID, false, "sweep")
		switch {
		case err != nil:
			result.Failed++
		case res.Skipped:
			result.Skipped++
		default:
			result.Archived++
		}
	}

	slog.Info("memory sweep finished",
		"checkpoints", result.Checkpoints,
		"dead_letters", result.DeadLetters,
		"archived", result.Archived,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}

// Run schedules RunOnce until ctx is cancelled. Overlapping ticks are skipped.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(s.schedule, func() {
		start := time.Now()
		if _, err := s.RunOnce(ctx); err != nil {
			slog.Warn("memory sweep failed", "error", err, "latency_ms", time.Since(start).Milliseconds())
		}
		s.reportMetrics(start)
	})
	if err != nil {
		return err
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// metricsRetention bounds how long hourly metric buckets are kept in memory.
const metricsRetention = 24 * time.Hour

func (s *Sweeper) reportMetrics(now time.Time) {
	agg := s.service.Metrics()
	pruned := agg.Prune(now.Add(-metricsRetention))
	stats := agg.Snapshot()
	attrs := []any{
		"count", stats.Count,
		"success", stats.Success,
		"latency_p50_ms", stats.LatencyP50.Milliseconds(),
		"latency_p95_ms", stats.LatencyP95.Milliseconds(),
		"pruned_buckets", pruned,
	}
	for name, op := range stats.Operations {
		attrs = append(attrs, slog.Group(name,
			"count", op.Count,
			"success_rate", op.SuccessRate,
			"avg_latency_ms", op.AvgLatency.Milliseconds(),
		))
	}
	slog.Info("memory metrics", attrs...)
}
