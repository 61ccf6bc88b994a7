package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	aierrors "github.com/hrygo/groupmind/internal/errors"
	"github.com/hrygo/groupmind/plugin/ai/memory"
	"github.com/hrygo/groupmind/plugin/ai/metrics"
	"github.com/hrygo/groupmind/store"
)

func newArchiveCmd() *cobra.Command {
	var (
		groupID string
		userID  string
		force   bool
		reason  string
	)
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Extract long-term memories from messages after the checkpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				g, err := a.group(cmd.Context(), groupID)
				if err != nil {
					return err
				}
				if !g.Settings.MemoryEnabled {
					return memory.ErrMemoryDisabled
				}
				res, err := a.memory.ArchiveIncremental(cmd.Context(), g, userID, force, reason)
				if res != nil {
					if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "", "group id")
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().BoolVar(&force, "force", false, "archive even below the batch threshold")
	cmd.Flags().StringVar(&reason, "reason", "manual", "reason recorded with the memories")
	_ = cmd.MarkFlagRequired("group")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newRecallCmd() *cobra.Command {
	var (
		groupID   string
		userID    string
		query     string
		types     []string
		scopes    []string
		filter    string
		maxTokens int
	)
	cmd := &cobra.Command{
		Use:   "recall",
		Short: "Print the long-term memory block injected for a query",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := memory.RetrieveOptions{Types: types, Filter: filter}
			for _, raw := range scopes {
				scope, ok := store.ParseMemoryScope(strings.TrimSpace(raw))
				if !ok {
					return aierrors.InvalidArgument(fmt.Sprintf("unknown scope %q", raw))
				}
				opts.Scopes = append(opts.Scopes, scope)
			}
			if filter != "" {
				if err := memory.ValidateFilter(filter); err != nil {
					return aierrors.Wrap(err, aierrors.ErrCodeInvalidArgument, "invalid filter")
				}
			}

			return withApp(cmd.Context(), func(a *app) error {
				g, err := a.group(cmd.Context(), groupID)
				if err != nil {
					return err
				}
				if !g.Settings.MemoryEnabled {
					return memory.ErrMemoryDisabled
				}
				if maxTokens <= 0 {
					maxTokens = a.profile.ContextMaxTokens
				}
				block := a.memory.BuildInjectionContext(cmd.Context(), g, userID, query, maxTokens, opts)
				if block == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "no matching long-term memory")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), block)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "", "group id")
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVarP(&query, "query", "q", "", "current user input")
	cmd.Flags().StringSliceVar(&types, "types", nil, "memory types to keep")
	cmd.Flags().StringSliceVar(&scopes, "scopes", nil, "scopes to keep: user_global, group_local, agent_local")
	cmd.Flags().StringVar(&filter, "filter", "", `CEL filter over memory fields, e.g. memory.confidence >= 0.8`)
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "context window the budget is derived from")
	_ = cmd.MarkFlagRequired("group")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func newStatsCmd() *cobra.Command {
	var groupID string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the memory statistics of a group",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				stats, err := a.memory.GroupStats(cmd.Context(), groupID)
				if err != nil {
					return aierrors.StoreFailed("load memory stats", err)
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "", "group id")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}

func newBackfillCmd() *cobra.Command {
	var (
		opts  memory.BackfillOptions
		scope string
	)
	cmd := &cobra.Command{
		Use:   "backfill-embeddings",
		Short: "Embed long-term memories stored without a vector",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if scope != "" {
				s, ok := store.ParseMemoryScope(scope)
				if !ok {
					return aierrors.InvalidArgument(fmt.Sprintf("unknown scope %q", scope))
				}
				opts.Scope = s
			}
			return withApp(cmd.Context(), func(a *app) error {
				if a.embedder == nil {
					return aierrors.Wrap(nil, aierrors.ErrCodeEmbeddingFailed, "no embedding service configured, set GROUPMIND_AI_ENABLED")
				}
				res, err := memory.NewBackfiller(a.store, a.embedder).Run(cmd.Context(), opts)
				if err != nil {
					return aierrors.Wrap(err, aierrors.ErrCodeEmbeddingFailed, "backfill failed")
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 40, "records per batch")
	cmd.Flags().IntVar(&opts.MaxRows, "max-rows", 0, "stop after this many records, 0 for all")
	cmd.Flags().StringVar(&opts.GroupID, "group", "", "only records of this group")
	cmd.Flags().StringVar(&opts.UserID, "user", "", "only records of this user")
	cmd.Flags().StringVar(&scope, "scope", "", "only records of this scope")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "only count candidates")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "re-embed records that already have a vector")
	return cmd
}

func newSweepCmd() *cobra.Command {
	var (
		once     bool
		schedule string
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Re-run archival for every checkpoint, once or on a schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, func(a *app) error {
				sweeper := memory.NewSweeper(a.memory, a.store, schedule)
				if once {
					res, err := sweeper.RunOnce(ctx)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), struct {
						*memory.SweepResult
						Metrics *metrics.Stats `json:"metrics"`
					}{res, a.memory.Metrics().Snapshot()})
				}
				if err := sweeper.Run(ctx); err != nil && ctx.Err() == nil {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single pass and exit")
	cmd.Flags().StringVar(&schedule, "schedule", memory.DefaultSweepSchedule, "cron schedule")
	return cmd
}

func newForgetCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "forget <memory-id>...",
		Short: "Deactivate long-term memories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				n, err := a.store.DeactivateLongTermMemories(cmd.Context(), &store.DeactivateLongTermMemory{
					IDs:    args,
					UserID: userID,
				})
				if err != nil {
					return aierrors.StoreFailed("deactivate memories", err)
				}
				return printJSON(cmd.OutOrStdout(), map[string]int{"deactivated": n})
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "only deactivate records owned by this user")
	return cmd
}
