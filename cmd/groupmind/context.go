package main

import (
	"fmt"

	"github.com/spf13/cobra"

	aicontext "github.com/hrygo/groupmind/plugin/ai/context"
)

type contextMessage struct {
	ID         string  `json:"id"`
	Role       string  `json:"role"`
	Sender     string  `json:"sender,omitempty"`
	Type       string  `json:"type,omitempty"`
	Compressed bool    `json:"compressed,omitempty"`
	Score      float64 `json:"value_score,omitempty"`
	Content    string  `json:"content"`
}

type contextOutput struct {
	State         aicontext.SnapshotState `json:"state"`
	Tokens        int                     `json:"tokens"`
	NewMessages   int                     `json:"new_messages"`
	Compressed    bool                    `json:"compressed"`
	SnapshotSaved bool                    `json:"snapshot_saved"`
	Stats         aicontext.ContextStats  `json:"stats"`
	Messages      []contextMessage        `json:"messages,omitempty"`
}

func newContextCmd() *cobra.Command {
	var (
		groupID     string
		opts        aicontext.BuildOptions
		showHistory bool
	)
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Build the compressed history of a group from its latest snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.ThresholdRatio < 0 || opts.ThresholdRatio > 1 {
				return fmt.Errorf("threshold ratio must be in (0, 1], got %v", opts.ThresholdRatio)
			}
			return withApp(cmd.Context(), func(a *app) error {
				if _, err := a.group(cmd.Context(), groupID); err != nil {
					return err
				}
				res, err := a.builder.BuildContext(cmd.Context(), groupID, opts)
				if err != nil {
					return err
				}

				out := contextOutput{
					State:         res.State,
					Tokens:        res.Tokens,
					NewMessages:   res.NewMessages,
					Compressed:    res.Compressed,
					SnapshotSaved: res.SnapshotSaved,
					Stats:         a.manager.Stats(res.Messages),
				}
				if showHistory {
					for _, m := range res.Messages {
						cm := contextMessage{
							ID:         m.ID,
							Role:       string(m.Role),
							Sender:     m.SenderName,
							Type:       string(m.Type),
							Compressed: m.Compressed,
							Content:    m.Content,
						}
						if m.ValueScore != nil {
							cm.Score = *m.ValueScore
						}
						out.Messages = append(out.Messages, cm)
					}
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "", "group id")
	cmd.Flags().IntVar(&opts.MaxTokens, "max-tokens", 0, "context window, defaults to GROUPMIND_CONTEXT_MAX_TOKENS")
	cmd.Flags().Float64Var(&opts.ThresholdRatio, "ratio", 0, "compression threshold ratio, defaults to the group setting")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "compress even below the threshold")
	cmd.Flags().BoolVar(&opts.ExcludeLast, "exclude-last", false, "leave out the newest message")
	cmd.Flags().BoolVar(&showHistory, "show", false, "print the resulting messages")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}
