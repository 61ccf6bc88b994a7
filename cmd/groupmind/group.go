package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hrygo/groupmind/store"
)

// groupFile is the on-disk form of a group. Missing settings keep their defaults.
type groupFile struct {
	ID       string               `json:"id"`
	Name     string               `json:"name"`
	Members  []*store.GroupMember `json:"members"`
	Settings *json.RawMessage     `json:"settings,omitempty"`
}

func newGroupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage groups",
	}

	put := &cobra.Command{
		Use:   "put <file.json>",
		Short: "Create or replace a group from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var file groupFile
			if err := json.Unmarshal(raw, &file); err != nil {
				return errors.Wrap(err, "failed to parse group file")
			}
			settings := store.DefaultMemorySettings()
			if file.Settings != nil {
				if err := json.Unmarshal(*file.Settings, &settings); err != nil {
					return errors.Wrap(err, "failed to parse group settings")
				}
			}

			return withApp(cmd.Context(), func(a *app) error {
				g, err := a.store.UpsertGroup(cmd.Context(), &store.Group{
					ID:       file.ID,
					Name:     file.Name,
					Members:  file.Members,
					Settings: settings,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), g)
			})
		},
	}

	get := &cobra.Command{
		Use:   "get <group-id>",
		Short: "Show a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				g, err := a.group(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), g)
			})
		},
	}

	cmd.AddCommand(put, get)
	return cmd
}

func newMessageCmd() *cobra.Command {
	var (
		groupID string
		id      string
		role    string
		sender  string
		mode    string
	)
	cmd := &cobra.Command{
		Use:   "message <content>",
		Short: "Append a message to a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := store.Role(role)
			switch r {
			case store.RoleUser, store.RoleAssistant, store.RoleSystem:
			default:
				return errors.Errorf("unknown role %q", role)
			}

			return withApp(cmd.Context(), func(a *app) error {
				if _, err := a.group(cmd.Context(), groupID); err != nil {
					return err
				}
				m, err := a.store.CreateMessage(cmd.Context(), &store.Message{
					ID:         id,
					GroupID:    groupID,
					Role:       r,
					SenderName: sender,
					Mode:       mode,
					Content:    args[0],
					CreatedAt:  time.Now().UTC(),
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), m)
			})
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "", "group id")
	cmd.Flags().StringVar(&id, "id", "", "message id (generated when empty)")
	cmd.Flags().StringVar(&role, "role", string(store.RoleUser), "user, assistant or system")
	cmd.Flags().StringVar(&sender, "sender", "", "sender display name")
	cmd.Flags().StringVar(&mode, "mode", "chat", "conversation mode")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}
