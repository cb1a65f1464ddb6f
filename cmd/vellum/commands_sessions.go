package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vellum-dev/vellum/internal/config"
	"github.com/vellum-dev/vellum/internal/sessions"
)

func buildSessionsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage stored sessions",
	}
	cmd.AddCommand(
		buildSessionsListCmd(configPath),
		buildSessionsShowCmd(configPath),
		buildSessionsDeleteCmd(configPath),
		buildCheckpointCmd(configPath),
		buildRollbackCmd(configPath),
	)
	return cmd
}

func withStore(configPath *string, fn func(cmd *cobra.Command, args []string, store sessions.Store) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOrDefault(*configPath)
		if err != nil {
			return err
		}
		store, err := openSessionStore(cfg)
		if err != nil {
			return err
		}
		return fn(cmd, args, store)
	}
}

func buildSessionsListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		Args:  exactArgs(0),
		RunE: withStore(configPath, func(cmd *cobra.Command, _ []string, store sessions.Store) error {
			metas, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(metas) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
				return nil
			}
			for _, meta := range metas {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s/%s  %s\n",
					meta.ID, meta.Provider, meta.Model, meta.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		}),
	}
}

func buildSessionsShowCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session transcript",
		Args:  exactArgs(1),
		RunE: withStore(configPath, func(cmd *cobra.Command, args []string, store sessions.Store) error {
			session, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session %s (%s/%s, version %d)\n",
				session.Metadata.ID, session.Metadata.Provider, session.Metadata.Model, session.Version)
			for i, msg := range session.Messages {
				content := msg.Content
				if content == "" && len(msg.ToolCalls) > 0 {
					names := make([]string, len(msg.ToolCalls))
					for j, call := range msg.ToolCalls {
						names[j] = call.Name
					}
					content = "[tool calls: " + strings.Join(names, ", ") + "]"
				}
				if content == "" && len(msg.ToolResults) > 0 {
					content = fmt.Sprintf("[%d tool results]", len(msg.ToolResults))
				}
				fmt.Fprintf(out, "%3d %-9s %s\n", i, msg.Role, content)
			}
			for _, cp := range session.Checkpoints {
				fmt.Fprintf(out, "checkpoint %s at message %d: %s\n", cp.ID, cp.MessageIndex, cp.Description)
			}
			return nil
		}),
	}
}

func buildSessionsDeleteCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session",
		Args:  exactArgs(1),
		RunE: withStore(configPath, func(cmd *cobra.Command, args []string, store sessions.Store) error {
			return store.Delete(cmd.Context(), args[0])
		}),
	}
}

func buildCheckpointCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint <session-id> <description>",
		Short: "Record a rollback point at the current message count",
		Args:  exactArgs(2),
		RunE: withStore(configPath, func(cmd *cobra.Command, args []string, store sessions.Store) error {
			cp, err := store.CreateCheckpoint(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checkpoint %s at message %d\n", cp.ID, cp.MessageIndex)
			return nil
		}),
	}
}

func buildRollbackCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <session-id> <checkpoint-id>",
		Short: "Truncate a session back to a checkpoint",
		Args:  exactArgs(2),
		RunE: withStore(configPath, func(cmd *cobra.Command, args []string, store sessions.Store) error {
			if err := store.Rollback(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "rolled back")
			return nil
		}),
	}
}
