package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vellum-dev/vellum/internal/config"
	"github.com/vellum-dev/vellum/internal/snapshots"
)

func buildSnapshotCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage workspace snapshots",
		Long: `Snapshots record the workspace in a content-addressed shadow store,
independent of any version control the workspace itself uses.`,
	}
	cmd.AddCommand(
		buildSnapshotTakeCmd(configPath),
		buildSnapshotListCmd(configPath),
		buildSnapshotRestoreCmd(configPath),
		buildSnapshotDiffCmd(configPath),
		buildSnapshotStatusCmd(configPath),
	)
	return cmd
}

func withSnapshotStore(configPath *string, fn func(cmd *cobra.Command, args []string, store *snapshots.Store) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOrDefault(*configPath)
		if err != nil {
			return err
		}
		store, err := snapshots.NewStore(workspaceRoot(cfg), snapshots.WithLogger(buildLogger(cfg)))
		if err != nil {
			return err
		}
		return fn(cmd, args, store)
	}
}

func buildSnapshotTakeCmd(configPath *string) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "take",
		Short: "Snapshot the current workspace",
		Args:  exactArgs(0),
		RunE: withSnapshotStore(configPath, func(cmd *cobra.Command, _ []string, store *snapshots.Store) error {
			snap, err := store.Take(message)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %d files\n", snap.Hash, snap.FileCount)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Snapshot description")
	return cmd
}

func buildSnapshotListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  exactArgs(0),
		RunE: withSnapshotStore(configPath, func(cmd *cobra.Command, _ []string, store *snapshots.Store) error {
			snaps := store.List()
			if len(snaps) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no snapshots")
				return nil
			}
			for _, snap := range snaps {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %3d files  %s\n",
					snap.Hash[:12], snap.CreatedAt.Format("2006-01-02 15:04"), snap.FileCount, snap.Message)
			}
			return nil
		}),
	}
}

func buildSnapshotRestoreCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <hash>",
		Short: "Rewrite the workspace to match a snapshot",
		Args:  exactArgs(1),
		RunE: withSnapshotStore(configPath, func(cmd *cobra.Command, args []string, store *snapshots.Store) error {
			if err := store.Restore(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "restored", args[0])
			return nil
		}),
	}
}

func buildSnapshotDiffCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <hash>",
		Short: "Show workspace changes relative to a snapshot",
		Args:  exactArgs(1),
		RunE: withSnapshotStore(configPath, func(cmd *cobra.Command, args []string, store *snapshots.Store) error {
			changes, err := store.Diff(args[0])
			if err != nil {
				return err
			}
			if len(changes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "workspace matches snapshot")
				return nil
			}
			for _, change := range changes {
				fmt.Fprintf(cmd.OutOrStdout(), "%-9s %s\n", change.Kind, change.Path)
			}
			return nil
		}),
	}
}

func buildSnapshotStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the workspace matches the latest snapshot",
		Args:  exactArgs(0),
		RunE: withSnapshotStore(configPath, func(cmd *cobra.Command, _ []string, store *snapshots.Store) error {
			status, err := store.PollStatus()
			if err != nil {
				return err
			}
			if status.Baseline == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "no baseline snapshot")
				return nil
			}
			if status.Clean {
				fmt.Fprintf(cmd.OutOrStdout(), "clean (baseline %s)\n", status.Baseline[:12])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d changes since %s\n", len(status.Changes), status.Baseline[:12])
			for _, change := range status.Changes {
				fmt.Fprintf(cmd.OutOrStdout(), "%-9s %s\n", change.Kind, change.Path)
			}
			return nil
		}),
	}
}
