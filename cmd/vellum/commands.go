package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vellum-dev/vellum/internal/config"
	"github.com/vellum-dev/vellum/internal/providers"
)

var version = "dev"

func buildRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "vellum",
		Short:         "Vellum agent runtime",
		Long:          "Vellum runs LLM agent sessions with tool execution, permissions, and workspace snapshots.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(),
		"Path to the settings document")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	root.AddCommand(
		buildVersionCmd(),
		buildModelsCmd(&configPath),
		buildChatCmd(&configPath),
		buildSessionsCmd(&configPath),
		buildSnapshotCmd(&configPath),
		buildPluginsCmd(&configPath),
	)
	return root
}

// exactArgs wraps cobra's validator so argument mistakes carry the usage
// exit code.
func exactArgs(n int) cobra.PositionalArgs {
	inner := cobra.ExactArgs(n)
	return func(cmd *cobra.Command, args []string) error {
		if err := inner(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "vellum", version)
		},
	}
}

func buildModelsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "models [provider]",
		Short: "List models for the configured or named provider",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 {
				return &usageError{err: fmt.Errorf("accepts at most one provider name")}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(*configPath)
			if err != nil {
				return err
			}
			name := cfg.LLM.Provider
			if len(args) == 1 {
				name = args[0]
			}
			provider, err := buildProvider(name, cfg)
			if err != nil {
				return err
			}
			for _, info := range provider.Models() {
				marker := " "
				if info.ID == cfg.LLM.Model {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-40s context=%d reasoning=%v\n",
					marker, info.ID, info.ContextWindow, info.SupportsReasoning)
			}
			return nil
		},
	}
}

func providerNamesHint() string {
	names := providers.Names()
	out := ""
	for i, name := range names {
		if i > 0 {
			out += ", "
		}
		out += name
	}
	return out
}
