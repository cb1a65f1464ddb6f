package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vellum-dev/vellum/internal/config"
	"github.com/vellum-dev/vellum/internal/plugins"
)

func buildPluginsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Manage the plugin trust store",
	}
	cmd.AddCommand(
		buildPluginsListCmd(configPath),
		buildPluginsTrustCmd(configPath),
		buildPluginsRevokeCmd(configPath),
		buildPluginsVerifyCmd(configPath),
		buildPluginsUpgradeCmd(configPath),
	)
	return cmd
}

func trustStorePath(cfg *config.Config) string {
	if cfg.Plugins.TrustStorePath != "" {
		return cfg.Plugins.TrustStorePath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "trusted-plugins.json"
	}
	return filepath.Join(home, ".vellum", "trusted-plugins.json")
}

func withGate(configPath *string, fn func(cmd *cobra.Command, args []string, gate *plugins.Gate) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOrDefault(*configPath)
		if err != nil {
			return err
		}
		gate, err := plugins.NewGate(trustStorePath(cfg), plugins.WithLogger(buildLogger(cfg)))
		if err != nil {
			return err
		}
		return fn(cmd, args, gate)
	}
}

func buildPluginsListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List trusted plugins",
		Args:  exactArgs(0),
		RunE: withGate(configPath, func(cmd *cobra.Command, _ []string, gate *plugins.Gate) error {
			records := gate.List()
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no trusted plugins")
				return nil
			}
			for _, record := range records {
				caps := make([]string, len(record.Capabilities))
				for i, cap := range record.Capabilities {
					caps[i] = string(cap)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-10s %-8s %s\n",
					record.PluginName, record.Version, record.TrustLevel, strings.Join(caps, ","))
			}
			return nil
		}),
	}
}

func buildPluginsTrustCmd(configPath *string) *cobra.Command {
	var pluginVersion string
	var caps []string

	cmd := &cobra.Command{
		Use:   "trust <name> <plugin-file>",
		Short: "Trust a plugin with the given capabilities",
		Example: `  vellum plugins trust linter ./linter.wasm --cap execute-hooks
  vellum plugins trust fetcher ./fetcher.wasm --cap network-access --cap mcp-servers`,
		Args: exactArgs(2),
		RunE: withGate(configPath, func(cmd *cobra.Command, args []string, gate *plugins.Gate) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			granted := make([]plugins.Capability, len(caps))
			for i, cap := range caps {
				granted[i] = plugins.Capability(cap)
			}
			record, err := gate.Trust(args[0], pluginVersion, granted, plugins.HashBytes(data))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "trusted %s %s (level %s, hash %s)\n",
				record.PluginName, record.Version, record.TrustLevel, record.ContentHash[:12])
			return nil
		}),
	}

	cmd.Flags().StringVar(&pluginVersion, "version", "0.0.0", "Plugin semantic version")
	cmd.Flags().StringArrayVar(&caps, "cap", nil, "Capability to grant (repeatable)")
	return cmd
}

func buildPluginsRevokeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <name>",
		Short: "Revoke a plugin's trust record",
		Args:  exactArgs(1),
		RunE: withGate(configPath, func(cmd *cobra.Command, args []string, gate *plugins.Gate) error {
			removed, err := gate.Revoke(args[0])
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintln(cmd.OutOrStdout(), "no trust record for", args[0])
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "revoked", args[0])
			return nil
		}),
	}
}

func buildPluginsVerifyCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <name> <plugin-file>",
		Short: "Check plugin bytes against the recorded hash",
		Args:  exactArgs(2),
		RunE: withGate(configPath, func(cmd *cobra.Command, args []string, gate *plugins.Gate) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			if !gate.VerifyIntegrity(args[0], data) {
				return fmt.Errorf("integrity check failed for %s", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		}),
	}
}

func buildPluginsUpgradeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade <name>",
		Short: "Raise a plugin to full trust",
		Args:  exactArgs(1),
		RunE: withGate(configPath, func(cmd *cobra.Command, args []string, gate *plugins.Gate) error {
			if err := gate.Upgrade(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "upgraded", args[0], "to full trust")
			return nil
		}),
	}
}
