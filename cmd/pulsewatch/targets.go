package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/pulsewatch/config"
	"github.com/jpalmerr/pulsewatch/internal/registry"
)

// targetsCmd groups the target list subcommands.
var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Manage the target list",
	Long: `Manage the target list document ({"urls": [...]}) named by targetsFile.

Changes are picked up by a running monitor at the next cycle.`,
}

var targetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered targets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := targetFile(cmd)
		if err != nil {
			return err
		}
		urls, err := src.Targets(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, u := range urls {
			if registry.Validate(u) {
				fmt.Fprintln(out, u)
			} else {
				fmt.Fprintf(out, "%s (invalid, skipped)\n", u)
			}
		}
		return nil
	},
}

var targetsAddCmd = &cobra.Command{
	Use:   "add <url>...",
	Short: "Register one or more targets",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := targetFile(cmd)
		if err != nil {
			return err
		}
		for _, u := range args {
			if err := src.Add(cmd.Context(), u); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", u)
		}
		return nil
	},
}

var targetsRemoveCmd = &cobra.Command{
	Use:   "remove <url>",
	Short: "Remove a target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := targetFile(cmd)
		if err != nil {
			return err
		}
		removed, err := src.Remove(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("target %q is not registered", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
		return nil
	},
}

func init() {
	targetsCmd.AddCommand(targetsListCmd, targetsAddCmd, targetsRemoveCmd)
	rootCmd.AddCommand(targetsCmd)
}

// targetFile resolves the target list document from the configuration,
// falling back to the default path when the config cannot be loaded.
func targetFile(cmd *cobra.Command) (*registry.FileSource, error) {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		cfg = config.Default()
	}
	if cfg.TargetsFile == "" {
		return nil, fmt.Errorf("targetsFile is disabled in the configuration")
	}
	return registry.NewFileSource(cfg.TargetsFile), nil
}
