package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/pulsewatch/config"
	"github.com/jpalmerr/pulsewatch/internal/registry"
)

// validateCmd validates a config file without starting the monitor.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a pulsewatch configuration file without starting the monitor.

Unlike run, validate does not fall back to defaults: the file must exist,
parse, and pass validation. It also reports how many registered targets are
valid. Useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  pulsewatch validate -c config.json
  pulsewatch validate --config /etc/pulsewatch/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var listed []string
	if cfg.TargetsFile != "" {
		listed, err = registry.NewFileSource(cfg.TargetsFile).Targets(context.Background())
		if err != nil {
			return fmt.Errorf("invalid target list: %w", err)
		}
	}
	listed = append(listed, cfg.Targets...)

	valid := 0
	for _, raw := range listed {
		if registry.Validate(raw) {
			valid++
		}
	}

	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "every " + cfg.Interval().String()
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Schedule:      %s\n", schedule)
	fmt.Fprintf(out, "  Timeout:       %s\n", cfg.RequestTimeout())
	fmt.Fprintf(out, "  Targets:       %d valid of %d listed\n", valid, len(listed))
	fmt.Fprintf(out, "  Email alerts:  %t\n", cfg.Email.Enabled)
	return nil
}
