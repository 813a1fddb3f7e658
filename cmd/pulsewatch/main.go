// Package main is the entry point for the pulsewatch CLI.
//
// pulsewatch can be embedded as a library (SDK) or run as a standalone
// binary driven by a configuration document. This CLI provides the
// standalone binary approach.
//
// Usage:
//
//	pulsewatch run                          # Monitor until interrupted
//	pulsewatch validate -c config.json      # Validate configuration
//	pulsewatch targets add https://a.example
//	pulsewatch version                      # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/pulsewatch/config"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "pulsewatch",
	Short: "Periodic HTTP uptime monitor",
	Long: `pulsewatch checks a list of URLs on a schedule, tracks uptime and latency
per target, backs off targets that keep failing and sends an alert email for
every failed check.

Quick start:
  1. Register targets: pulsewatch targets add https://api.example.com/health
  2. Run: pulsewatch run
  3. Read ./status.json or tail ./monitor.log

Example config (config.json):
  {
    "intervalMinutes": 5,
    "requestTimeoutMs": 5000,
    "email": {"enabled": true, "to": "ops@example.com"},
    "server": {"port": 8080}
  }`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// cobra already printed the error
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this pulsewatch binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "pulsewatch %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultPath, "path to config file")
	rootCmd.AddCommand(versionCmd)
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}
