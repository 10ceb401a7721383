package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shinehq/shinehq/internal/server"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "shinehq",
	Short:   "ShineHQ entitlement and lifecycle engine",
	Long:    `ShineHQ keeps tenant billing state in sync with Stripe: it reconciles webhook and poll events into the entitlement store, gates dashboard access, and runs the trial retention drip.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Run(cmd.Context(), Version)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine HTTP server and background loops",
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Run(cmd.Context(), Version)
	},
}

var retentionRunCmd = &cobra.Command{
	Use:   "retention-run",
	Short: "Execute a single retention drip pass and exit",
	Long:  "Runs one pass of the trial retention scheduler against the configured registry. Intended for cron-style deployments that do not keep the server's background loop running.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.RunRetentionOnce(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ShineHQ %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(retentionRunCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
