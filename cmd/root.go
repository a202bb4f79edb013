// Package cmd implements CLI commands using the cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	socketPath string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "samza-runloop",
	Short: "A per-container stream-processing run loop",
	Long: `samza-runloop drives a single container's run loop: it fetches
envelopes from a ConsumerMux, dispatches them to per-task workers with
bounded in-flight concurrency, fires window and commit timers on a
schedule, and brings every task to a consistent shutdown.

Features:
  - Elasticity-aware envelope routing by key-bucket
  - Synchronous or async-commit offset checkpointing
  - Prometheus metrics and structured logging
  - Graceful drain on SIGTERM/SIGINT, narrow reload on SIGHUP`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and parses flags.
// It is called once by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/samza-runloop/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/samza-runloop.sock",
		"control socket path (reserved, unused by this build)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
}

// exitWithError prints an error message to stderr and exits with code 1.
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
