package cmd

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
)

// stopCmd represents the stop command.
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running container gracefully",
	Long: `Send SIGTERM to the container process recorded in the configured
PID file. The run loop drains every worker and exits once shutdown
consensus is reached.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := signalRunningContainer(syscall.SIGTERM); err != nil {
			exitWithError("failed to stop container", err)
		}
		fmt.Println("sent shutdown signal to container")
	},
}
