package cmd

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
)

// reloadCmd represents the reload command.
var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the running container's log config and timer intervals",
	Long: `Send SIGHUP to the container process recorded in the configured
PID file. Only log configuration and the window/commit interval knobs
are applied; partition assignment and task identity never change
without a restart.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := signalRunningContainer(syscall.SIGHUP); err != nil {
			exitWithError("failed to reload container", err)
		}
		fmt.Println("sent reload signal to container")
	},
}
