package cmd

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
)

// statusCmd represents the status command.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the container process is running",
	Long: `Check whether a container process recorded in the configured PID
file is alive, by sending it signal 0.`,
	Run: func(cmd *cobra.Command, args []string) {
		pid, err := readRunningPID()
		if err != nil {
			exitWithError("cannot determine container status", err)
		}

		if err := signalZero(pid); err != nil {
			fmt.Printf("container (pid %d) is not running: %v\n", pid, err)
			os.Exit(1)
		}

		fmt.Printf("container (pid %d) is running\n", pid)
	},
}

func signalZero(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.Signal(0))
}
