package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chrisbu/samza-runloop/internal/config"
	"github.com/chrisbu/samza-runloop/internal/container"
	"github.com/chrisbu/samza-runloop/internal/runloop"
)

// runCmd represents the run command.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the container's run loop in the foreground",
	Long: `Run the container process in the foreground.

The container will:
  1. Load configuration from the config file
  2. Initialize logging and metrics
  3. Construct the consumer mux, offset manager, and run loop
  4. Drive the run loop until every task finishes or one fails
  5. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)

Every configured task is driven by a LoggingHandle unless a more specific
TaskHandle is wired in by an embedder of this module.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runContainer()
	},
}

func runContainer() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	handles := make(map[string]runloop.TaskHandle, len(cfg.Tasks))
	for name := range cfg.Tasks {
		handles[name] = container.LoggingHandle{Task: name}
	}

	c, err := container.New(configFile, handles)
	if err != nil {
		return fmt.Errorf("construct container: %w", err)
	}

	if err := c.Start(); err != nil {
		return fmt.Errorf("start container: %w", err)
	}

	return c.Run()
}
