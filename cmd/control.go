package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/chrisbu/samza-runloop/internal/config"
)

// readRunningPID loads configFile to find the container's PID file, then
// reads and parses the PID it contains. The config is loaded with
// config.Load, so a config that fails validation is an error even when
// Container.PIDFile is set.
func readRunningPID() (int, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return 0, fmt.Errorf("load config: %w", err)
	}
	if cfg.Container.PIDFile == "" {
		return 0, fmt.Errorf("container.pid_file not configured")
	}

	data, err := os.ReadFile(cfg.Container.PIDFile)
	if err != nil {
		return 0, fmt.Errorf("read pid file %s: %w", cfg.Container.PIDFile, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", cfg.Container.PIDFile, err)
	}
	return pid, nil
}

// signalRunningContainer sends sig to the process recorded in the
// container's PID file.
func signalRunningContainer(sig syscall.Signal) error {
	pid, err := readRunningPID()
	if err != nil {
		return err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}

	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("signal process %d: %w", pid, err)
	}
	return nil
}
