// Package container bootstraps a single samza-runloop process: it loads
// configuration, wires logging, metrics, the consumer mux, the offset
// manager, and the run loop together, and drives them under OS signal
// handling. It is the run-loop analogue of the teacher's
// internal/daemon.Daemon + internal/task.TaskManager pairing.
package container

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/chrisbu/samza-runloop/internal/config"
	"github.com/chrisbu/samza-runloop/internal/consumer"
	"github.com/chrisbu/samza-runloop/internal/core"
	logpkg "github.com/chrisbu/samza-runloop/internal/log"
	"github.com/chrisbu/samza-runloop/internal/metrics"
	"github.com/chrisbu/samza-runloop/internal/offset"
	"github.com/chrisbu/samza-runloop/internal/runloop"
)

// Container owns the full lifecycle of one process: it is constructed
// from a loaded GlobalConfig and a caller-supplied map of TaskHandles
// (one per configured task name) — task business logic is never this
// package's concern, matching runloop.TaskHandle being the pluggable
// surface.
type Container struct {
	cfg        *config.GlobalConfig
	configPath string

	handles map[string]runloop.TaskHandle

	mux     consumer.Mux
	offsets offset.Manager
	loop    *runloop.RunLoop

	metricsServer *metrics.Server

	ctx    context.Context
	cancel context.CancelFunc

	sigChan chan os.Signal

	mu sync.Mutex
}

// New loads configuration from configPath and constructs a Container
// wired to the given task handles. The handles map must contain an
// entry for every task name in cfg.Tasks.
func New(configPath string, handles map[string]runloop.TaskHandle) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("container: load config: %w", err)
	}

	for name := range cfg.Tasks {
		if _, ok := handles[name]; !ok {
			return nil, fmt.Errorf("container: task %q: %w", name, core.ErrTaskNotFound)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Container{
		cfg:        cfg,
		configPath: configPath,
		handles:    handles,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start wires logging, metrics, the consumer mux, the offset manager and
// the run loop, in that order, rolling back already-started components
// if a later step fails.
func (c *Container) Start() error {
	if err := logpkg.Init(c.cfg.Log); err != nil {
		return fmt.Errorf("container: init logging: %w", err)
	}

	slog.Info("starting container",
		"id", c.cfg.Container.ID,
		"hostname", c.cfg.Container.Hostname,
		"config", c.configPath,
	)

	if err := c.writePIDFile(); err != nil {
		return fmt.Errorf("container: write pid file: %w", err)
	}

	if err := c.startMetrics(); err != nil {
		c.removePIDFile()
		return fmt.Errorf("container: start metrics: %w", err)
	}

	offsets, err := c.buildOffsetManager()
	if err != nil {
		c.stopMetrics()
		c.removePIDFile()
		return fmt.Errorf("container: build offset manager: %w", err)
	}
	c.offsets = offsets

	mux := consumer.NewKafkaMux(consumer.KafkaMuxConfig{
		Brokers: c.cfg.Kafka.Brokers,
		GroupID: c.cfg.Container.ID,
	})
	c.mux = mux

	specs, err := c.buildTaskSpecs()
	if err != nil {
		c.stopMetrics()
		_ = c.offsets.Close()
		c.removePIDFile()
		return fmt.Errorf("container: build task specs: %w", err)
	}

	loop, err := runloop.New(c.runLoopConfig(), c.mux, c.offsets, specs)
	if err != nil {
		c.stopMetrics()
		_ = c.mux.Close()
		_ = c.offsets.Close()
		c.removePIDFile()
		return fmt.Errorf("container: construct run loop: %w", err)
	}
	c.loop = loop

	slog.Info("container started", "tasks", len(specs))
	return nil
}

// Run blocks, driving the run loop until a shutdown signal arrives, the
// run loop reports consensus (every worker Finished), or a worker fails.
// SIGTERM/SIGINT request graceful drain; SIGHUP reloads the log level
// and window/commit intervals only — never partition assignment.
func (c *Container) Run() error {
	c.sigChan = make(chan os.Signal, 1)
	signal.Notify(c.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(c.sigChan)

	errCh := make(chan error, 1)
	go func() { errCh <- c.loop.Run(c.ctx) }()

	for {
		select {
		case sig := <-c.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				c.requestGracefulStop()
			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := c.Reload(); err != nil {
					slog.Error("reload failed", "error", err)
				}
			}
		case err := <-errCh:
			c.Stop()
			return err
		}
	}
}

// requestGracefulStop begins draining every worker via its own
// Coordinator-equivalent path, rather than cancelling the run loop's
// context outright — in-flight work is allowed to finish.
func (c *Container) requestGracefulStop() {
	for _, w := range c.loop.Workers() {
		w.BeginDraining()
	}
}

// Stop tears down the metrics server, removes the PID file, and cancels
// the run loop's context.
func (c *Container) Stop() {
	slog.Info("stopping container")
	c.stopMetrics()
	if c.mux != nil {
		if err := c.mux.Close(); err != nil {
			slog.Error("error closing consumer mux", "error", err)
		}
	}
	if c.offsets != nil {
		if err := c.offsets.Close(); err != nil {
			slog.Error("error closing offset manager", "error", err)
		}
	}
	c.cancel()
	c.removePIDFile()
	slog.Info("container stopped")
}

// Reload re-reads configuration from disk and applies the subset of
// settings safe to change without restarting: log level/format and the
// window/commit interval knobs new task dispatches will pick up.
// Partition assignment and task identity are cold — a config change
// there is logged but not applied.
func (c *Container) Reload() error {
	newCfg, err := config.Load(c.configPath)
	if err != nil {
		return fmt.Errorf("container: reload config: %w", err)
	}

	c.mu.Lock()
	old := c.cfg
	c.cfg = newCfg
	c.mu.Unlock()

	if err := logpkg.Init(newCfg.Log); err != nil {
		slog.Error("reload: failed to reinitialize logging", "error", err)
	}

	if c.loop != nil {
		c.loop.SetIntervals(newCfg.RunLoop.WindowInterval(), newCfg.RunLoop.CommitInterval())
	}

	requiresRestart := []string{}
	if len(newCfg.Tasks) != len(old.Tasks) {
		requiresRestart = append(requiresRestart, "tasks")
	}
	if newCfg.Metrics.Listen != old.Metrics.Listen {
		requiresRestart = append(requiresRestart, "metrics.listen")
	}

	slog.Info("configuration reloaded",
		"window_interval", newCfg.RunLoop.WindowInterval(),
		"commit_interval", newCfg.RunLoop.CommitInterval(),
		"requires_restart", requiresRestart,
	)
	return nil
}

func (c *Container) runLoopConfig() runloop.Config {
	rl := c.cfg.RunLoop
	return runloop.Config{
		MaxMessagesInFlight: rl.MaxMessagesInFlight,
		WindowInterval:      rl.WindowInterval(),
		CommitInterval:      rl.CommitInterval(),
		ElasticityFactor:    rl.ElasticityFactor,
		BroadcastWatermarks: rl.BroadcastWatermarks,
		AsyncCommitEnabled:  rl.AsyncCommitEnabled,
		PollInterval:        rl.PollInterval(),
	}
}

func (c *Container) buildOffsetManager() (offset.Manager, error) {
	switch c.cfg.OffsetStore.Type {
	case "kafka":
		return offset.NewKafkaManager(c.ctx, offset.KafkaManagerConfig{
			Brokers: c.cfg.Kafka.Brokers,
			Topic:   c.cfg.OffsetStore.Kafka.Topic,
			GroupID: c.cfg.OffsetStore.Kafka.GroupID,
		})
	default:
		return offset.NewFileManager(c.cfg.OffsetStore.File.Dir)
	}
}

func (c *Container) buildTaskSpecs() ([]runloop.TaskSpec, error) {
	specs := make([]runloop.TaskSpec, 0, len(c.cfg.Tasks))
	for name, tc := range c.cfg.Tasks {
		handle, ok := c.handles[name]
		if !ok {
			return nil, fmt.Errorf("task %q: %w", name, core.ErrTaskNotFound)
		}
		specs = append(specs, runloop.TaskSpec{
			Name:       tc.Name,
			Handle:     handle,
			Partitions: tc.SystemStreamPartitions(),
			KeyBuckets: tc.KeyBuckets,
		})
	}
	return specs, nil
}

func (c *Container) startMetrics() error {
	if !c.cfg.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}
	c.metricsServer = metrics.NewServer(c.cfg.Metrics.Listen, c.cfg.Metrics.Path)
	if err := c.metricsServer.Start(c.ctx); err != nil {
		return err
	}
	return nil
}

func (c *Container) stopMetrics() {
	if c.metricsServer == nil {
		return
	}
	shutdownCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.metricsServer.Stop(shutdownCtx); err != nil {
		slog.Error("error stopping metrics server", "error", err)
	}
}

func (c *Container) writePIDFile() error {
	if c.cfg.Container.PIDFile == "" {
		return nil
	}
	data := []byte(strconv.Itoa(os.Getpid()) + "\n")
	return os.WriteFile(c.cfg.Container.PIDFile, data, 0644)
}

func (c *Container) removePIDFile() {
	if c.cfg.Container.PIDFile == "" {
		return
	}
	if err := os.Remove(c.cfg.Container.PIDFile); err != nil && !os.IsNotExist(err) {
		slog.Error("error removing pid file", "error", err)
	}
}
