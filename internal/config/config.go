// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/chrisbu/samza-runloop/internal/core"
)

// GlobalConfig represents the top-level static configuration for a
// container process. Maps to the `samza-runloop:` root key in YAML.
type GlobalConfig struct {
	Container   ContainerConfig        `mapstructure:"container"`
	Kafka       GlobalKafkaConfig      `mapstructure:"kafka"`
	RunLoop     RunLoopConfig          `mapstructure:"runloop"`
	OffsetStore OffsetStoreConfig      `mapstructure:"offset_store"`
	Metrics     MetricsConfig          `mapstructure:"metrics"`
	Log         LogConfig              `mapstructure:"log"`
	DataDir     string                 `mapstructure:"data_dir"`
	Tasks       map[string]TaskConfig  `mapstructure:"tasks"`
}

// ─── Container Identity ───

// ContainerConfig contains container process identification and local
// control settings.
type ContainerConfig struct {
	ID       string `mapstructure:"id"`       // Empty = hostname-derived
	Hostname string `mapstructure:"hostname"` // Empty = os.Hostname()
	Socket   string `mapstructure:"socket"`   // Reserved; the status/stop/reload CLI uses PIDFile
	PIDFile  string `mapstructure:"pid_file"`
}

// ─── Kafka ───

// GlobalKafkaConfig holds the Kafka connection settings shared by the
// container. Brokers is passed to the consumer mux and to the kafka offset
// store; the SASL and TLS settings are parsed but applied to neither.
type GlobalKafkaConfig struct {
	Brokers []string   `mapstructure:"brokers"`
	SASL    SASLConfig `mapstructure:"sasl"`
	TLS     TLSConfig  `mapstructure:"tls"`
}

// SASLConfig contains SASL authentication settings.
type SASLConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Mechanism string `mapstructure:"mechanism"` // PLAIN | SCRAM-SHA-256 | SCRAM-SHA-512
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// TLSConfig contains TLS settings.
type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CACert             string `mapstructure:"ca_cert"`
	ClientCert         string `mapstructure:"client_cert"`
	ClientKey          string `mapstructure:"client_key"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// ─── RunLoop ───

// RunLoopConfig controls the timing and concurrency knobs shared by every
// task a container runs, mapped onto runloop.Config at startup.
type RunLoopConfig struct {
	MaxMessagesInFlight int    `mapstructure:"max_messages_in_flight"`
	WindowIntervalMs    int64  `mapstructure:"window_interval_ms"`
	CommitIntervalMs    int64  `mapstructure:"commit_interval_ms"`
	ElasticityFactor    int    `mapstructure:"elasticity_factor"`
	BroadcastWatermarks bool   `mapstructure:"broadcast_watermarks"`
	AsyncCommitEnabled  bool   `mapstructure:"async_commit_enabled"`
	PollIntervalMs      int64  `mapstructure:"poll_interval_ms"`
}

// WindowInterval returns the configured window interval as a Duration.
func (c RunLoopConfig) WindowInterval() time.Duration {
	return time.Duration(c.WindowIntervalMs) * time.Millisecond
}

// CommitInterval returns the configured commit interval as a Duration.
func (c RunLoopConfig) CommitInterval() time.Duration {
	return time.Duration(c.CommitIntervalMs) * time.Millisecond
}

// PollInterval returns the configured poll interval as a Duration.
func (c RunLoopConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// ─── Offset store ───

// OffsetStoreConfig selects and configures the offset.Manager
// implementation a container wires into its RunLoop.
type OffsetStoreConfig struct {
	Type  string                  `mapstructure:"type"` // "file" | "kafka"
	File  FileOffsetStoreConfig   `mapstructure:"file"`
	Kafka KafkaOffsetStoreConfig  `mapstructure:"kafka"`
}

// FileOffsetStoreConfig configures offset.FileManager.
type FileOffsetStoreConfig struct {
	Dir string `mapstructure:"dir"`
}

// KafkaOffsetStoreConfig configures offset.KafkaManager.
type KafkaOffsetStoreConfig struct {
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
	Loki LokiOutputConfig `mapstructure:"loki"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// LokiOutputConfig configures Loki log output.
type LokiOutputConfig struct {
	Enabled       bool              `mapstructure:"enabled"`
	Endpoint      string            `mapstructure:"endpoint"`
	Labels        map[string]string `mapstructure:"labels"`
	BatchSize     int               `mapstructure:"batch_size"`
	FlushInterval string            `mapstructure:"flush_interval"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure
// `samza-runloop: ...`.
type configRoot struct {
	SamzaRunloop GlobalConfig `mapstructure:"samza-runloop"`
}

// Load loads configuration from file. The YAML file uses
// `samza-runloop:` as root key; env vars use SAMZA_RUNLOOP_ prefix
// (e.g. SAMZA_RUNLOOP_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.SamzaRunloop

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("samza-runloop.container.socket", "/var/run/samza-runloop.sock")
	v.SetDefault("samza-runloop.container.pid_file", "/var/run/samza-runloop.pid")

	v.SetDefault("samza-runloop.runloop.max_messages_in_flight", 1)
	v.SetDefault("samza-runloop.runloop.elasticity_factor", 1)
	v.SetDefault("samza-runloop.runloop.window_interval_ms", 0)
	v.SetDefault("samza-runloop.runloop.commit_interval_ms", 60000)
	v.SetDefault("samza-runloop.runloop.poll_interval_ms", 250)

	v.SetDefault("samza-runloop.offset_store.type", "file")
	v.SetDefault("samza-runloop.offset_store.file.dir", "/var/lib/samza-runloop/offsets")

	v.SetDefault("samza-runloop.log.level", "info")
	v.SetDefault("samza-runloop.log.format", "json")
	v.SetDefault("samza-runloop.log.outputs.file.enabled", false)
	v.SetDefault("samza-runloop.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("samza-runloop.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("samza-runloop.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("samza-runloop.log.outputs.file.rotation.compress", true)

	v.SetDefault("samza-runloop.metrics.enabled", true)
	v.SetDefault("samza-runloop.metrics.listen", ":9090")
	v.SetDefault("samza-runloop.metrics.path", "/metrics")

	v.SetDefault("samza-runloop.data_dir", "/var/lib/samza-runloop")
}

// ValidateAndApplyDefaults validates configuration and applies runtime
// defaults (hostname and container id auto-detect, a floor of 1 for
// max_messages_in_flight and elasticity_factor).
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level %q (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: invalid log format %q (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}

	if cfg.Container.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Container.Hostname = hostname
	}
	if cfg.Container.ID == "" {
		cfg.Container.ID = cfg.Container.Hostname
	}

	if cfg.RunLoop.MaxMessagesInFlight < 1 {
		cfg.RunLoop.MaxMessagesInFlight = 1
	}
	if cfg.RunLoop.ElasticityFactor < 1 {
		cfg.RunLoop.ElasticityFactor = 1
	}

	switch cfg.OffsetStore.Type {
	case "file":
		if cfg.OffsetStore.File.Dir == "" {
			return fmt.Errorf("%w: offset_store.file.dir is required when offset_store.type=file", core.ErrConfigInvalid)
		}
	case "kafka":
		if cfg.OffsetStore.Kafka.Topic == "" {
			return fmt.Errorf("%w: offset_store.kafka.topic is required when offset_store.type=kafka", core.ErrConfigInvalid)
		}
		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("%w: kafka.brokers is required when offset_store.type=kafka", core.ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: unsupported offset_store.type %q (must be file or kafka)", core.ErrConfigInvalid, cfg.OffsetStore.Type)
	}

	for name, task := range cfg.Tasks {
		if err := task.Validate(); err != nil {
			return fmt.Errorf("task %q: %w", name, err)
		}
		cfg.Tasks[name] = task
	}

	return nil
}
