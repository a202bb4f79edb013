// Package config handles configuration structures.
package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chrisbu/samza-runloop/internal/envelope"
)

// TaskConfig describes one task a container runs: the raw partitions it
// subscribes to, its elasticity slice of those partitions, and per-task
// timing fields. The timing fields are parsed and validated but not
// applied: every task runs with the container-wide RunLoopConfig values.
type TaskConfig struct {
	Name       string   `json:"name" yaml:"name" mapstructure:"name"`
	System     string   `json:"system" yaml:"system" mapstructure:"system"`
	Stream     string   `json:"stream" yaml:"stream" mapstructure:"stream"`
	Partitions []int    `json:"partitions" yaml:"partitions" mapstructure:"partitions"`
	KeyBuckets []int    `json:"key_buckets" yaml:"key_buckets" mapstructure:"key_buckets"`

	MaxMessagesInFlight int   `json:"max_messages_in_flight" yaml:"max_messages_in_flight" mapstructure:"max_messages_in_flight"`
	WindowIntervalMs    int64 `json:"window_interval_ms" yaml:"window_interval_ms" mapstructure:"window_interval_ms"`
	CommitIntervalMs    int64 `json:"commit_interval_ms" yaml:"commit_interval_ms" mapstructure:"commit_interval_ms"`
}

// Partitions resolved from (System, Stream, Partitions) into the
// envelope.SystemStreamPartition values a TaskSpec needs to register
// with a consumer.Mux.
func (tc *TaskConfig) SystemStreamPartitions() []envelope.SystemStreamPartition {
	out := make([]envelope.SystemStreamPartition, 0, len(tc.Partitions))
	for _, p := range tc.Partitions {
		out = append(out, envelope.SystemStreamPartition{
			System:    tc.System,
			Stream:    tc.Stream,
			Partition: p,
		})
	}
	return out
}

// Validate checks the required fields and value ranges of a task
// configuration. It does not fill in defaults.
func (tc *TaskConfig) Validate() error {
	if tc.Name == "" {
		return fmt.Errorf("task name is required")
	}
	if tc.System == "" {
		return fmt.Errorf("task system is required")
	}
	if tc.Stream == "" {
		return fmt.Errorf("task stream is required")
	}
	if len(tc.Partitions) == 0 {
		return fmt.Errorf("task requires at least one partition")
	}
	if tc.MaxMessagesInFlight < 0 {
		return fmt.Errorf("max_messages_in_flight must be non-negative")
	}
	for _, b := range tc.KeyBuckets {
		if b < 0 || b >= envelope.KeyBucketModulus {
			return fmt.Errorf("key_bucket %d out of range [0,%d)", b, envelope.KeyBucketModulus)
		}
	}
	return nil
}

// ParseTaskConfig parses a single task configuration from JSON.
func ParseTaskConfig(data []byte) (*TaskConfig, error) {
	var tc TaskConfig
	if err := json.Unmarshal(data, &tc); err != nil {
		return nil, fmt.Errorf("failed to parse task config: %w", err)
	}
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	return &tc, nil
}

// ParseTaskConfigAuto detects format (JSON/YAML) based on file extension
// and parses the task configuration accordingly.
func ParseTaskConfigAuto(data []byte, filename string) (*TaskConfig, error) {
	var tc TaskConfig

	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &tc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML task config: %w", err)
		}
	case ".json", "":
		if err := json.Unmarshal(data, &tc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON task config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &tc); err != nil {
			if err2 := yaml.Unmarshal(data, &tc); err2 != nil {
				return nil, fmt.Errorf("failed to parse task config (tried JSON and YAML): JSON: %v; YAML: %v", err, err2)
			}
		}
	}

	if err := tc.Validate(); err != nil {
		return nil, err
	}

	return &tc, nil
}
