package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/chrisbu/samza-runloop/internal/envelope"
	"github.com/chrisbu/samza-runloop/internal/offset"
	"github.com/chrisbu/samza-runloop/internal/runloop"
)

type noopHandle struct{}

func (noopHandle) ProcessAsync(_ context.Context, _ envelope.Envelope, _ *runloop.Coordinator, callback func(error)) {
	callback(nil)
}

func writeContainerConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	offsetDir := filepath.Join(dir, "offsets")
	content := `
samza-runloop:
  container:
    id: test-container
  offset_store:
    type: file
    file:
      dir: ` + offsetDir + `
  metrics:
    enabled: false
  log:
    level: info
    format: json
` + extra

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestNewRequiresHandleForEveryConfiguredTask(t *testing.T) {
	path := writeContainerConfig(t, `
  tasks:
    orders:
      name: orders
      system: kafka
      stream: orders
      partitions: [0]
`)

	_, err := New(path, map[string]runloop.TaskHandle{})
	if err == nil {
		t.Fatal("expected error when no TaskHandle is supplied for a configured task")
	}
}

func TestNewSucceedsWithMatchingHandles(t *testing.T) {
	path := writeContainerConfig(t, `
  tasks:
    orders:
      name: orders
      system: kafka
      stream: orders
      partitions: [0]
`)

	c, err := New(path, map[string]runloop.TaskHandle{"orders": noopHandle{}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if c.cfg.Container.ID != "test-container" {
		t.Errorf("Container.ID = %q", c.cfg.Container.ID)
	}
}

func TestBuildOffsetManagerFile(t *testing.T) {
	path := writeContainerConfig(t, "")
	c, err := New(path, map[string]runloop.TaskHandle{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	mgr, err := c.buildOffsetManager()
	if err != nil {
		t.Fatalf("buildOffsetManager failed: %v", err)
	}
	defer mgr.Close()

	if _, ok := mgr.(*offset.FileManager); !ok {
		t.Fatalf("expected *offset.FileManager, got %T", mgr)
	}
}

func TestRunLoopConfigFromContainerConfig(t *testing.T) {
	path := writeContainerConfig(t, `
  runloop:
    max_messages_in_flight: 4
    elasticity_factor: 2
    commit_interval_ms: 5000
`)
	c, err := New(path, map[string]runloop.TaskHandle{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	rl := c.runLoopConfig()
	if rl.MaxMessagesInFlight != 4 {
		t.Errorf("MaxMessagesInFlight = %d, want 4", rl.MaxMessagesInFlight)
	}
	if rl.ElasticityFactor != 2 {
		t.Errorf("ElasticityFactor = %d, want 2", rl.ElasticityFactor)
	}
	if rl.CommitInterval.Milliseconds() != 5000 {
		t.Errorf("CommitInterval = %v, want 5s", rl.CommitInterval)
	}
}
