package offset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chrisbu/samza-runloop/internal/envelope"
)

// checkpointRecord is the on-disk wire format for one task's checkpoint
// file (one JSON file per task, keyed by PartitionId.String()).
type checkpointRecord struct {
	Version     string                    `json:"version"`
	Checkpoints map[string]envelope.Offset `json:"checkpoints"`
}

const fileFormatVersion = "v1"

// FileManager persists checkpoints as one JSON file per task under a
// directory, using the same temp-file-then-rename pattern a FileTaskStore
// uses for task state: every Update is crash safe, never leaving a
// half-written checkpoint file behind.
type FileManager struct {
	mu  sync.Mutex
	dir string
}

// NewFileManager creates a FileManager rooted at dir, creating the
// directory (and parents) if it does not already exist.
func NewFileManager(dir string) (*FileManager, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("offset: create directory %q: %w", dir, err)
	}
	return &FileManager{dir: dir}, nil
}

func (m *FileManager) path(taskName string) string {
	return filepath.Join(m.dir, taskName+".checkpoint.json")
}

func (m *FileManager) Update(_ context.Context, taskName string, p envelope.PartitionId, off envelope.Offset) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.loadLocked(taskName)
	if err != nil {
		return err
	}
	rec.Checkpoints[p.String()] = off

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("offset: marshal checkpoint for %q: %w", taskName, err)
	}

	tmp, err := os.CreateTemp(m.dir, "."+taskName+".*.tmp")
	if err != nil {
		return fmt.Errorf("offset: create temp file for %q: %w", taskName, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("offset: write temp file for %q: %w", taskName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("offset: close temp file for %q: %w", taskName, err)
	}
	if err := os.Rename(tmpName, m.path(taskName)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("offset: rename temp file for %q: %w", taskName, err)
	}

	slog.Debug("checkpoint persisted", "task", taskName, "partition", p.String(), "offset", string(off))
	return nil
}

func (m *FileManager) Checkpoints(_ context.Context, taskName string) (map[string]envelope.Offset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.loadLocked(taskName)
	if err != nil {
		return nil, err
	}
	return rec.Checkpoints, nil
}

// loadLocked reads the checkpoint file for taskName, returning an empty
// record if it does not exist yet. Must be called with m.mu held.
func (m *FileManager) loadLocked(taskName string) (checkpointRecord, error) {
	data, err := os.ReadFile(m.path(taskName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return checkpointRecord{Version: fileFormatVersion, Checkpoints: map[string]envelope.Offset{}}, nil
		}
		return checkpointRecord{}, fmt.Errorf("offset: read checkpoint for %q: %w", taskName, err)
	}
	var rec checkpointRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return checkpointRecord{}, fmt.Errorf("offset: unmarshal checkpoint for %q: %w", taskName, err)
	}
	if rec.Checkpoints == nil {
		rec.Checkpoints = map[string]envelope.Offset{}
	}
	return rec, nil
}

func (m *FileManager) Close() error { return nil }

var _ Manager = (*FileManager)(nil)

// listTaskNames returns the task names with a checkpoint file under dir,
// skipping temp and unrecognised files the same way FileTaskStore's List
// skips corrupt entries.
func listTaskNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".checkpoint.json") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".checkpoint.json"))
	}
	return names, nil
}
