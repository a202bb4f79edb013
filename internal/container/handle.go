package container

import (
	"context"
	"log/slog"

	"github.com/chrisbu/samza-runloop/internal/envelope"
	"github.com/chrisbu/samza-runloop/internal/runloop"
)

// LoggingHandle is the TaskHandle the run command wires in for every
// configured task; container.New itself rejects a configured task that has
// no handle in the map it is given. It acknowledges every envelope immediately and logs window/end-of-stream
// callbacks, which is enough to exercise the full run loop (routing,
// commit, window, shutdown) without any real business logic plugged in.
type LoggingHandle struct {
	Task string
}

var _ runloop.TaskHandle = LoggingHandle{}
var _ runloop.WindowableTask = LoggingHandle{}
var _ runloop.EndOfStreamTask = LoggingHandle{}
var _ runloop.CommittableTask = LoggingHandle{}

func (h LoggingHandle) ProcessAsync(_ context.Context, env envelope.Envelope, _ *runloop.Coordinator, callback func(error)) {
	slog.Debug("processing envelope",
		"task", h.Task,
		"system", env.ID.System,
		"stream", env.ID.Stream,
		"partition", env.ID.Partition,
	)
	callback(nil)
}

func (h LoggingHandle) Window(_ context.Context, _ *runloop.Coordinator) error {
	slog.Debug("window fired", "task", h.Task)
	return nil
}

func (h LoggingHandle) OnEndOfStream(_ context.Context, _ *runloop.Coordinator) error {
	slog.Info("task reached end of stream on every owned partition", "task", h.Task)
	return nil
}

func (h LoggingHandle) Commit(_ context.Context, _ *runloop.Coordinator) error {
	slog.Debug("commit fired", "task", h.Task)
	return nil
}
