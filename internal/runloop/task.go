// Package runloop implements the per-container message run loop: a single
// goroutine that fetches Envelopes from a consumer.Mux, routes each one to
// the TaskWorker that owns its keyBucket, and drives the commit, window,
// and shutdown protocols every TaskWorker participates in.
package runloop

import (
	"context"

	"github.com/chrisbu/samza-runloop/internal/envelope"
)

// TaskHandle is the unit of business logic a RunLoop drives. A task never
// sees the RunLoop directly — only the Coordinator handed to it on each
// call — so it cannot bypass the commit/shutdown protocols the loop
// enforces.
//
// ProcessAsync must not block past returning; long-running work happens in
// a goroutine the task spawns itself, which calls callback exactly once
// when done. The run loop tracks in-flight ProcessAsync calls per task to
// enforce MaxMessagesInFlight.
type TaskHandle interface {
	// ProcessAsync hands env to the task. callback must be invoked exactly
	// once, with a non-nil error only if processing failed in a way that
	// should fail the owning TaskWorker.
	ProcessAsync(ctx context.Context, env envelope.Envelope, coord *Coordinator, callback func(error))
}

// WindowableTask is implemented by tasks that want a periodic Window call
// when their owning worker has zero messages in flight.
type WindowableTask interface {
	Window(ctx context.Context, coord *Coordinator) error
}

// EndOfStreamTask is implemented by tasks that want to observe end-of-stream
// for the task as a whole: invoked at most once per task, after every raw
// partition the task owns has reported end-of-stream and every prior
// callback for that task has completed.
type EndOfStreamTask interface {
	OnEndOfStream(ctx context.Context, coord *Coordinator) error
}

// ClosableTask is implemented by tasks that hold resources needing
// release once their owning worker reaches StateFinished or StateFailed.
type ClosableTask interface {
	Close() error
}

// CommittableTask is implemented by tasks that snapshot their own state or
// flush their own checkpoints when the run loop commits. The run loop
// invokes Commit for every worker the commit scope covers, before
// persisting that worker's offsets via the offset.Manager.
type CommittableTask interface {
	Commit(ctx context.Context, coord *Coordinator) error
}

// isWindowable reports whether h implements WindowableTask.
func isWindowable(h TaskHandle) (WindowableTask, bool) {
	w, ok := h.(WindowableTask)
	return w, ok
}

// isEndOfStreamAware reports whether h implements EndOfStreamTask.
func isEndOfStreamAware(h TaskHandle) (EndOfStreamTask, bool) {
	e, ok := h.(EndOfStreamTask)
	return e, ok
}

// isCommittable reports whether h implements CommittableTask.
func isCommittable(h TaskHandle) (CommittableTask, bool) {
	c, ok := h.(CommittableTask)
	return c, ok
}
