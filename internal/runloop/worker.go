package runloop

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"
	"github.com/tevino/abool"

	"github.com/chrisbu/samza-runloop/internal/envelope"
	"github.com/chrisbu/samza-runloop/internal/metrics"
)

// State is a TaskWorker's position in its lifecycle. Transitions only ever
// move forward: Running -> Draining -> Finished, or Running/Draining ->
// Failed (terminal, from any state).
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateFinished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Worker is a TaskWorker: it owns one TaskHandle, a bounded in-flight
// dispatch pool, and the request flags that connect it to the run loop's
// commit/shutdown protocols. A worker never talks to the consumer.Mux or
// offset.Manager directly — the owning RunLoop does that on its behalf.
type Worker struct {
	name        string
	handle      TaskHandle
	maxInFlight int

	queue *pendingEnvelopeQueue
	pool  *pool.Pool

	inFlight atomic.Int64
	state    atomic.Int32

	shutdownRequested *abool.AtomicBool
	commitRequested   *abool.AtomicBool
	eosDelivered      *abool.AtomicBool

	mu         sync.Mutex
	err        error
	ownedRaw   map[string]struct{} // raw partitions this worker has keyBuckets for
	eosSeen    map[string]struct{} // raw partitions that have delivered end-of-stream
	eosInvoked bool                // guards the task-facing OnEndOfStream call to exactly once
	requests   chan<- request      // where this worker sends commit/shutdown/offset requests

	drainDone chan struct{}
}

// NewWorker constructs a Worker for the given TaskHandle. maxInFlight
// bounds concurrent ProcessAsync calls; a value of 1 gives strict FIFO
// processing since the second dispatch cannot start until the first's
// callback fires.
func NewWorker(name string, handle TaskHandle, maxInFlight int) *Worker {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	w := &Worker{
		name:              name,
		handle:            handle,
		maxInFlight:       maxInFlight,
		queue:             newPendingEnvelopeQueue(),
		pool:              pool.New().WithMaxGoroutines(maxInFlight),
		shutdownRequested: abool.New(),
		commitRequested:   abool.New(),
		eosDelivered:      abool.New(),
		ownedRaw:          make(map[string]struct{}),
		eosSeen:           make(map[string]struct{}),
		drainDone:         make(chan struct{}),
	}
	w.state.Store(int32(StateRunning))
	metrics.TaskState.WithLabelValues(name).Set(metrics.TaskStateRunning)
	return w
}

// Name returns the worker's task name.
func (w *Worker) Name() string { return w.name }

// State returns the worker's current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

// InFlight returns the number of ProcessAsync calls currently outstanding.
func (w *Worker) InFlight() int64 { return w.inFlight.Load() }

// Err returns the error that moved this worker to StateFailed, if any.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// ClaimPartition records that this worker owns a keyBucket of raw
// partition p, for end-of-stream and draining bookkeeping.
func (w *Worker) ClaimPartition(p envelope.PartitionId) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ownedRaw[p.SystemStreamPartition.String()] = struct{}{}
}

// AcceptsWork reports whether the worker is still willing to take new
// dispatches — false once draining has begun or the worker has failed.
func (w *Worker) AcceptsWork() bool {
	return w.State() == StateRunning
}

// ShutdownRequested reports whether a Coordinator has asked this worker to
// drain, via either CurrentTask or AllTasksInContainer scope.
func (w *Worker) ShutdownRequested() bool { return w.shutdownRequested.IsSet() }

// CommitRequested reports whether a commit is currently being serviced for
// this worker — set while RunLoop.commit is waiting out in-flight work or
// flushing offsets, cleared once it returns.
func (w *Worker) CommitRequested() bool { return w.commitRequested.IsSet() }

// requests is set once by the owning RunLoop so Coordinator tokens minted
// for this worker's dispatches can signal back into the loop.
func (w *Worker) bindRequests(ch chan<- request) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requests = ch
}

// Dispatch enqueues env for asynchronous processing and returns the
// Coordinator token minted for this dispatch. It never blocks: the item
// is appended to the worker's FIFO queue and drained by the worker's own
// goroutine, which enforces maxInFlight via the bounded pool.
func (w *Worker) Dispatch(env envelope.Envelope) *Coordinator {
	coord := newCoordinator(w.name, w.requestsChan())
	w.queue.push(queuedEnvelope{env: env, coord: coord})
	return coord
}

func (w *Worker) requestsChan() chan<- request {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.requests
}

// Run starts the worker's drain loop: it pulls from the pending queue and
// submits each item to the bounded pool, blocking on pool.Go when
// maxInFlight outstanding calls are already running. Run returns once the
// queue is closed and every outstanding ProcessAsync call has completed.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, ok := w.queue.pop()
		if !ok {
			break
		}
		w.inFlight.Add(1)
		metrics.MessagesInFlight.WithLabelValues(w.name).Set(float64(w.inFlight.Load()))
		w.pool.Go(func() {
			defer func() {
				w.inFlight.Add(-1)
				metrics.MessagesInFlight.WithLabelValues(w.name).Set(float64(w.inFlight.Load()))
				// A non-EOS completion can be what finally brings inFlight to
				// zero after every owned partition has already reported
				// end-of-stream, so this check runs after every completion,
				// not only after an EOS envelope's own callback.
				w.maybeFireEndOfStream(ctx)
			}()
			// An end-of-stream sentinel is bookkeeping only: it is never
			// handed to ProcessAsync and carries no offset to record.
			if item.env.IsEndOfStream() {
				w.markEndOfStreamSeen(item.env.ID.SystemStreamPartition)
				return
			}
			done := make(chan error, 1)
			w.handle.ProcessAsync(ctx, item.env, item.coord, func(err error) {
				done <- err
			})
			if err := <-done; err != nil {
				metrics.EnvelopesProcessedTotal.WithLabelValues(w.name, "error").Inc()
				w.fail(err)
				return
			}
			metrics.EnvelopesProcessedTotal.WithLabelValues(w.name, "ok").Inc()
			// The offset a commit is allowed to persist is the one whose
			// callback actually completed, not the one dispatched — record it
			// here, not at dispatch time.
			w.recordOffset(item.env)
		})
	}
	w.pool.Wait()

	if w.State() != StateFailed {
		w.state.Store(int32(StateFinished))
		metrics.TaskState.WithLabelValues(w.name).Set(metrics.TaskStateFinished)
	}

	if closable, ok := w.handle.(ClosableTask); ok {
		if err := closable.Close(); err != nil {
			slog.Error("runloop: task close failed", "task", w.name, "error", err)
		}
	}

	close(w.drainDone)
}

// fail transitions the worker to StateFailed, recording err. The
// transition is terminal: once failed, a worker never returns to Running
// or reaches Finished.
func (w *Worker) fail(err error) {
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.mu.Unlock()
	w.state.Store(int32(StateFailed))
	metrics.TaskState.WithLabelValues(w.name).Set(metrics.TaskStateFailed)
}

// BeginDraining moves the worker from Running to Draining: no new work
// will be accepted, but items already queued are still processed to
// completion.
func (w *Worker) BeginDraining() {
	w.shutdownRequested.Set()
	if w.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		metrics.TaskState.WithLabelValues(w.name).Set(metrics.TaskStateDraining)
	}
	w.queue.close()
}

// CloseQueue stops accepting new items without changing state — used once
// a RunLoop has confirmed no more envelopes will route to this worker.
func (w *Worker) CloseQueue() {
	w.queue.close()
}

// Wait blocks until the worker's Run goroutine has exited.
func (w *Worker) Wait() {
	<-w.drainDone
}

// recordOffset sends the (partition, offset) of a successfully completed
// envelope back to the owning RunLoop, which is the only goroutine allowed
// to touch its lastOffset bookkeeping. A commit is only ever allowed to
// persist an offset a callback actually completed. Control sentinels
// (watermark, end-of-stream) are not broker positions and are not recorded.
func (w *Worker) recordOffset(env envelope.Envelope) {
	if env.Offset.IsControl() {
		return
	}
	ch := w.requestsChan()
	if ch == nil {
		return
	}
	ch <- request{kind: requestOffsetUpdate, task: w.name, partition: env.ID, offset: env.Offset}
}

// markEndOfStreamSeen records that raw partition ssp has delivered its
// end-of-stream sentinel to this worker. It never invokes the task's
// end-of-stream capability itself — maybeFireEndOfStream decides when
// every owned partition and every in-flight message has settled.
func (w *Worker) markEndOfStreamSeen(ssp envelope.SystemStreamPartition) {
	w.mu.Lock()
	w.eosSeen[ssp.String()] = struct{}{}
	w.mu.Unlock()
}

// maybeFireEndOfStream invokes the task's end-of-stream capability at most
// once per task: only once every raw partition this worker owns has
// reported end-of-stream and, at that same instant, the worker has zero
// messages in flight (a later-completing non-EOS message can be what
// finally brings inFlight to zero, so this runs after every completion).
func (w *Worker) maybeFireEndOfStream(ctx context.Context) {
	w.mu.Lock()
	allSeen := len(w.ownedRaw) > 0 && len(w.eosSeen) >= len(w.ownedRaw)
	shouldFire := allSeen && !w.eosInvoked && w.inFlight.Load() == 0
	if shouldFire {
		w.eosInvoked = true
	}
	w.mu.Unlock()

	if !shouldFire || w.State() == StateFailed {
		return
	}

	if eos, ok := isEndOfStreamAware(w.handle); ok {
		coord := newCoordinator(w.name, w.requestsChan())
		if err := eos.OnEndOfStream(ctx, coord); err != nil {
			w.fail(err)
			return
		}
	}

	w.eosDelivered.Set()
	// Every partition this worker owns has reported end-of-stream and no
	// message is in flight: no further envelopes will route here, so close
	// the queue to let Run exit once in-flight work settles. BeginDraining
	// is not reused here — that path also flags an external shutdown
	// request, which this natural completion is not.
	if w.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		metrics.TaskState.WithLabelValues(w.name).Set(metrics.TaskStateDraining)
	}
	w.queue.close()
}

// AllPartitionsEndOfStream reports whether end-of-stream has been delivered
// for this worker: every raw partition it owns reported end-of-stream, no
// message was left in flight, and the task's end-of-stream call (if any)
// returned without error.
func (w *Worker) AllPartitionsEndOfStream() bool {
	return w.eosDelivered.IsSet()
}
