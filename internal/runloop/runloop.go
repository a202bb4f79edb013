package runloop

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chrisbu/samza-runloop/internal/consumer"
	"github.com/chrisbu/samza-runloop/internal/core"
	"github.com/chrisbu/samza-runloop/internal/envelope"
	"github.com/chrisbu/samza-runloop/internal/metrics"
	"github.com/chrisbu/samza-runloop/internal/offset"
)

// TaskSpec describes one task a RunLoop will drive: its handle, the raw
// partitions it consumes from, and (for an elastic task) the keyBuckets it
// owns within those partitions.
type TaskSpec struct {
	Name       string
	Handle     TaskHandle
	Partitions []envelope.SystemStreamPartition
	// KeyBuckets restricts this task to the listed buckets of each
	// partition above. A nil/empty slice means the task owns every
	// bucket (factor 1 — no elasticity).
	KeyBuckets []int
}

// Config controls the timing and concurrency knobs of a RunLoop.
type Config struct {
	MaxMessagesInFlight int
	WindowInterval      time.Duration
	CommitInterval      time.Duration
	ElasticityFactor    int
	BroadcastWatermarks bool
	AsyncCommitEnabled  bool
	PollInterval        time.Duration // upper bound on how long Choose blocks between timer checks
}

func (c *Config) setDefaults() {
	if c.MaxMessagesInFlight < 1 {
		c.MaxMessagesInFlight = 1
	}
	if c.ElasticityFactor < 1 {
		c.ElasticityFactor = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
}

// partitionAssignment records, for one raw partition, which task owns
// each keyBucket.
type partitionAssignment struct {
	factor   int
	byBucket map[int]string
}

// offsetRecord pairs a partition identity with the last offset whose
// callback completed for a task, so the commit protocol can call offset.Manager.Update
// with the real PartitionId rather than just its string form.
type offsetRecord struct {
	partition envelope.PartitionId
	offset    envelope.Offset
}

// RunLoop is the single-threaded coordinator that fetches Envelopes from a
// consumer.Mux, routes each to the TaskWorker owning its keyBucket, and
// drives the window, commit, and shutdown protocols every registered
// worker participates in.
type RunLoop struct {
	cfg     Config
	mux     consumer.Mux
	offsets offset.Manager

	workers     map[string]*Worker
	assignments map[string]*partitionAssignment // raw partition string -> assignment
	lastOffset  map[string]map[string]offsetRecord // task -> partition string -> last completed (partition, offset)

	requests chan request

	// windowIntervalNs/commitIntervalNs mirror cfg.WindowInterval/
	// CommitInterval but live behind atomics so Reload can adjust them
	// without touching anything that affects partition assignment.
	windowIntervalNs atomic.Int64
	commitIntervalNs atomic.Int64

	mu sync.Mutex
}

// SetIntervals updates the window/commit firing period new timers are
// scheduled with. Already-pending timers keep their original due time;
// the new interval takes effect the next time each fires.
func (r *RunLoop) SetIntervals(window, commit time.Duration) {
	r.windowIntervalNs.Store(int64(window))
	r.commitIntervalNs.Store(int64(commit))
}

func (r *RunLoop) windowInterval() time.Duration {
	return time.Duration(r.windowIntervalNs.Load())
}

func (r *RunLoop) commitInterval() time.Duration {
	return time.Duration(r.commitIntervalNs.Load())
}

// New constructs a RunLoop from the given specs. It registers every
// partition each spec names with mux, failing if two specs claim
// overlapping keyBuckets of the same partition.
func New(cfg Config, mux consumer.Mux, offsets offset.Manager, specs []TaskSpec) (*RunLoop, error) {
	cfg.setDefaults()

	r := &RunLoop{
		cfg:         cfg,
		mux:         mux,
		offsets:     offsets,
		workers:     make(map[string]*Worker),
		assignments: make(map[string]*partitionAssignment),
		lastOffset:  make(map[string]map[string]offsetRecord),
		requests:    make(chan request, 64),
	}
	r.windowIntervalNs.Store(int64(cfg.WindowInterval))
	r.commitIntervalNs.Store(int64(cfg.CommitInterval))

	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("runloop: task spec missing name")
		}
		if _, exists := r.workers[spec.Name]; exists {
			return nil, fmt.Errorf("runloop: duplicate task name %q", spec.Name)
		}
		w := NewWorker(spec.Name, spec.Handle, cfg.MaxMessagesInFlight)
		w.bindRequests(r.requests)
		r.workers[spec.Name] = w
		r.lastOffset[spec.Name] = make(map[string]offsetRecord)

		buckets := spec.KeyBuckets
		factor := cfg.ElasticityFactor

		for _, ssp := range spec.Partitions {
			key := ssp.String()
			assignment, ok := r.assignments[key]
			if !ok {
				assignment = &partitionAssignment{factor: factor, byBucket: make(map[int]string)}
				r.assignments[key] = assignment
				// A raw partition shared by several elastic tasks is
				// registered with the mux once.
				if err := mux.Register(ssp, ""); err != nil {
					return nil, fmt.Errorf("runloop: register %s: %w", key, err)
				}
			}
			if len(buckets) == 0 {
				for b := 0; b < factor; b++ {
					if owner, taken := assignment.byBucket[b]; taken && owner != spec.Name {
						return nil, fmt.Errorf("runloop: bucket %d of %s already owned by %q", b, key, owner)
					}
					assignment.byBucket[b] = spec.Name
				}
			} else {
				for _, b := range buckets {
					if owner, taken := assignment.byBucket[b]; taken && owner != spec.Name {
						return nil, fmt.Errorf("runloop: bucket %d of %s already owned by %q", b, key, owner)
					}
					assignment.byBucket[b] = spec.Name
				}
			}
			w.ClaimPartition(envelope.PartitionId{SystemStreamPartition: ssp})
		}
	}

	return r, nil
}

// Workers exposes the current set of TaskWorkers, keyed by task name, for
// inspection (status reporting, tests).
func (r *RunLoop) Workers() map[string]*Worker {
	out := make(map[string]*Worker, len(r.workers))
	for k, v := range r.workers {
		out[k] = v
	}
	return out
}

// Run drives the fetch/route/dispatch/timer/consensus loop until every
// worker reaches StateFinished, a worker reaches StateFailed, or ctx is
// cancelled.
func (r *RunLoop) Run(ctx context.Context) error {
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	var wg sync.WaitGroup
	for _, w := range r.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Run(workerCtx)
		}(w)
	}
	defer func() {
		// Close every queue so each worker's drain loop exits on every
		// return path, including ctx cancellation.
		for _, w := range r.workers {
			w.CloseQueue()
		}
		wg.Wait()
	}()

	timers := newTimerHeap()
	now := time.Now()
	for name := range r.workers {
		if w := r.windowInterval(); w > 0 {
			heap.Push(timers, &timerEntry{due: now.Add(w), kind: timerWindow, task: name})
		}
		if c := r.commitInterval(); c > 0 {
			heap.Push(timers, &timerEntry{due: now.Add(c), kind: timerCommit, task: name})
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if failed := r.firstFailedWorker(); failed != nil {
			r.shutdownAll()
			return fmt.Errorf("runloop: task %q failed: %w: %w", failed.Name(), core.ErrWorkerFailed, failed.Err())
		}
		if r.allFinished() {
			return nil
		}

		wait := r.cfg.PollInterval
		if timers.Len() > 0 {
			if d := time.Until((*timers)[0].due); d < wait {
				if d < 0 {
					d = 0
				}
				wait = d
			}
		}

		fetchCtx, cancel := context.WithTimeout(ctx, wait)
		env, err := r.mux.Choose(fetchCtx, true)
		cancel()

		switch {
		case err == context.DeadlineExceeded:
			// No envelope ready within the poll window; fall through to
			// timer/request processing.
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			return fmt.Errorf("runloop: choose: %w: %w", core.ErrMuxChooseFailed, err)
		default:
			if env.Offset != "" {
				metrics.EnvelopesFetchedTotal.WithLabelValues(env.ID.System, env.ID.Stream).Inc()
				r.route(env)
			}
		}

		r.drainRequests()
		r.fireDueTimers(ctx, timers)
	}
}

func (r *RunLoop) firstFailedWorker() *Worker {
	for _, w := range r.workers {
		if w.State() == StateFailed {
			return w
		}
	}
	return nil
}

func (r *RunLoop) allFinished() bool {
	for _, w := range r.workers {
		if w.State() != StateFinished {
			return false
		}
	}
	return true
}

func (r *RunLoop) shutdownAll() {
	metrics.ShutdownsTotal.WithLabelValues(AllTasksInContainer.String()).Inc()
	for _, w := range r.workers {
		w.BeginDraining()
	}
}

// route determines the Fanout for env and dispatches it to every task
// owning the resolved keyBucket(s) of its raw partition.
func (r *RunLoop) route(env envelope.Envelope) {
	key := env.ID.SystemStreamPartition.String()
	assignment, ok := r.assignments[key]
	if !ok {
		slog.Warn("runloop: envelope for unassigned partition dropped", "partition", key)
		return
	}

	fanout := envelope.RouteEnvelope(env, assignment.factor, r.cfg.BroadcastWatermarks)

	if fanout.Broadcast {
		seen := make(map[string]struct{})
		for _, task := range assignment.byBucket {
			if _, dup := seen[task]; dup {
				continue
			}
			seen[task] = struct{}{}
			r.dispatchTo(task, env)
		}
		return
	}

	task, ok := assignment.byBucket[fanout.Bucket]
	if !ok {
		slog.Warn("runloop: no owner for keyBucket", "partition", key, "bucket", fanout.Bucket)
		return
	}
	r.dispatchTo(task, env)
}

func (r *RunLoop) dispatchTo(task string, env envelope.Envelope) {
	w, ok := r.workers[task]
	if !ok || !w.AcceptsWork() {
		return
	}
	w.Dispatch(env)
}

// recordOffset stores the last offset a worker's callback actually
// completed for one of its partitions, as reported via requestOffsetUpdate.
// It is the only place lastOffset is written — dispatch time never writes
// it, since a dispatched envelope's callback may not have run yet, or may
// still fail.
func (r *RunLoop) recordOffset(task string, partition envelope.PartitionId, off envelope.Offset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.lastOffset[task]; ok {
		m[partition.SystemStreamPartition.String()] = offsetRecord{partition: partition, offset: off}
	}
}

// drainRequests processes every commit/shutdown request any Coordinator
// token has enqueued since the last iteration, without blocking.
func (r *RunLoop) drainRequests() {
	for {
		select {
		case req := <-r.requests:
			r.handleRequest(req)
		default:
			return
		}
	}
}

func (r *RunLoop) handleRequest(req request) {
	switch req.kind {
	case requestCommit:
		r.commit(req.scope, req.task)
	case requestShutdown:
		r.shutdown(req.scope, req.task)
	case requestOffsetUpdate:
		r.recordOffset(req.task, req.partition, req.offset)
	}
}

func (r *RunLoop) shutdown(scope Scope, task string) {
	if scope == AllTasksInContainer {
		r.shutdownAll()
		return
	}
	metrics.ShutdownsTotal.WithLabelValues(CurrentTask.String()).Inc()
	if w, ok := r.workers[task]; ok {
		w.BeginDraining()
	}
}

// commit runs the commit protocol at the given scope: for every affected
// worker, wait for zero in-flight messages (unless AsyncCommitEnabled),
// then persist the last completed offset per partition via the offset
// Manager. originTask is only consulted when scope is CurrentTask.
func (r *RunLoop) commit(scope Scope, originTask string) {
	ctx := context.Background()
	metrics.CommitsTotal.WithLabelValues(scope.String()).Inc()

	names := make([]string, 0, len(r.workers))
	if scope == CurrentTask {
		names = append(names, originTask)
	} else {
		for name := range r.workers {
			names = append(names, name)
		}
	}

	for _, name := range names {
		w, ok := r.workers[name]
		if !ok {
			continue
		}

		start := time.Now()

		w.commitRequested.Set()
		if !r.cfg.AsyncCommitEnabled {
			for w.InFlight() > 0 {
				time.Sleep(time.Millisecond)
			}
		}

		if committable, ok := isCommittable(w.handle); ok {
			coord := newCoordinator(name, r.requests)
			if err := committable.Commit(ctx, coord); err != nil {
				slog.Error("runloop: task commit failed", "task", name, "error", err)
				w.fail(err)
				w.commitRequested.UnSet()
				continue
			}
		}

		r.mu.Lock()
		records := make([]offsetRecord, 0, len(r.lastOffset[name]))
		for _, rec := range r.lastOffset[name] {
			records = append(records, rec)
		}
		r.mu.Unlock()

		for _, rec := range records {
			if err := r.offsets.Update(ctx, name, rec.partition, rec.offset); err != nil {
				slog.Error("runloop: commit failed", "task", name, "error", fmt.Errorf("%w: %w", core.ErrOffsetUpdateFailed, err))
			}
		}

		metrics.CommitDurationSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())
		w.commitRequested.UnSet()
	}
}

// fireDueTimers invokes Window for every worker whose window timer is due
// and has zero in-flight messages, and runs a full commit when the commit
// timer is due, rescheduling each fired timer for its next interval.
func (r *RunLoop) fireDueTimers(ctx context.Context, timers *timerHeap) {
	now := time.Now()
	for timers.Len() > 0 && !(*timers)[0].due.After(now) {
		entry := heap.Pop(timers).(*timerEntry)
		w, ok := r.workers[entry.task]
		if !ok {
			continue
		}

		switch entry.kind {
		case timerWindow:
			if w.InFlight() == 0 {
				if windowable, ok := isWindowable(w.handle); ok {
					coord := newCoordinator(entry.task, r.requests)
					if err := windowable.Window(ctx, coord); err != nil {
						w.fail(err)
					} else {
						metrics.WindowsTotal.WithLabelValues(entry.task).Inc()
					}
				}
			}
			heap.Push(timers, &timerEntry{due: now.Add(r.windowInterval()), kind: timerWindow, task: entry.task})
		case timerCommit:
			r.commit(CurrentTask, entry.task)
			heap.Push(timers, &timerEntry{due: now.Add(r.commitInterval()), kind: timerCommit, task: entry.task})
		}
	}
}
