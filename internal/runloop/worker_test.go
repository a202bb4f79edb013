package runloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chrisbu/samza-runloop/internal/envelope"
)

type syncHandle struct {
	process func(env envelope.Envelope) error
}

func (h syncHandle) ProcessAsync(_ context.Context, env envelope.Envelope, _ *Coordinator, callback func(error)) {
	callback(h.process(env))
}

func TestWorkerDrainsToFinished(t *testing.T) {
	w := NewWorker("t0", syncHandle{process: func(envelope.Envelope) error { return nil }}, 1)
	w.bindRequests(make(chan request, 8))

	ctx := context.Background()
	go w.Run(ctx)

	for i := 0; i < 5; i++ {
		w.Dispatch(envelope.Envelope{Offset: envelope.Offset("x")})
	}
	w.BeginDraining()
	w.Wait()

	if got := w.State(); got != StateFinished {
		t.Fatalf("got state %v, want finished", got)
	}
}

func TestWorkerReachesFinishedOnNaturalEndOfStream(t *testing.T) {
	ssp := envelope.SystemStreamPartition{System: "fake", Stream: "orders", Partition: 0}
	w := NewWorker("t0", syncHandle{process: func(envelope.Envelope) error { return nil }}, 1)
	w.bindRequests(make(chan request, 8))
	w.ClaimPartition(envelope.PartitionId{SystemStreamPartition: ssp})

	ctx := context.Background()
	go w.Run(ctx)

	w.Dispatch(envelope.New(ssp, envelope.Offset("0"), nil, nil, 0))
	w.Dispatch(envelope.NewEndOfStream(ssp))

	select {
	case <-w.drainDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker to finish draining after end-of-stream")
	}

	if got := w.State(); got != StateFinished {
		t.Fatalf("got state %v, want finished", got)
	}
	if !w.AllPartitionsEndOfStream() {
		t.Fatal("expected AllPartitionsEndOfStream to be true")
	}
}

func TestWorkerFailsOnProcessError(t *testing.T) {
	boom := testError("boom")
	w := NewWorker("t0", syncHandle{process: func(envelope.Envelope) error { return boom }}, 1)
	w.bindRequests(make(chan request, 8))

	ctx := context.Background()
	go w.Run(ctx)

	w.Dispatch(envelope.Envelope{Offset: envelope.Offset("x")})
	w.BeginDraining()
	w.Wait()

	if got := w.State(); got != StateFailed {
		t.Fatalf("got state %v, want failed", got)
	}
	if w.Err() != boom {
		t.Fatalf("got err %v, want %v", w.Err(), boom)
	}
}

func TestCoordinatorCommitIdempotentWithinDispatch(t *testing.T) {
	reqs := make(chan request, 8)
	coord := newCoordinator("t0", reqs)

	coord.Commit(CurrentTask)
	coord.Commit(CurrentTask)

	select {
	case <-reqs:
	default:
		t.Fatal("expected one commit request")
	}
	select {
	case <-reqs:
		t.Fatal("expected no second commit request from the same dispatch")
	default:
	}
}

func TestCoordinatorShutdownCarriesTaskName(t *testing.T) {
	reqs := make(chan request, 8)
	coord := newCoordinator("t0", reqs)
	coord.Shutdown(CurrentTask)

	select {
	case req := <-reqs:
		if req.task != "t0" || req.kind != requestShutdown {
			t.Fatalf("unexpected request: %+v", req)
		}
	case <-time.After(time.Second):
		t.Fatal("expected shutdown request")
	}
}

// holdableHandle lets a test hold a specific envelope's callback open
// until released, to exercise end-of-stream gating on in-flight work.
type holdableHandle struct {
	mu        sync.Mutex
	hold      map[string]chan struct{} // offset -> release channel
	eosCalls  int
	processed []string
}

func (h *holdableHandle) ProcessAsync(_ context.Context, env envelope.Envelope, _ *Coordinator, callback func(error)) {
	h.mu.Lock()
	ch, held := h.hold[string(env.Offset)]
	h.processed = append(h.processed, string(env.Offset))
	h.mu.Unlock()

	if held {
		go func() {
			<-ch
			callback(nil)
		}()
		return
	}
	callback(nil)
}

func (h *holdableHandle) OnEndOfStream(_ context.Context, _ *Coordinator) error {
	h.mu.Lock()
	h.eosCalls++
	h.mu.Unlock()
	return nil
}

func (h *holdableHandle) EOSCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.eosCalls
}

func TestWorkerEndOfStreamWaitsForInFlightAcrossPartitions(t *testing.T) {
	ssp0 := envelope.SystemStreamPartition{System: "fake", Stream: "orders", Partition: 0}
	ssp1 := envelope.SystemStreamPartition{System: "fake", Stream: "orders", Partition: 1}

	hold := make(chan struct{})
	handle := &holdableHandle{hold: map[string]chan struct{}{"held": hold}}

	w := NewWorker("t0", handle, 2)
	w.bindRequests(make(chan request, 8))
	w.ClaimPartition(envelope.PartitionId{SystemStreamPartition: ssp0})
	w.ClaimPartition(envelope.PartitionId{SystemStreamPartition: ssp1})

	ctx := context.Background()
	go w.Run(ctx)

	w.Dispatch(envelope.New(ssp0, envelope.Offset("held"), nil, nil, 0))
	w.Dispatch(envelope.New(ssp1, envelope.Offset("quick"), nil, nil, 0))

	deadline := time.After(2 * time.Second)
	for w.InFlight() != 1 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the quick envelope to complete")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Both owned partitions have now reported end-of-stream, but the held
	// envelope is still in flight.
	w.Dispatch(envelope.NewEndOfStream(ssp0))
	w.Dispatch(envelope.NewEndOfStream(ssp1))

	time.Sleep(50 * time.Millisecond)
	if got := handle.EOSCalls(); got != 0 {
		t.Fatalf("EOSCalls = %d before the held envelope completed, want 0", got)
	}

	close(hold)

	select {
	case <-w.drainDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker to finish after releasing the held envelope")
	}

	if got := handle.EOSCalls(); got != 1 {
		t.Fatalf("EOSCalls = %d, want exactly 1 despite two owned partitions", got)
	}
	if got := w.State(); got != StateFinished {
		t.Fatalf("got state %v, want finished", got)
	}
}

func TestAcceptsWorkFalseAfterDraining(t *testing.T) {
	w := NewWorker("t0", syncHandle{process: func(envelope.Envelope) error { return nil }}, 1)
	w.bindRequests(make(chan request, 8))
	if !w.AcceptsWork() {
		t.Fatal("expected fresh worker to accept work")
	}
	w.BeginDraining()
	if w.AcceptsWork() {
		t.Fatal("expected draining worker to stop accepting work")
	}
}
