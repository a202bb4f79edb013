package runloop

import (
	uuid "github.com/satori/go.uuid"

	"github.com/chrisbu/samza-runloop/internal/envelope"
)

// Scope names the set of TaskWorkers a coordinator request applies to.
type Scope int

const (
	// CurrentTask scopes a request to the worker the call originated from.
	CurrentTask Scope = iota
	// AllTasksInContainer scopes a request to every worker the RunLoop
	// owns.
	AllTasksInContainer
)

func (s Scope) String() string {
	if s == AllTasksInContainer {
		return "ALL_TASKS_IN_CONTAINER"
	}
	return "CURRENT_TASK"
}

// requestKind distinguishes the protocols a Coordinator (or the worker
// itself) can trigger on the run loop.
type requestKind int

const (
	requestCommit requestKind = iota
	requestShutdown
	// requestOffsetUpdate carries a (partition, offset) pair from a
	// worker's callback-success path back to the run loop, which is the
	// only goroutine allowed to touch lastOffset. It is never sent by a
	// Coordinator method — only by Worker.recordOffset.
	requestOffsetUpdate
)

type request struct {
	kind  requestKind
	scope Scope
	task  string // originating task name, used when scope is CurrentTask

	// partition/offset are populated for requestOffsetUpdate only.
	partition envelope.PartitionId
	offset    envelope.Offset
}

// Coordinator is a one-shot capability token a RunLoop hands to a
// TaskHandle on every ProcessAsync/Window/OnEndOfStream call. A task
// requests commit or shutdown through it; the token is freshly minted per
// dispatch (fresh dispatchID), so calling Commit or Shutdown more than
// once in the same dispatch is idempotent — the second call is a no-op.
//
// This is the same capability-token shape firestige's plugin package uses
// to hand a task narrow control over its own lifecycle rather than a
// reference to the whole manager.
type Coordinator struct {
	dispatchID string
	taskName   string

	committed  bool
	shutdowned bool

	requests chan<- request
}

// newCoordinator mints a fresh token for one dispatch to taskName.
func newCoordinator(taskName string, requests chan<- request) *Coordinator {
	return &Coordinator{
		dispatchID: uuid.NewV4().String(),
		taskName:   taskName,
		requests:   requests,
	}
}

// DispatchID returns the unique id of the dispatch this token belongs to.
func (c *Coordinator) DispatchID() string { return c.dispatchID }

// TaskName returns the name of the task this token was minted for.
func (c *Coordinator) TaskName() string { return c.taskName }

// Commit requests that the run loop run the commit protocol at the given
// scope. Calling it more than once within the same dispatch has no
// additional effect.
func (c *Coordinator) Commit(scope Scope) {
	if c.committed {
		return
	}
	c.committed = true
	c.requests <- request{kind: requestCommit, scope: scope, task: c.taskName}
}

// Shutdown requests that the run loop begin draining at the given scope.
// Calling it more than once within the same dispatch has no additional
// effect.
func (c *Coordinator) Shutdown(scope Scope) {
	if c.shutdowned {
		return
	}
	c.shutdowned = true
	c.requests <- request{kind: requestShutdown, scope: scope, task: c.taskName}
}
