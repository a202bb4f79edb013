package runloop

import "time"

type timerKind int

const (
	timerWindow timerKind = iota
	timerCommit
)

// timerEntry is one scheduled window or commit firing for a task, ordered
// by due time in a timerHeap.
type timerEntry struct {
	due  time.Time
	kind timerKind
	task string
}

// timerHeap is a container/heap min-heap of timerEntry ordered by due
// time, used by RunLoop to find the next window/commit firing across
// every task without a per-task time.Ticker.
type timerHeap []*timerEntry

func newTimerHeap() *timerHeap {
	h := make(timerHeap, 0)
	return &h
}

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x interface{}) { *h = append(*h, x.(*timerEntry)) }
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
