package consumer

import (
	"context"
	"sync"

	"github.com/chrisbu/samza-runloop/internal/envelope"
)

// FakeMux is a scripted, in-memory Mux for tests: envelopes pushed with
// Push are delivered to Choose in FIFO order, exactly the way
// firestige-Otus's hand-rolled mockCapturer/pausableCapturer feed scripted
// data into a task under test without a real capture source.
type FakeMux struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []envelope.Envelope
	closed    bool
	registers []envelope.SystemStreamPartition
}

// NewFakeMux constructs an empty FakeMux.
func NewFakeMux() *FakeMux {
	m := &FakeMux{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *FakeMux) Register(ssp envelope.SystemStreamPartition, _ envelope.Offset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registers = append(m.registers, ssp)
	return nil
}

// Registered returns every partition Register was called with, in order.
func (m *FakeMux) Registered() []envelope.SystemStreamPartition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]envelope.SystemStreamPartition, len(m.registers))
	copy(out, m.registers)
	return out
}

// Push appends envelopes to the delivery queue, waking any blocked Choose
// call.
func (m *FakeMux) Push(envs ...envelope.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, envs...)
	m.cond.Broadcast()
}

func (m *FakeMux) Choose(ctx context.Context, block bool) (envelope.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.queue) == 0 && !m.closed {
		if !block {
			return envelope.Envelope{}, nil
		}
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				// Taking the lock orders this Broadcast after Choose's Wait
				// has started, so the wakeup cannot be lost.
				m.mu.Lock()
				m.cond.Broadcast()
				m.mu.Unlock()
			case <-done:
			}
		}()
		m.cond.Wait()
		close(done)
		if ctx.Err() != nil {
			return envelope.Envelope{}, ctx.Err()
		}
	}

	if len(m.queue) == 0 {
		return envelope.Envelope{}, nil
	}

	e := m.queue[0]
	m.queue = m.queue[1:]
	return e, nil
}

func (m *FakeMux) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
	return nil
}

var _ Mux = (*FakeMux)(nil)
