// Package consumer implements the ConsumerMux: the single point at which a
// RunLoop pulls the next Envelope from however many underlying broker
// partitions a container is assigned, in an order the RunLoop does not
// control and must not assume is fair or round-robin.
package consumer

import (
	"context"
	"errors"

	"github.com/chrisbu/samza-runloop/internal/envelope"
)

// ErrNoPartitions signals that a Mux has no partitions registered to poll.
// Neither FakeMux nor KafkaMux returns it from Choose: FakeMux delivers
// pushed envelopes whether or not anything is registered, and KafkaMux
// waits until ctx is done.
var ErrNoPartitions = errors.New("consumer: no partitions registered")

// Mux multiplexes one or more broker-partition consumers behind a single
// blocking Choose call. A RunLoop never talks to a partition consumer
// directly — only through a Mux — so it can remain agnostic to whether the
// underlying transport is Kafka, an in-memory fake, or anything else.
type Mux interface {
	// Register adds ssp to the set of partitions this Mux polls, starting
	// from the given offset (empty meaning "from the beginning" is left to
	// the implementation).
	Register(ssp envelope.SystemStreamPartition, from envelope.Offset) error

	// Choose blocks until the next Envelope is available from any
	// registered partition, or ctx is cancelled. block reports whether the
	// caller is willing to wait; with block false an implementation
	// returns a zero Envelope and a nil error when nothing is immediately
	// ready. The RunLoop always passes true and bounds the wait with a ctx
	// deadline.
	Choose(ctx context.Context, block bool) (envelope.Envelope, error)

	// Close stops all registered partition consumers.
	Close() error
}
