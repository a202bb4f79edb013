// Package offset implements the durable checkpoint side of the commit
// protocol: recording, per task and per partition, the last Offset safe to
// resume consumption from after a restart.
package offset

import (
	"context"

	"github.com/chrisbu/samza-runloop/internal/envelope"
)

// Manager persists the high-water offset a task has committed, per
// partition. Implementations must tolerate Update being called repeatedly
// for the same (task, partition). They are not required to reject an
// out-of-order Update. The run loop records offsets in callback completion
// order, which matches source order per partition only when
// MaxMessagesInFlight is 1; with more in flight a later Update can carry an
// earlier offset.
type Manager interface {
	// Update records off as the last committed offset for taskName's
	// ownership of partition p.
	Update(ctx context.Context, taskName string, p envelope.PartitionId, off envelope.Offset) error

	// Checkpoints returns the last committed offset for every partition a
	// task has ever checkpointed, keyed by PartitionId.String(). Used to
	// resume a task after a restart.
	Checkpoints(ctx context.Context, taskName string) (map[string]envelope.Offset, error)

	// Close releases any resources (files, broker connections) the
	// manager holds open.
	Close() error
}
