// Package envelope defines the message unit routed through the run loop and
// the partition identity it carries. Both types are immutable value types —
// a Coordinator or TaskWorker never mutates an Envelope it did not create.
package envelope

import "fmt"

// SystemStreamPartition identifies the raw, physical source of an Envelope:
// the stream name as it exists in the broker, plus the broker-level
// partition number. It does not know about elasticity factors or key
// buckets — that routing decision lives one layer up, in Route.
type SystemStreamPartition struct {
	System    string // e.g. "kafka"
	Stream    string // topic / stream name
	Partition int    // broker partition number
}

func (p SystemStreamPartition) String() string {
	return fmt.Sprintf("%s.%s.%d", p.System, p.Stream, p.Partition)
}

// PartitionId is the logical task-assignment key a RunLoop dispatches
// against. For an elastic task, PartitionId also carries the keyBucket the
// envelope was routed to; for a non-elastic task keyBucket is always 0.
type PartitionId struct {
	SystemStreamPartition
	KeyBucket int
}

func (p PartitionId) String() string {
	return fmt.Sprintf("%s#%d", p.SystemStreamPartition, p.KeyBucket)
}

// Offset is the broker-native cursor position of an Envelope within its
// partition. A small set of sentinel offsets represent control messages
// (end-of-stream, watermark) rather than real broker positions.
type Offset string

const (
	offsetEndOfStream Offset = "__eos__"
	offsetWatermark   Offset = "__watermark__"
)

// IsEndOfStream reports whether this offset marks the end of a partition.
func (o Offset) IsEndOfStream() bool { return o == offsetEndOfStream }

// IsWatermark reports whether this offset is a watermark control message.
func (o Offset) IsWatermark() bool { return o == offsetWatermark }

// IsControl reports whether this offset is any non-data control message.
func (o Offset) IsControl() bool { return o.IsEndOfStream() || o.IsWatermark() }

// Envelope is the unit of work a RunLoop fetches, routes, and dispatches to
// exactly one TaskWorker. Key and Value are opaque payloads — the run loop
// itself never interprets them beyond hashing Key for elasticity routing.
type Envelope struct {
	ID        PartitionId
	Offset    Offset
	Key       []byte
	Value     []byte
	Timestamp int64 // unix millis, producer or broker assigned
}

// New constructs a regular data Envelope.
func New(ssp SystemStreamPartition, offset Offset, key, value []byte, ts int64) Envelope {
	return Envelope{
		ID:        PartitionId{SystemStreamPartition: ssp},
		Offset:    offset,
		Key:       key,
		Value:     value,
		Timestamp: ts,
	}
}

// NewEndOfStream constructs the sentinel Envelope a ConsumerMux emits once a
// partition's source is exhausted. It carries no key or value.
func NewEndOfStream(ssp SystemStreamPartition) Envelope {
	return Envelope{
		ID:     PartitionId{SystemStreamPartition: ssp},
		Offset: offsetEndOfStream,
	}
}

// NewWatermark constructs a watermark control Envelope for ssp, stamped with
// the given timestamp. Watermarks carry no key; Route decides their fan-out.
func NewWatermark(ssp SystemStreamPartition, ts int64) Envelope {
	return Envelope{
		ID:        PartitionId{SystemStreamPartition: ssp},
		Offset:    offsetWatermark,
		Timestamp: ts,
	}
}

// IsEndOfStream reports whether e is the end-of-stream sentinel.
func (e Envelope) IsEndOfStream() bool { return e.Offset.IsEndOfStream() }

// IsWatermark reports whether e is a watermark control message.
func (e Envelope) IsWatermark() bool { return e.Offset.IsWatermark() }
