package envelope

import "hash/fnv"

// KeyBucketModulus is the fixed number of key buckets every elastic
// partition is folded into before the elasticity factor is applied. It is
// a constant, not a tuning knob: changing it would reshuffle every key's
// bucket assignment for every task that has ever run against this stream.
const KeyBucketModulus = 31

// Route computes the keyBucket an envelope with the given key hashes to,
// folded down to the task count (factor) currently assigned to the owning
// raw partition. A factor below 1 is treated as 1.
//
// The function is pure and deterministic: the same key always produces the
// same bucket for a given factor, with no dependency on process state,
// making routing reproducible across restarts and across tasks that
// discover the same factor independently (mirrors the flow-affinity
// routing in firestige's dispatch strategy, generalized from "pick a
// pipeline index" to "pick a key bucket, then fold by elasticity factor").
func Route(key []byte, factor int) int {
	if factor < 1 {
		factor = 1
	}
	h := fnv.New32a()
	_, _ = h.Write(key)
	bucket := int(h.Sum32() % KeyBucketModulus)
	return bucket % factor
}

// Fanout describes which keyBuckets of a raw partition an envelope should
// be delivered to.
type Fanout struct {
	// Broadcast, when true, means the envelope must be delivered to every
	// task that owns any keyBucket of the raw partition, regardless of the
	// bucket a keyed Route call would have produced.
	Broadcast bool
	// Bucket is the single keyBucket to deliver to when Broadcast is false.
	Bucket int
}

// RouteEnvelope decides the Fanout for e against a partition assigned
// factor tasks. End-of-stream envelopes always broadcast: every task that
// owns a keyBucket of the raw partition must observe the partition closing.
// Watermarks broadcast only when broadcastWatermarks is true; otherwise
// they route to keyBucket 0. Data envelopes hash their key; a keyless data
// envelope falls back to hashing its offset instead of collapsing every
// keyless message onto the same bucket.
func RouteEnvelope(e Envelope, factor int, broadcastWatermarks bool) Fanout {
	switch {
	case e.IsEndOfStream():
		return Fanout{Broadcast: true}
	case e.IsWatermark():
		if broadcastWatermarks {
			return Fanout{Broadcast: true}
		}
		return Fanout{Bucket: 0}
	default:
		h := e.Key
		if len(h) == 0 {
			h = []byte(e.Offset)
		}
		if len(h) == 0 {
			return Fanout{Bucket: 0}
		}
		return Fanout{Bucket: Route(h, factor)}
	}
}
