package envelope

import "testing"

func TestEndOfStreamSentinel(t *testing.T) {
	ssp := SystemStreamPartition{System: "kafka", Stream: "s", Partition: 1}
	e := NewEndOfStream(ssp)
	if !e.IsEndOfStream() {
		t.Fatal("expected IsEndOfStream to be true")
	}
	if e.IsWatermark() {
		t.Fatal("end-of-stream should not also be a watermark")
	}
}

func TestWatermarkSentinel(t *testing.T) {
	ssp := SystemStreamPartition{System: "kafka", Stream: "s", Partition: 1}
	e := NewWatermark(ssp, 12345)
	if !e.IsWatermark() {
		t.Fatal("expected IsWatermark to be true")
	}
	if e.IsEndOfStream() {
		t.Fatal("watermark should not also be end-of-stream")
	}
	if e.Timestamp != 12345 {
		t.Fatalf("got timestamp %d, want 12345", e.Timestamp)
	}
}

func TestRegularEnvelopeIsNeitherControl(t *testing.T) {
	ssp := SystemStreamPartition{System: "kafka", Stream: "s", Partition: 1}
	e := New(ssp, Offset("10"), []byte("k"), []byte("v"), 1)
	if e.IsEndOfStream() || e.IsWatermark() {
		t.Fatal("data envelope should not be a control message")
	}
}

func TestPartitionIdString(t *testing.T) {
	p := PartitionId{
		SystemStreamPartition: SystemStreamPartition{System: "kafka", Stream: "orders", Partition: 2},
		KeyBucket:              5,
	}
	want := "kafka.orders.2#5"
	if got := p.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
