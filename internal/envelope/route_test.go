package envelope

import "testing"

func TestRouteDeterministic(t *testing.T) {
	key := []byte("order-42")
	first := Route(key, 4)
	for i := 0; i < 100; i++ {
		if got := Route(key, 4); got != first {
			t.Fatalf("Route not deterministic: got %d, want %d", got, first)
		}
	}
}

func TestRouteWithinFactor(t *testing.T) {
	for factor := 1; factor <= 16; factor++ {
		for i := 0; i < 64; i++ {
			key := []byte{byte(i), byte(i >> 8)}
			bucket := Route(key, factor)
			if bucket < 0 || bucket >= factor {
				t.Fatalf("Route(%v, %d) = %d, out of range", key, factor, bucket)
			}
		}
	}
}

func TestRouteFactorOneIsSingleBucket(t *testing.T) {
	for i := 0; i < 32; i++ {
		key := []byte{byte(i)}
		if got := Route(key, 1); got != 0 {
			t.Fatalf("Route(%v, 1) = %d, want 0", key, got)
		}
	}
}

func TestRouteNonNegativeWithZeroFactor(t *testing.T) {
	if got := Route([]byte("x"), 0); got != 0 {
		t.Fatalf("Route with factor 0 should clamp to factor 1 => bucket 0, got %d", got)
	}
}

func TestRouteEnvelopeEndOfStreamBroadcasts(t *testing.T) {
	ssp := SystemStreamPartition{System: "kafka", Stream: "orders", Partition: 3}
	e := NewEndOfStream(ssp)
	fo := RouteEnvelope(e, 4, false)
	if !fo.Broadcast {
		t.Fatal("expected end-of-stream to broadcast regardless of elasticity factor")
	}
}

func TestRouteEnvelopeWatermarkDefaultsToBucketZero(t *testing.T) {
	ssp := SystemStreamPartition{System: "kafka", Stream: "orders", Partition: 3}
	e := NewWatermark(ssp, 1000)
	fo := RouteEnvelope(e, 4, false)
	if fo.Broadcast || fo.Bucket != 0 {
		t.Fatalf("expected watermark to route to bucket 0 by default, got %+v", fo)
	}
}

func TestRouteEnvelopeWatermarkBroadcastOptIn(t *testing.T) {
	ssp := SystemStreamPartition{System: "kafka", Stream: "orders", Partition: 3}
	e := NewWatermark(ssp, 1000)
	fo := RouteEnvelope(e, 4, true)
	if !fo.Broadcast {
		t.Fatal("expected watermark to broadcast when opted in")
	}
}

func TestRouteEnvelopeKeylessDataMessageFallsBackToOffset(t *testing.T) {
	ssp := SystemStreamPartition{System: "kafka", Stream: "orders", Partition: 0}
	e1 := New(ssp, Offset("100"), nil, []byte("payload"), 123)
	e2 := New(ssp, Offset("200"), nil, []byte("payload"), 123)

	fo1 := RouteEnvelope(e1, 4, false)
	fo2 := RouteEnvelope(e2, 4, false)

	if fo1.Broadcast || fo2.Broadcast {
		t.Fatal("keyless data envelope should not broadcast")
	}
	if want := Route([]byte("100"), 4); fo1.Bucket != want {
		t.Fatalf("got bucket %d, want %d (hash of offset)", fo1.Bucket, want)
	}
	if fo1.Bucket == fo2.Bucket && Route([]byte("100"), 4) != Route([]byte("200"), 4) {
		t.Fatal("expected distinct offsets to route differently when falling back to offset hashing")
	}
}

func TestRouteEnvelopeDataMessageUsesKeyBucket(t *testing.T) {
	ssp := SystemStreamPartition{System: "kafka", Stream: "orders", Partition: 0}
	e := New(ssp, Offset("100"), []byte("customer-7"), []byte("payload"), 123)
	fo := RouteEnvelope(e, 4, false)
	if fo.Broadcast {
		t.Fatal("data envelope should not broadcast")
	}
	want := Route([]byte("customer-7"), 4)
	if fo.Bucket != want {
		t.Fatalf("got bucket %d, want %d", fo.Bucket, want)
	}
}
