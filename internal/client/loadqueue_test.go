package client

import (
	"context"
	"testing"
	"time"

	"pixelcanvas.io/internal/sim/chunk"
)

func TestLoadQueueCoalesces(t *testing.T) {
	q := NewLoadQueue(2)
	q.Add(chunk.Key{0, 0}, chunk.Key{1, 0}, chunk.Key{0, 0})
	q.Add(chunk.Key{2, 0})
	if q.Len() != 3 {
		t.Fatalf("len = %d, want 3", q.Len())
	}
	batches := q.Drain()
	if len(batches) != 2 || len(batches[0]) != 2 || len(batches[1]) != 1 {
		t.Fatalf("batches = %v", batches)
	}
	if batches[0][0] != (chunk.Key{0, 0}) || batches[1][0] != (chunk.Key{2, 0}) {
		t.Fatalf("order lost: %v", batches)
	}
	if q.Len() != 0 {
		t.Fatalf("queue not drained")
	}
}

func TestLoadQueueRunSendsPerTick(t *testing.T) {
	q := NewLoadQueue(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sent := make(chan []chunk.Key, 4)
	go func() {
		_ = q.Run(ctx, 10*time.Millisecond, func(keys []chunk.Key) error {
			sent <- keys
			return nil
		})
	}()
	q.Add(chunk.Key{1, 1}, chunk.Key{2, 2})
	select {
	case keys := <-sent:
		if len(keys) != 2 {
			t.Fatalf("keys = %v", keys)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no batch sent")
	}
}
