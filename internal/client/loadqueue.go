package client

import (
	"context"
	"sync"
	"time"

	"pixelcanvas.io/internal/sim/chunk"
)

// LoadInterval is the client-side load request cadence (5 Hz).
const LoadInterval = time.Second / 5

// LoadQueue coalesces chunk load requests between ticks.
type LoadQueue struct {
	mu       sync.Mutex
	keys     []chunk.Key
	seen     map[chunk.Key]struct{}
	maxBatch int
}

func NewLoadQueue(maxBatch int) *LoadQueue {
	if maxBatch <= 0 {
		maxBatch = 1024
	}
	return &LoadQueue{seen: map[chunk.Key]struct{}{}, maxBatch: maxBatch}
}

func (q *LoadQueue) Add(keys ...chunk.Key) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, k := range keys {
		if _, ok := q.seen[k]; ok {
			continue
		}
		q.seen[k] = struct{}{}
		q.keys = append(q.keys, k)
	}
}

func (q *LoadQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.keys)
}

// Drain empties the queue into batches of at most maxBatch keys.
func (q *LoadQueue) Drain() [][]chunk.Key {
	q.mu.Lock()
	keys := q.keys
	q.keys = nil
	q.seen = map[chunk.Key]struct{}{}
	q.mu.Unlock()

	var out [][]chunk.Key
	for len(keys) > 0 {
		n := min(len(keys), q.maxBatch)
		out = append(out, keys[:n])
		keys = keys[n:]
	}
	return out
}

// Run sends drained batches every interval until ctx ends or send fails.
func (q *LoadQueue) Run(ctx context.Context, interval time.Duration, send func([]chunk.Key) error) error {
	if interval <= 0 {
		interval = LoadInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			for _, batch := range q.Drain() {
				if err := send(batch); err != nil {
					return err
				}
			}
		}
	}
}
