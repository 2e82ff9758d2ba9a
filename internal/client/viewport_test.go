package client

import (
	"testing"

	"pixelcanvas.io/internal/sim/chunk"
)

func TestVisibleRect(t *testing.T) {
	cases := []struct {
		cam  Camera
		want Rect
	}{
		{Camera{X: 0, Y: 0, Width: 32, Height: 16, Zoom: 1}, Rect{0, 0, 2, 1}},
		{Camera{X: 0, Y: 0, Width: 33, Height: 16, Zoom: 1}, Rect{0, 0, 3, 1}},
		{Camera{X: -1, Y: -17, Width: 16, Height: 16, Zoom: 1}, Rect{-1, -2, 1, 0}},
		{Camera{X: 64, Y: 0, Width: 64, Height: 64, Zoom: 2}, Rect{2, 0, 4, 2}},
	}
	for _, tc := range cases {
		if got := VisibleRect(tc.cam); got != tc.want {
			t.Fatalf("VisibleRect(%+v) = %+v, want %+v", tc.cam, got, tc.want)
		}
	}
	if n := len((Rect{0, 0, 3, 2}).Keys()); n != 6 {
		t.Fatalf("keys = %d, want 6", n)
	}
}

func fill(c *Cache, keys ...chunk.Key) {
	for _, k := range keys {
		c.Put(k, chunk.Filled(chunk.White), false)
	}
}

func TestCacheEvictionHysteresis(t *testing.T) {
	c := NewCache()
	fill(c, chunk.Key{0, 0}, chunk.Key{1, 0}, chunk.Key{2, 0}, chunk.Key{3, 0})

	// Exactly half outside: nothing dropped.
	if _, evicted := c.Update(Rect{0, 0, 2, 1}); evicted != 0 || c.Len() != 4 {
		t.Fatalf("evicted=%d len=%d, want 0/4", evicted, c.Len())
	}
	// Three of four outside: every non-visible chunk goes.
	load, evicted := c.Update(Rect{3, 0, 5, 1})
	if evicted != 3 || c.Len() != 1 {
		t.Fatalf("evicted=%d len=%d, want 3/1", evicted, c.Len())
	}
	if len(load) != 1 || load[0] != (chunk.Key{4, 0}) {
		t.Fatalf("load = %v, want [4,0]", load)
	}
	// Pending keys are not requested twice.
	if load, _ := c.Update(Rect{3, 0, 5, 1}); len(load) != 0 {
		t.Fatalf("second load = %v, want none", load)
	}
	c.Forget(chunk.Key{4, 0})
	if load, _ := c.Update(Rect{3, 0, 5, 1}); len(load) != 1 {
		t.Fatalf("load after forget = %v", load)
	}
}

func TestCacheAppliesOnlyCachedChunks(t *testing.T) {
	c := NewCache()
	fill(c, chunk.Key{-1, 0})
	red := chunk.Color{255, 0, 0}
	if !c.SetPixel(-1, 3, red) {
		t.Fatalf("pixel in cached chunk not applied")
	}
	e, _ := c.Get(chunk.Key{-1, 0})
	if e.Grid[15][3] != red {
		t.Fatalf("local 15,3 = %v", e.Grid[15][3])
	}
	if c.SetPixel(100, 100, red) {
		t.Fatalf("pixel in uncached chunk applied")
	}
	if got, ok := c.Pixel(-1, 3); !ok || got != red {
		t.Fatalf("Pixel(-1,3) = %v,%v", got, ok)
	}
}
