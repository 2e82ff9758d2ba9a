// Package client is the client side of the sync protocol: a viewport-driven
// chunk cache, a coalescing load queue and a websocket connection that keeps
// the cache in step with server broadcasts.
package client

import (
	"math"
	"sync"

	"pixelcanvas.io/internal/sim/chunk"
)

// Camera is the client view in screen pixels. X and Y are the screen-space
// offset of the top-left corner; world pixels are scaled by Zoom.
type Camera struct {
	X, Y          float64
	Width, Height float64
	Zoom          float64
}

// Rect is a half-open chunk rectangle [Left,Right) x [Top,Bottom).
type Rect struct {
	Left, Top, Right, Bottom int
}

// VisibleRect returns the chunks covered by cam.
func VisibleRect(cam Camera) Rect {
	zoom := cam.Zoom
	if zoom <= 0 {
		zoom = 1
	}
	px := float64(chunk.Size) * zoom
	return Rect{
		Left:   int(math.Floor(cam.X / px)),
		Top:    int(math.Floor(cam.Y / px)),
		Right:  int(math.Ceil((cam.X + cam.Width) / px)),
		Bottom: int(math.Ceil((cam.Y + cam.Height) / px)),
	}
}

func (r Rect) Contains(k chunk.Key) bool {
	return k.CX >= r.Left && k.CX < r.Right && k.CY >= r.Top && k.CY < r.Bottom
}

// Keys lists the rectangle row by row.
func (r Rect) Keys() []chunk.Key {
	if r.Right <= r.Left || r.Bottom <= r.Top {
		return nil
	}
	out := make([]chunk.Key, 0, (r.Right-r.Left)*(r.Bottom-r.Top))
	for y := r.Top; y < r.Bottom; y++ {
		for x := r.Left; x < r.Right; x++ {
			out = append(out, chunk.Key{CX: x, CY: y})
		}
	}
	return out
}

type Entry struct {
	Grid      chunk.Grid
	Protected bool
}

// Cache holds the last known state of the chunks a client has loaded. It is
// never authoritative; broadcasts overwrite it.
type Cache struct {
	mu      sync.RWMutex
	chunks  map[chunk.Key]*Entry
	pending map[chunk.Key]struct{}
}

func NewCache() *Cache {
	return &Cache{chunks: map[chunk.Key]*Entry{}, pending: map[chunk.Key]struct{}{}}
}

// Update applies the eviction rule for the visible rect and returns the
// visible chunks that still need a load request. Returned keys are marked
// pending until Put or Forget.
func (c *Cache) Update(r Rect) (load []chunk.Key, evicted int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted = c.evictLocked(r)
	for _, k := range r.Keys() {
		if _, ok := c.chunks[k]; ok {
			continue
		}
		if _, ok := c.pending[k]; ok {
			continue
		}
		c.pending[k] = struct{}{}
		load = append(load, k)
	}
	return load, evicted
}

// evictLocked drops every cached chunk outside r, but only once those make
// up more than half of the cache.
func (c *Cache) evictLocked(r Rect) int {
	var outside []chunk.Key
	for k := range c.chunks {
		if !r.Contains(k) {
			outside = append(outside, k)
		}
	}
	if len(outside)*2 <= len(c.chunks) {
		return 0
	}
	for _, k := range outside {
		delete(c.chunks, k)
	}
	return len(outside)
}

func (c *Cache) Put(k chunk.Key, g chunk.Grid, protected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, k)
	c.chunks[k] = &Entry{Grid: g, Protected: protected}
}

// Forget clears the pending mark of keys whose load was never sent.
func (c *Cache) Forget(keys ...chunk.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.pending, k)
	}
}

// SetPixel updates a cached chunk. Pixels of uncached chunks are ignored;
// the next load brings them in.
func (c *Cache) SetPixel(x, y int, col chunk.Color) bool {
	k := chunk.KeyOf(x, y)
	lx, ly := chunk.Local(x, y)
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.chunks[k]
	if e == nil {
		return false
	}
	e.Grid[lx][ly] = col
	return true
}

func (c *Cache) SetGrid(k chunk.Key, g chunk.Grid) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.chunks[k]
	if e == nil {
		return false
	}
	e.Grid = g
	return true
}

func (c *Cache) SetProtected(k chunk.Key, v bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.chunks[k]
	if e == nil {
		return false
	}
	e.Protected = v
	return true
}

func (c *Cache) Get(k chunk.Key) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e := c.chunks[k]
	if e == nil {
		return Entry{}, false
	}
	return *e, true
}

func (c *Cache) Pixel(x, y int) (chunk.Color, bool) {
	e, ok := c.Get(chunk.KeyOf(x, y))
	if !ok {
		return chunk.Color{}, false
	}
	lx, ly := chunk.Local(x, y)
	return e.Grid[lx][ly], true
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.chunks)
}

func (c *Cache) Pending() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending)
}
