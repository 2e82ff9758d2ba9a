package world

import (
	"sync/atomic"

	"pixelcanvas.io/internal/protocol"
)

type worldCounters struct {
	sessions     atomic.Int64
	batches      atomic.Uint64
	updates      atomic.Uint64
	chunksServed atomic.Uint64
	parked       atomic.Uint64
	slowDrops    atomic.Uint64
	rejects      map[string]*atomic.Uint64
}

func newWorldCounters() worldCounters {
	c := worldCounters{rejects: map[string]*atomic.Uint64{}}
	for _, code := range protocol.Codes() {
		c.rejects[code] = new(atomic.Uint64)
	}
	return c
}

func (c *worldCounters) reject(code string) {
	if ctr := c.rejects[code]; ctr != nil {
		ctr.Add(1)
	}
}

func (w *World) reject(code string) { w.stats.reject(code) }

// Stats is a point-in-time view for metrics and admin endpoints.
type Stats struct {
	ID           string            `json:"id"`
	Sessions     int64             `json:"sessions"`
	LoadedChunks int               `json:"loaded_chunks"`
	DirtyChunks  int               `json:"dirty_chunks"`
	ChunkLoads   uint64            `json:"chunk_loads"`
	LoadErrors   uint64            `json:"load_errors"`
	Lines        int               `json:"lines"`
	Batches      uint64            `json:"batches"`
	Updates      uint64            `json:"updates"`
	ChunksServed uint64            `json:"chunks_served"`
	Parked       uint64            `json:"parked"`
	SlowDrops    uint64            `json:"slow_drops"`
	QuotaActors  int               `json:"quota_actors"`
	Rejects      map[string]uint64 `json:"rejects"`
}

func (w *World) Stats() Stats {
	st := w.store.Stats()
	out := Stats{
		ID:           w.cfg.ID,
		Sessions:     w.stats.sessions.Load(),
		LoadedChunks: st.Loaded,
		DirtyChunks:  st.Dirty,
		ChunkLoads:   st.Loads,
		LoadErrors:   st.LoadErrors,
		Lines:        w.overlay.LineCount(),
		Batches:      w.stats.batches.Load(),
		Updates:      w.stats.updates.Load(),
		ChunksServed: w.stats.chunksServed.Load(),
		Parked:       w.stats.parked.Load(),
		SlowDrops:    w.stats.slowDrops.Load(),
		QuotaActors:  w.quota.Actors(),
		Rejects:      map[string]uint64{},
	}
	for code, ctr := range w.stats.rejects {
		out.Rejects[code] = ctr.Load()
	}
	return out
}

// RecordReject counts a rejection detected outside the loop, such as a
// malformed frame or a failed save.
func (w *World) RecordReject(code string) { w.stats.reject(code) }
