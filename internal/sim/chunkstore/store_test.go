package chunkstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"pixelcanvas.io/internal/sim/chunk"
)

var (
	red  = chunk.Color{255, 0, 0}
	blue = chunk.Color{0, 0, 255}
)

func newStore() *Store {
	return New(Options{World: "main", Default: chunk.White, TrackDirty: true})
}

func TestUnwrittenChunkIsDefault(t *testing.T) {
	s := newStore()
	for _, k := range []chunk.Key{{0, 0}, {-5, 9}, {1 << 20, -(1 << 20)}} {
		g := s.ChunkData(k)
		if !g.Uniform(chunk.White) {
			t.Fatalf("chunk %v not default", k)
		}
		if s.Protection(k) {
			t.Fatalf("chunk %v unexpectedly protected", k)
		}
	}
	if s.LoadedCount() != 0 {
		t.Fatalf("reads allocated %d chunks", s.LoadedCount())
	}
}

func TestSetPixelGetPixelNegative(t *testing.T) {
	s := newStore()
	points := [][2]int{{0, 0}, {5, 5}, {-1, -1}, {-16, 3}, {-17, -33}, {1000, -1000}}
	for i, p := range points {
		c := chunk.Color{uint8(i), 10, 20}
		if err := s.SetPixel(p[0], p[1], c, false); err != nil {
			t.Fatalf("set %v: %v", p, err)
		}
		if got := s.GetPixel(p[0], p[1]); got != c {
			t.Fatalf("get %v = %v want %v", p, got, c)
		}
		g := s.ChunkData(chunk.KeyOf(p[0], p[1]))
		lx, ly := chunk.Local(p[0], p[1])
		if g[lx][ly] != c {
			t.Fatalf("grid at local %d,%d = %v want %v", lx, ly, g[lx][ly], c)
		}
	}

	// x=-1 lands at local offset 15 of chunk -1.
	g := s.ChunkData(chunk.Key{CX: -1, CY: -1})
	if g[15][15] != (chunk.Color{2, 10, 20}) {
		t.Fatalf("x=-1 not at local offset 15")
	}
}

func TestProtectedChunkRejectsPixel(t *testing.T) {
	s := newStore()
	k := chunk.Key{CX: 0, CY: 0}
	s.SetProtection(k, true)
	before := s.ChunkData(k)

	err := s.SetPixel(3, 3, red, false)
	if !errors.Is(err, ErrProtectionDenied) {
		t.Fatalf("expected ErrProtectionDenied, got %v", err)
	}
	if s.ChunkData(k) != before {
		t.Fatalf("protected chunk changed")
	}
	if err := s.SetPixel(3, 3, red, true); err != nil {
		t.Fatalf("bypass write: %v", err)
	}
	if s.GetPixel(3, 3) != red {
		t.Fatalf("bypass write not applied")
	}
}

func TestSetChunkRGBAtomicUnderConcurrentPixels(t *testing.T) {
	s := newStore()
	k := chunk.Key{CX: 2, CY: -3}
	ox, oy := k.Origin()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				_ = s.SetPixel(ox+(i+w)%16, oy+(i*7)%16, blue, false)
			}
		}(w)
	}

	for i := 0; i < 200; i++ {
		g := s.SetChunkRGB(k, red)
		if !g.Uniform(red) {
			t.Fatalf("fill returned a torn grid")
		}
	}
	close(stop)
	wg.Wait()

	s.SetChunkRGB(k, red)
	if !s.ChunkData(k).Uniform(red) {
		t.Fatalf("grid not filled after quiescent fill")
	}
	if err := s.SetPixel(ox+1, oy+1, blue, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	if s.GetPixel(ox+1, oy+1) != blue || s.GetPixel(ox, oy) != red {
		t.Fatalf("pixel after fill not applied on top of fill")
	}
}

func TestSetChunkDataAndProtection(t *testing.T) {
	s := newStore()
	k := chunk.Key{CX: -1, CY: 0}
	g := chunk.Filled(blue)
	g[1][2] = red
	s.SetChunkData(k, g)
	if s.ChunkData(k) != g {
		t.Fatalf("chunk data not replaced")
	}
	s.SetProtection(k, true)
	c := s.Chunk(k)
	if !c.Protected || c.Grid != g {
		t.Fatalf("unexpected chunk %+v", c.Protected)
	}
	s.SetProtection(k, false)
	if s.Protection(k) {
		t.Fatalf("protection not cleared")
	}

	// Clearing protection on an absent chunk does not allocate it.
	s.SetProtection(chunk.Key{CX: 50, CY: 50}, false)
	if s.LoadedCount() != 1 {
		t.Fatalf("loaded=%d", s.LoadedCount())
	}
}

func TestDrainDirty(t *testing.T) {
	s := newStore()
	_ = s.SetPixel(1, 1, red, false)
	_ = s.SetPixel(-1, 1, red, false)
	_ = s.SetPixel(1, 1, red, false)
	recs := s.DrainDirty()
	if len(recs) != 2 {
		t.Fatalf("dirty=%d want 2", len(recs))
	}
	if recs[0].Key != (chunk.Key{CX: -1, CY: 0}) {
		t.Fatalf("records not sorted: %+v", recs[0].Key)
	}
	if len(s.DrainDirty()) != 0 {
		t.Fatalf("dirty set not cleared")
	}
	s.MarkDirty(recs[0].Key)
	if s.DirtyCount() != 1 {
		t.Fatalf("mark dirty failed")
	}

	untracked := New(Options{World: "w", Default: chunk.White})
	_ = untracked.SetPixel(0, 0, red, false)
	if untracked.DirtyCount() != 0 {
		t.Fatalf("untracked store recorded dirty chunks")
	}
}

type fakeLoader struct {
	calls atomic.Int32
	data  map[chunk.Key]chunk.Chunk
	err   error
}

func (f *fakeLoader) LoadChunk(_ context.Context, world string, k chunk.Key) (chunk.Chunk, bool, error) {
	f.calls.Add(1)
	if f.err != nil {
		return chunk.Chunk{}, false, f.err
	}
	c, ok := f.data[k]
	return c, ok, nil
}

func TestLazyLoad(t *testing.T) {
	saved := chunk.Chunk{Grid: chunk.Filled(blue), Protected: true}
	ld := &fakeLoader{data: map[chunk.Key]chunk.Chunk{{CX: 1, CY: 1}: saved}}
	s := New(Options{World: "main", Default: chunk.White, Loader: ld})

	k := chunk.Key{CX: 1, CY: 1}
	if s.Resident(k) {
		t.Fatalf("key resident before load")
	}
	s.Prefetch(context.Background(), []chunk.Key{k, {CX: 9, CY: 9}})
	if !s.Resident(k) || !s.Resident(chunk.Key{CX: 9, CY: 9}) {
		t.Fatalf("prefetch did not make keys resident")
	}
	if got := s.Chunk(k); got != saved {
		t.Fatalf("loaded chunk mismatch")
	}
	if !s.ChunkData(chunk.Key{CX: 9, CY: 9}).Uniform(chunk.White) {
		t.Fatalf("missing chunk not default")
	}
	calls := ld.calls.Load()
	_ = s.GetPixel(20, 20)
	_ = s.GetPixel(40, 40)
	_ = s.GetPixel(41, 41)
	if ld.calls.Load() != calls+1 {
		t.Fatalf("expected exactly one more load, got %d", ld.calls.Load()-calls)
	}
}

func TestLazyLoadFailureDegrades(t *testing.T) {
	ld := &fakeLoader{err: errors.New("db down")}
	s := New(Options{World: "main", Default: chunk.White, Loader: ld})
	if err := s.SetPixel(0, 0, red, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	if s.GetPixel(0, 0) != red {
		t.Fatalf("write lost in degraded mode")
	}
	if s.Stats().LoadErrors != 1 {
		t.Fatalf("load errors=%d", s.Stats().LoadErrors)
	}
}

func TestExportImport(t *testing.T) {
	s := newStore()
	_ = s.SetPixel(-3, 4, red, false)
	s.SetProtection(chunk.Key{CX: 5, CY: 5}, true)
	exported := s.Export()
	if len(exported) != 2 {
		t.Fatalf("exported %d chunks", len(exported))
	}

	dst := newStore()
	if err := dst.Import(exported); err != nil {
		t.Fatalf("import: %v", err)
	}
	if dst.GetPixel(-3, 4) != red || !dst.Protection(chunk.Key{CX: 5, CY: 5}) {
		t.Fatalf("imported state mismatch")
	}
	if dst.DirtyCount() != 2 {
		t.Fatalf("imported chunks not dirty")
	}

	exported[0].Pixels = exported[0].Pixels[:10]
	if err := dst.Import(exported); err == nil {
		t.Fatalf("expected error for bad pixels")
	}
}

type listingLoader struct {
	fakeLoader
}

func (l *listingLoader) EachChunk(_ context.Context, world string, fn func(chunk.Key, chunk.Chunk) error) error {
	if l.err != nil {
		return l.err
	}
	keys := make([]chunk.Key, 0, len(l.data))
	for k := range l.data {
		keys = append(keys, k)
	}
	for _, k := range keys {
		if err := fn(k, l.data[k]); err != nil {
			return err
		}
	}
	return nil
}

func TestMergePersistedCoversUnloadedChunks(t *testing.T) {
	ld := &listingLoader{fakeLoader{data: map[chunk.Key]chunk.Chunk{
		{CX: 5, CY: 5}: {Grid: chunk.Filled(red)},
		{CX: 0, CY: 0}: {Grid: chunk.Filled(red)},
	}}}
	s := New(Options{World: "main", Default: chunk.White, Loader: ld})
	if err := s.SetPixel(0, 0, blue, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	exported := s.Export()
	if len(exported) != 1 {
		t.Fatalf("memory export=%d", len(exported))
	}
	merged, err := s.MergePersisted(context.Background(), exported)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(merged) != 2 || merged[0].CX != 0 || merged[1].CX != 5 {
		t.Fatalf("merged keys: %+v", merged)
	}

	dst := newStore()
	if err := dst.Import(merged); err != nil {
		t.Fatalf("import: %v", err)
	}
	if dst.GetPixel(80, 80) != red {
		t.Fatalf("unloaded chunk missing from snapshot")
	}
	if dst.GetPixel(0, 0) != blue || dst.GetPixel(1, 1) != red {
		t.Fatalf("in-memory chunk should win over persisted copy")
	}

	plain := New(Options{World: "main", Default: chunk.White, Loader: &fakeLoader{}})
	if out, err := plain.MergePersisted(context.Background(), exported); err != nil || len(out) != 1 {
		t.Fatalf("non-enumerating loader: %d %v", len(out), err)
	}

	ld.err = errors.New("db down")
	if _, err := s.MergePersisted(context.Background(), exported); err == nil {
		t.Fatalf("enumeration error swallowed")
	}
}

func TestMissingKeysAreBounded(t *testing.T) {
	ld := &fakeLoader{}
	s := New(Options{World: "main", Default: chunk.White, Loader: ld, MissingLimit: 2})
	keys := []chunk.Key{{CX: 1}, {CX: 2}, {CX: 3}}
	s.Prefetch(context.Background(), keys)
	if got := s.Stats().Missing; got != 2 {
		t.Fatalf("missing=%d want 2", got)
	}
	if s.Resident(keys[0]) {
		t.Fatalf("oldest absent key should have been forgotten")
	}
	if !s.Resident(keys[2]) {
		t.Fatalf("newest absent key not remembered")
	}
	calls := ld.calls.Load()
	if s.GetPixel(16, 0) != chunk.White || ld.calls.Load() != calls+1 {
		t.Fatalf("forgotten key should be re-queried once")
	}

	if err := s.SetPixel(48, 0, red, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	if s.Stats().Missing != 1 || s.Stats().Loaded != 1 {
		t.Fatalf("written key still counted missing: %+v", s.Stats())
	}
}
