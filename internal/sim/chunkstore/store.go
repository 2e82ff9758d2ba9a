package chunkstore

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"

	"pixelcanvas.io/internal/sim/chunk"
)

// defaultMissingLimit bounds how many never-saved keys are remembered as
// absent. Older entries are forgotten and simply re-queried.
const defaultMissingLimit = 16384

var ErrProtectionDenied = errors.New("chunk is protected")

// Loader fetches a persisted chunk. ok=false means the chunk was never saved.
type Loader interface {
	LoadChunk(ctx context.Context, world string, k chunk.Key) (c chunk.Chunk, ok bool, err error)
}

// Enumerator is implemented by loaders that can walk every persisted chunk
// of a world. Snapshots need it to cover chunks never loaded into memory.
type Enumerator interface {
	EachChunk(ctx context.Context, world string, fn func(chunk.Key, chunk.Chunk) error) error
}

type Options struct {
	World      string
	Default    chunk.Color
	Loader     Loader
	TrackDirty bool
	// MissingLimit caps the negative cache of keys the loader reported
	// absent. Zero selects the default.
	MissingLimit int
	Logger       *log.Logger
}

// Store is the sparse chunk map of one world. All methods are safe for
// concurrent use; writes hold the exclusive lock only for in-memory updates.
type Store struct {
	world   string
	def     chunk.Color
	defGrid chunk.Grid
	loader  Loader
	track   bool
	log     *log.Logger

	mu      sync.RWMutex
	chunks  map[chunk.Key]*chunk.Chunk
	missing *lru.Cache
	dirty   map[chunk.Key]struct{}

	loads    atomic.Uint64
	loadErrs atomic.Uint64
}

func New(opts Options) *Store {
	limit := opts.MissingLimit
	if limit <= 0 {
		limit = defaultMissingLimit
	}
	missing, _ := lru.New(limit) // only fails for limit <= 0
	return &Store{
		world:   opts.World,
		def:     opts.Default,
		defGrid: chunk.Filled(opts.Default),
		loader:  opts.Loader,
		track:   opts.TrackDirty,
		log:     opts.Logger,
		chunks:  map[chunk.Key]*chunk.Chunk{},
		missing: missing,
		dirty:   map[chunk.Key]struct{}{},
	}
}

func (s *Store) World() string             { return s.world }
func (s *Store) DefaultColor() chunk.Color { return s.def }

// Resident reports whether k can be served without consulting the loader.
func (s *Store) Resident(k chunk.Key) bool {
	if s.loader == nil {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.residentLocked(k)
}

func (s *Store) residentLocked(k chunk.Key) bool {
	if _, ok := s.chunks[k]; ok {
		return true
	}
	return s.missing.Contains(k)
}

// Prefetch loads every non-resident key. It performs loader I/O without
// holding the store lock. After it returns every key is resident; keys whose
// load failed are treated as empty.
func (s *Store) Prefetch(ctx context.Context, keys []chunk.Key) {
	if s.loader == nil {
		return
	}
	for _, k := range keys {
		if s.Resident(k) {
			continue
		}
		s.load(ctx, k)
	}
}

func (s *Store) ensure(k chunk.Key) {
	if s.loader == nil || s.Resident(k) {
		return
	}
	s.load(context.Background(), k)
}

func (s *Store) load(ctx context.Context, k chunk.Key) {
	s.loads.Add(1)
	c, ok, err := s.loader.LoadChunk(ctx, s.world, k)
	if err != nil {
		s.loadErrs.Add(1)
		if s.log != nil {
			s.log.Printf("chunk load failed world=%s chunk=%s err=%v (continuing in memory)", s.world, k, err)
		}
		ok = false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.residentLocked(k) {
		// Written or loaded concurrently; in-memory state wins.
		return
	}
	if !ok {
		s.missing.Add(k, struct{}{})
		return
	}
	cp := c
	s.chunks[k] = &cp
}

func (s *Store) markDirtyLocked(k chunk.Key) {
	if s.track {
		s.dirty[k] = struct{}{}
	}
}

// getOrCreateLocked returns the chunk for k, allocating a default-filled one.
func (s *Store) getOrCreateLocked(k chunk.Key) *chunk.Chunk {
	if ch, ok := s.chunks[k]; ok {
		return ch
	}
	ch := &chunk.Chunk{Grid: s.defGrid}
	s.chunks[k] = ch
	s.missing.Remove(k)
	return ch
}

func (s *Store) GetPixel(x, y int) chunk.Color {
	k := chunk.KeyOf(x, y)
	s.ensure(k)
	lx, ly := chunk.Local(x, y)

	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.chunks[k]
	if !ok {
		return s.def
	}
	return ch.Grid[lx][ly]
}

// SetPixel writes one pixel, creating the chunk if needed. When the chunk is
// protected and bypass is false the write is refused with ErrProtectionDenied
// and nothing changes.
func (s *Store) SetPixel(x, y int, c chunk.Color, bypass bool) error {
	k := chunk.KeyOf(x, y)
	s.ensure(k)
	lx, ly := chunk.Local(x, y)

	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.chunks[k]; ok && ch.Protected && !bypass {
		return ErrProtectionDenied
	}
	ch := s.getOrCreateLocked(k)
	if ch.Grid[lx][ly] == c {
		return nil
	}
	ch.Grid[lx][ly] = c
	s.markDirtyLocked(k)
	return nil
}

// ChunkData returns a copy of the chunk grid, or a default grid when the chunk
// was never written. Reads never allocate chunks.
func (s *Store) ChunkData(k chunk.Key) chunk.Grid {
	s.ensure(k)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ch, ok := s.chunks[k]; ok {
		return ch.Grid
	}
	return s.defGrid
}

// Chunk returns grid and protection read under one lock.
func (s *Store) Chunk(k chunk.Key) chunk.Chunk {
	s.ensure(k)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ch, ok := s.chunks[k]; ok {
		return *ch
	}
	return chunk.Chunk{Grid: s.defGrid}
}

// SetChunkRGB fills the chunk with c and returns the grid as it stood when
// the fill was applied.
func (s *Store) SetChunkRGB(k chunk.Key, c chunk.Color) chunk.Grid {
	s.ensure(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.getOrCreateLocked(k)
	ch.Grid = chunk.Filled(c)
	s.markDirtyLocked(k)
	return ch.Grid
}

func (s *Store) SetChunkData(k chunk.Key, g chunk.Grid) {
	s.ensure(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.getOrCreateLocked(k)
	ch.Grid = g
	s.markDirtyLocked(k)
}

func (s *Store) Protection(k chunk.Key) bool {
	s.ensure(k)
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.chunks[k]
	return ok && ch.Protected
}

func (s *Store) SetProtection(k chunk.Key, v bool) {
	s.ensure(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.chunks[k]
	if !ok {
		if !v {
			return
		}
		ch = s.getOrCreateLocked(k)
	}
	if ch.Protected == v {
		return
	}
	ch.Protected = v
	s.markDirtyLocked(k)
}

// Record is one chunk as handed to persistence.
type Record struct {
	Key   chunk.Key
	Chunk chunk.Chunk
}

// DrainDirty returns copies of every chunk modified since the last drain and
// clears the dirty set. Records are sorted by key.
func (s *Store) DrainDirty() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.dirty) == 0 {
		return nil
	}
	out := make([]Record, 0, len(s.dirty))
	for k := range s.dirty {
		if ch, ok := s.chunks[k]; ok {
			out = append(out, Record{Key: k, Chunk: *ch})
		}
	}
	s.dirty = map[chunk.Key]struct{}{}
	sortRecords(out)
	return out
}

// MarkDirty re-queues keys, typically after a failed save.
func (s *Store) MarkDirty(keys ...chunk.Key) {
	if !s.track {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		if _, ok := s.chunks[k]; ok {
			s.dirty[k] = struct{}{}
		}
	}
}

func (s *Store) DirtyCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dirty)
}

func (s *Store) LoadedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

type Stats struct {
	Loaded     int
	Dirty      int
	Missing    int
	Loads      uint64
	LoadErrors uint64
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	st := Stats{Loaded: len(s.chunks), Dirty: len(s.dirty), Missing: s.missing.Len()}
	s.mu.RUnlock()
	st.Loads = s.loads.Load()
	st.LoadErrors = s.loadErrs.Load()
	return st
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Key.CX != recs[j].Key.CX {
			return recs[i].Key.CX < recs[j].Key.CX
		}
		return recs[i].Key.CY < recs[j].Key.CY
	})
}
