package chunkstore

import (
	"context"
	"fmt"
	"sort"

	snapv1 "pixelcanvas.io/internal/persistence/snapshot"
	"pixelcanvas.io/internal/sim/chunk"
)

const pixelBytes = chunk.Size * chunk.Size * 3

// Export copies every in-memory chunk into snapshot form, sorted by key.
func (s *Store) Export() []snapv1.ChunkV1 {
	s.mu.RLock()
	recs := make([]Record, 0, len(s.chunks))
	for k, ch := range s.chunks {
		recs = append(recs, Record{Key: k, Chunk: *ch})
	}
	s.mu.RUnlock()
	sortRecords(recs)

	return toV1(recs)
}

// MergePersisted adds every chunk the loader holds that is absent from
// exported, typically the in-memory part of a snapshot. Entries already in
// exported win. Without an Enumerator loader exported is returned as is.
func (s *Store) MergePersisted(ctx context.Context, exported []snapv1.ChunkV1) ([]snapv1.ChunkV1, error) {
	en, ok := s.loader.(Enumerator)
	if !ok {
		return exported, nil
	}
	have := make(map[chunk.Key]struct{}, len(exported))
	for _, sc := range exported {
		have[chunk.Key{CX: sc.CX, CY: sc.CY}] = struct{}{}
	}
	out := append([]snapv1.ChunkV1(nil), exported...)
	err := en.EachChunk(ctx, s.world, func(k chunk.Key, c chunk.Chunk) error {
		if _, ok := have[k]; ok {
			return nil
		}
		out = append(out, snapv1.ChunkV1{CX: k.CX, CY: k.CY, Protected: c.Protected, Pixels: GridBytes(&c.Grid)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate persisted chunks world=%s: %w", s.world, err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CX != out[j].CX {
			return out[i].CX < out[j].CX
		}
		return out[i].CY < out[j].CY
	})
	return out, nil
}

func toV1(recs []Record) []snapv1.ChunkV1 {
	out := make([]snapv1.ChunkV1, 0, len(recs))
	for _, r := range recs {
		out = append(out, snapv1.ChunkV1{
			CX:        r.Key.CX,
			CY:        r.Key.CY,
			Protected: r.Chunk.Protected,
			Pixels:    GridBytes(&r.Chunk.Grid),
		})
	}
	return out
}

// Import replaces the in-memory contents with snapshot chunks. Imported
// chunks are marked dirty so a configured backend receives them.
func (s *Store) Import(chunks []snapv1.ChunkV1) error {
	next := make(map[chunk.Key]*chunk.Chunk, len(chunks))
	for _, sc := range chunks {
		g, err := GridFromBytes(sc.Pixels)
		if err != nil {
			return fmt.Errorf("snapshot chunk %d,%d: %w", sc.CX, sc.CY, err)
		}
		next[chunk.Key{CX: sc.CX, CY: sc.CY}] = &chunk.Chunk{Grid: g, Protected: sc.Protected}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = next
	s.missing.Purge()
	s.dirty = map[chunk.Key]struct{}{}
	for k := range next {
		s.markDirtyLocked(k)
	}
	return nil
}

func GridBytes(g *chunk.Grid) []byte {
	out := make([]byte, 0, pixelBytes)
	for x := 0; x < chunk.Size; x++ {
		for y := 0; y < chunk.Size; y++ {
			out = append(out, g[x][y][:]...)
		}
	}
	return out
}

func GridFromBytes(b []byte) (chunk.Grid, error) {
	var g chunk.Grid
	if len(b) != pixelBytes {
		return g, fmt.Errorf("pixel length mismatch: got %d want %d", len(b), pixelBytes)
	}
	i := 0
	for x := 0; x < chunk.Size; x++ {
		for y := 0; y < chunk.Size; y++ {
			copy(g[x][y][:], b[i:i+3])
			i += 3
		}
	}
	return g, nil
}
