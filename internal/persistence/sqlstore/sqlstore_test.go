package sqlstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pixelcanvas.io/internal/persistence/snapshot"
	"pixelcanvas.io/internal/sim/chunk"
	"pixelcanvas.io/internal/sim/chunkstore"
	"pixelcanvas.io/internal/sim/overlay"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "canvas.sqlite"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func exerciseStore(t *testing.T, s *Store, world string) {
	t.Helper()
	ctx := context.Background()

	k := chunk.Key{CX: -2, CY: 5}
	if _, ok, err := s.LoadChunk(ctx, world, k); err != nil || ok {
		t.Fatalf("empty load: ok=%v err=%v", ok, err)
	}
	g := chunk.Filled(chunk.White)
	g[3][4] = chunk.Color{1, 2, 3}
	recs := []chunkstore.Record{{Key: k, Chunk: chunk.Chunk{Grid: g, Protected: true}}}
	if err := s.SaveChunks(ctx, world, recs); err != nil {
		t.Fatalf("save chunks: %v", err)
	}
	got, ok, err := s.LoadChunk(ctx, world, k)
	if err != nil || !ok {
		t.Fatalf("load chunk: ok=%v err=%v", ok, err)
	}
	if got.Grid != g || !got.Protected {
		t.Fatalf("chunk round trip mismatch")
	}

	// Upsert replaces.
	recs[0].Chunk.Protected = false
	if err := s.SaveChunks(ctx, world, recs); err != nil {
		t.Fatalf("resave: %v", err)
	}
	if got, _, _ := s.LoadChunk(ctx, world, k); got.Protected {
		t.Fatalf("protection not updated")
	}
	if n, err := s.ChunkCount(ctx, world); err != nil || n != 1 {
		t.Fatalf("chunk count: %d %v", n, err)
	}

	lines := []overlay.Line{
		{From: overlay.Point{0, 0}, To: overlay.Point{1.5, 2}},
		{From: overlay.Point{-3, 4}, To: overlay.Point{5, -6}},
	}
	if err := s.AppendLines(ctx, world, lines[:1]); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendLines(ctx, world, lines[1:]); err != nil {
		t.Fatalf("append: %v", err)
	}
	gotLines, err := s.LoadLines(ctx, world)
	if err != nil {
		t.Fatalf("load lines: %v", err)
	}
	if len(gotLines) != 2 || gotLines[0] != lines[0] || gotLines[1] != lines[1] {
		t.Fatalf("lines out of order: %+v", gotLines)
	}

	texts := []overlay.Text{
		{At: overlay.Point{1, 1}, Text: "hello"},
		{At: overlay.Point{2, 0}, Text: "top"},
	}
	if err := s.SaveTexts(ctx, world, texts); err != nil {
		t.Fatalf("save texts: %v", err)
	}
	if err := s.SaveTexts(ctx, world, []overlay.Text{{At: overlay.Point{1, 1}}}); err != nil {
		t.Fatalf("delete text: %v", err)
	}
	gotTexts, err := s.LoadTexts(ctx, world)
	if err != nil {
		t.Fatalf("load texts: %v", err)
	}
	if len(gotTexts) != 1 || gotTexts[0].Text != "top" {
		t.Fatalf("texts: %+v", gotTexts)
	}

	snap := snapshot.SnapshotV1{Header: snapshot.Header{Version: snapshot.Version, WorldID: world, TakenAtUnixMs: time.Now().UnixMilli()}}
	if err := s.RecordSnapshot(ctx, "/tmp/x.snap.zst", snap); err != nil {
		t.Fatalf("record snapshot: %v", err)
	}
	rows, err := s.Snapshots(ctx, world, 10)
	if err != nil || len(rows) != 1 || rows[0].Path != "/tmp/x.snap.zst" {
		t.Fatalf("snapshots: %+v %v", rows, err)
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := openTemp(t)
	exerciseStore(t, s, "main")

	worlds, err := s.Worlds(context.Background())
	if err != nil {
		t.Fatalf("worlds: %v", err)
	}
	if len(worlds) != 1 || worlds[0].World != "main" || worlds[0].Chunks != 1 || worlds[0].Lines != 2 || worlds[0].Texts != 1 {
		t.Fatalf("world summary: %+v", worlds)
	}
}

func TestWorldsAreIsolated(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	k := chunk.Key{}
	recs := []chunkstore.Record{{Key: k, Chunk: chunk.Chunk{Grid: chunk.Filled(chunk.Color{9, 9, 9})}}}
	if err := s.SaveChunks(ctx, "a", recs); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok, _ := s.LoadChunk(ctx, "b", k); ok {
		t.Fatalf("chunk leaked across worlds")
	}
}

func TestLoaderFeedsChunkstore(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	saved := chunk.Filled(chunk.Color{0, 0, 255})
	if err := s.SaveChunks(ctx, "main", []chunkstore.Record{{Key: chunk.Key{CX: 1}, Chunk: chunk.Chunk{Grid: saved}}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	st := chunkstore.New(chunkstore.Options{World: "main", Default: chunk.White, Loader: s})
	if got := st.GetPixel(16, 0); got != (chunk.Color{0, 0, 255}) {
		t.Fatalf("lazy load through sqlstore: %v", got)
	}
	if got := st.GetPixel(0, 0); got != chunk.White {
		t.Fatalf("absent chunk should be default: %v", got)
	}
}

func TestEachChunkListsWorld(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	var _ chunkstore.Enumerator = s
	red := chunk.Filled(chunk.Color{255, 0, 0})
	recs := []chunkstore.Record{
		{Key: chunk.Key{CX: 2, CY: 1}, Chunk: chunk.Chunk{Grid: red}},
		{Key: chunk.Key{CX: -1, CY: 0}, Chunk: chunk.Chunk{Grid: red, Protected: true}},
	}
	if err := s.SaveChunks(ctx, "main", recs); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveChunks(ctx, "other", recs[:1]); err != nil {
		t.Fatalf("save other: %v", err)
	}
	var keys []chunk.Key
	err := s.EachChunk(ctx, "main", func(k chunk.Key, c chunk.Chunk) error {
		if c.Grid != red {
			t.Fatalf("grid mismatch at %s", k)
		}
		if k.CX == -1 && !c.Protected {
			t.Fatalf("protection lost at %s", k)
		}
		keys = append(keys, k)
		return nil
	})
	if err != nil {
		t.Fatalf("each chunk: %v", err)
	}
	if len(keys) != 2 || keys[0] != (chunk.Key{CX: -1}) || keys[1] != (chunk.Key{CX: 2, CY: 1}) {
		t.Fatalf("keys: %v", keys)
	}
	stop := errors.New("stop")
	if err := s.EachChunk(ctx, "main", func(chunk.Key, chunk.Chunk) error { return stop }); !errors.Is(err, stop) {
		t.Fatalf("callback error not returned: %v", err)
	}
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "c.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.Close()
	_, _, err = s.LoadChunk(context.Background(), "main", chunk.Key{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRebind(t *testing.T) {
	s := &Store{dialect: Postgres}
	if got := s.rebind("a=? AND b=?"); got != "a=$1 AND b=$2" {
		t.Fatalf("rebind: %q", got)
	}
	s.dialect = SQLite
	if got := s.rebind("a=?"); got != "a=?" {
		t.Fatalf("sqlite rebind: %q", got)
	}
}

func TestPostgresRoundTrip(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("CANVAS_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("CANVAS_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	s, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer s.Close()
	world := "test_" + time.Now().Format("150405.000000")
	exerciseStore(t, s, world)
}
