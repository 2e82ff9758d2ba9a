package log

import (
	"path/filepath"
	"testing"
	"time"

	"pixelcanvas.io/internal/sim/chunk"
	"pixelcanvas.io/internal/sim/chunkstore"
	"pixelcanvas.io/internal/sim/hooks"
	"pixelcanvas.io/internal/sim/overlay"
)

func TestWriterRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "audit")
	now := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	if err := w.Write(map[string]int{"n": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"n": 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := Files(dir, "audit")
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "audit-2026-03-01-10.jsonl.zst" {
		t.Fatalf("unexpected files: %v", files)
	}
	var lines int
	for _, f := range files {
		if err := ReadJSONL(f, func([]byte) error { lines++; return nil }); err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
	}
	if lines != 2 {
		t.Fatalf("expected 2 lines, got %d", lines)
	}
}

func TestAuditReplayReproducesState(t *testing.T) {
	dir := t.TempDir()
	al := NewAuditLogger(dir, nil)
	reg := hooks.NewRegistry()
	al.Register(reg)

	red := chunk.Color{255, 0, 0}
	g := chunk.Filled(chunk.Color{0, 255, 0})
	line := overlay.Line{From: overlay.Point{0, 0}, To: overlay.Point{3, 3}}
	text := overlay.Text{At: overlay.Point{1, 2}, Text: "note"}
	muts := []hooks.Mutation{
		{Kind: hooks.MutFill, Chunk: chunk.Key{CX: 1}, Color: red},
		{Kind: hooks.MutPixel, X: 17, Y: 0, Color: chunk.Color{0, 0, 255}},
		{Kind: hooks.MutChunkData, Chunk: chunk.Key{CX: -1, CY: -1}, Grid: &g},
		{Kind: hooks.MutProtection, Chunk: chunk.Key{CX: 1}, Protected: true},
		{Kind: hooks.MutPixel, X: 18, Y: 0, Color: red},
		{Kind: hooks.MutLine, Line: &line},
		{Kind: hooks.MutText, Text: &text},
	}
	live := chunkstore.New(chunkstore.Options{World: "main", Default: chunk.White})
	liveOv := overlay.New(false)
	for _, m := range muts {
		if err := Apply(live, liveOv, m); err != nil {
			t.Fatalf("apply live: %v", err)
		}
		reg.Post(m)
	}
	reg.Chat(hooks.ChatEvent{World: "main", Text: "hi"})
	if err := al.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := Files(filepath.Join(dir, "audit"), "audit")
	if err != nil || len(files) == 0 {
		t.Fatalf("audit files: %v %v", files, err)
	}
	replayed := chunkstore.New(chunkstore.Options{World: "main", Default: chunk.White})
	replayedOv := overlay.New(false)
	var n int
	err = ReadMutations(files, func(m hooks.Mutation) error {
		n++
		return Apply(replayed, replayedOv, m)
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if n != len(muts) {
		t.Fatalf("replayed %d entries, want %d", n, len(muts))
	}
	for _, k := range []chunk.Key{{CX: 1}, {CX: -1, CY: -1}} {
		if live.Chunk(k) != replayed.Chunk(k) {
			t.Fatalf("chunk %s differs after replay", k)
		}
	}
	if replayedOv.LineCount() != 1 {
		t.Fatalf("lines after replay: %d", replayedOv.LineCount())
	}
	if got, _ := replayedOv.Text(text.At); got != "note" {
		t.Fatalf("text after replay: %q", got)
	}

	chatFiles, _ := Files(filepath.Join(dir, "chat"), "chat")
	if len(chatFiles) != 1 {
		t.Fatalf("chat files: %v", chatFiles)
	}
}
