package snapshot

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReadSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshots", FileName(1700000000123))

	px := make([]byte, 16*16*3)
	px[0], px[1], px[2] = 255, 0, 0
	in := SnapshotV1{
		Header:       Header{Version: Version, WorldID: "main", TakenAtUnixMs: 1700000000123},
		DefaultColor: [3]uint8{255, 255, 255},
		Chunks:       []ChunkV1{{CX: -1, CY: 2, Protected: true, Pixels: px}},
		Lines:        []LineV1{{From: [2]float64{0, 0}, To: [2]float64{10.5, -3}}},
		Texts:        []TextV1{{X: 4, Y: 5, Text: "hello"}},
	}
	if err := WriteSnapshot(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.WorldID != "main" || h.TakenAtUnixMs != 1700000000123 {
		t.Fatalf("unexpected header: %+v", h)
	}

	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(out.Chunks) != 1 || !out.Chunks[0].Protected || out.Chunks[0].CX != -1 || out.Chunks[0].Pixels[0] != 255 {
		t.Fatalf("unexpected chunks: %+v", out.Chunks)
	}
	if len(out.Lines) != 1 || out.Lines[0].To[0] != 10.5 {
		t.Fatalf("unexpected lines: %+v", out.Lines)
	}
	if len(out.Texts) != 1 || out.Texts[0].Text != "hello" {
		t.Fatalf("unexpected texts: %+v", out.Texts)
	}
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()
	if p, err := Latest(filepath.Join(dir, "missing")); err != nil || p != "" {
		t.Fatalf("missing dir: p=%q err=%v", p, err)
	}
	for _, ms := range []int64{5, 1000, 20} {
		snap := SnapshotV1{Header: Header{Version: Version, WorldID: "w", TakenAtUnixMs: ms}}
		if err := WriteSnapshot(filepath.Join(dir, FileName(ms)), snap); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	p, err := Latest(dir)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if filepath.Base(p) != FileName(1000) {
		t.Fatalf("latest=%s", p)
	}
}
