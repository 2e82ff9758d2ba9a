package protocol

import (
	"errors"
	"testing"

	"pixelcanvas.io/internal/sim/chunk"
)

func TestDecodeRequestSetPixel(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"type":"setPixel","x":-0.5,"y":5.9,"color":[255,0,0]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	m, ok := req.(*SetPixelMsg)
	if !ok {
		t.Fatalf("got %T", req)
	}
	if FloorCoord(m.X) != -1 || FloorCoord(m.Y) != 5 {
		t.Fatalf("floored to %d,%d", FloorCoord(m.X), FloorCoord(m.Y))
	}
	if m.Color != (chunk.Color{255, 0, 0}) {
		t.Fatalf("color=%v", m.Color)
	}
}

func TestDecodeRequestMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"type":"nope"}`,
		`{"type":"setPixel","x":"five","y":1,"color":[0,0,0]}`,
		`{"type":"setPixel","x":1e300,"y":1,"color":[0,0,0]}`,
		`{"type":"setPixel","x":1,"y":1,"color":[256,0,0]}`,
		`{"type":"setChunk","cx":1.5,"cy":0,"color":[0,0,0]}`,
		`{"type":"setChunkData","cx":0,"cy":0,"data":[[[0,0,0]]]}`,
		`{"type":"loadChunks","keys":[]}`,
		`{"type":"loadChunks","keys":[["a",1]]}`,
		`{"type":"setTool","tool":-1}`,
	}
	for _, c := range cases {
		_, err := DecodeRequest([]byte(c))
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", c, err)
		}
	}
}

func TestLoadChunksDedupes(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"type":"loadChunks","keys":[[0,0],[1,-1],[0,0]]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	keys := req.(*LoadChunksMsg).ChunkKeys()
	if len(keys) != 2 || keys[0] != (chunk.Key{}) || keys[1] != (chunk.Key{CX: 1, CY: -1}) {
		t.Fatalf("keys=%v", keys)
	}
}

func TestSetChunkDataGrid(t *testing.T) {
	rows := "["
	for x := 0; x < chunk.Size; x++ {
		if x > 0 {
			rows += ","
		}
		rows += "["
		for y := 0; y < chunk.Size; y++ {
			if y > 0 {
				rows += ","
			}
			if x == 2 && y == 3 {
				rows += "[9,8,7]"
			} else {
				rows += "[0,0,0]"
			}
		}
		rows += "]"
	}
	rows += "]"
	req, err := DecodeRequest([]byte(`{"type":"setChunkData","cx":-1,"cy":0,"data":` + rows + `}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	g := req.(*SetChunkDataMsg).Grid()
	if g[2][3] != (chunk.Color{9, 8, 7}) {
		t.Fatalf("grid cell=%v", g[2][3])
	}
}
