package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"pixelcanvas.io/internal/sim/chunk"
)

const cells = chunk.Size * chunk.Size

func pack(c chunk.Color) uint64 {
	return uint64(c[0])<<16 | uint64(c[1])<<8 | uint64(c[2])
}

func unpack(v uint64) chunk.Color {
	return chunk.Color{uint8(v >> 16), uint8(v >> 8), uint8(v)}
}

// EncodeGrid encodes a chunk grid into base64(varint pairs).
// Cells are visited x-major; pairs are (rgb24, run_len) repeated.
func EncodeGrid(g *chunk.Grid) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < cells {
		c := g[i/chunk.Size][i%chunk.Size]
		run := 1
		for j := i + 1; j < cells && g[j/chunk.Size][j%chunk.Size] == c; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], pack(c))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func DecodeGrid(b64 string) (chunk.Grid, error) {
	var g chunk.Grid
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return g, err
	}
	pos := 0
	for i := 0; i < len(raw); {
		v, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return g, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return g, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if v > 0xFFFFFF {
			return g, fmt.Errorf("color too large: %#x", v)
		}
		if run == 0 || run > uint64(cells-pos) {
			return g, fmt.Errorf("run %d overflows grid at cell %d", run, pos)
		}
		c := unpack(v)
		for k := 0; k < int(run); k++ {
			g[pos/chunk.Size][pos%chunk.Size] = c
			pos++
		}
	}
	if pos != cells {
		return g, fmt.Errorf("grid has %d cells want %d", pos, cells)
	}
	return g, nil
}
