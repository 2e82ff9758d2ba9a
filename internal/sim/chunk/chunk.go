package chunk

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is the edge length of a chunk in pixels.
const Size = 16

// Color is an RGB triple. It encodes as a JSON array [r,g,b].
type Color [3]uint8

var White = Color{255, 255, 255}

// Grid is indexed [x][y] in local chunk coordinates.
type Grid [Size][Size]Color

type Key struct {
	CX int `json:"cx"`
	CY int `json:"cy"`
}

func (k Key) String() string {
	return strconv.Itoa(k.CX) + "," + strconv.Itoa(k.CY)
}

// ParseKey parses the "cx,cy" form produced by Key.String.
func ParseKey(s string) (Key, error) {
	a, b, ok := strings.Cut(s, ",")
	if !ok {
		return Key{}, fmt.Errorf("chunk key %q: missing comma", s)
	}
	cx, err := strconv.Atoi(strings.TrimSpace(a))
	if err != nil {
		return Key{}, fmt.Errorf("chunk key %q: %w", s, err)
	}
	cy, err := strconv.Atoi(strings.TrimSpace(b))
	if err != nil {
		return Key{}, fmt.Errorf("chunk key %q: %w", s, err)
	}
	return Key{CX: cx, CY: cy}, nil
}

// KeyOf returns the chunk holding pixel (x, y).
func KeyOf(x, y int) Key {
	return Key{CX: FloorDiv(x, Size), CY: FloorDiv(y, Size)}
}

// Local returns the in-chunk offset of pixel (x, y). Both results are in [0, Size).
func Local(x, y int) (int, int) {
	return Mod(x, Size), Mod(y, Size)
}

// Origin returns the world pixel coordinate of the chunk's (0,0) cell.
func (k Key) Origin() (int, int) {
	return k.CX * Size, k.CY * Size
}

func FloorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func Mod(a, b int) int {
	// b > 0
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// Filled returns a grid with every cell set to c.
func Filled(c Color) Grid {
	var g Grid
	for x := 0; x < Size; x++ {
		for y := 0; y < Size; y++ {
			g[x][y] = c
		}
	}
	return g
}

// Uniform reports whether every cell of g equals c.
func (g Grid) Uniform(c Color) bool {
	for x := 0; x < Size; x++ {
		for y := 0; y < Size; y++ {
			if g[x][y] != c {
				return false
			}
		}
	}
	return true
}

// Chunk is a grid plus its protection flag.
type Chunk struct {
	Grid      Grid
	Protected bool
}

// FromRows converts a decoded [][]Color (as received on the wire) into a Grid.
// Shapes other than Size x Size are rejected.
func FromRows(rows [][]Color) (Grid, error) {
	var g Grid
	if len(rows) != Size {
		return g, fmt.Errorf("chunk data: got %d columns want %d", len(rows), Size)
	}
	for x, col := range rows {
		if len(col) != Size {
			return g, fmt.Errorf("chunk data: column %d has %d cells want %d", x, len(col), Size)
		}
		copy(g[x][:], col)
	}
	return g, nil
}
