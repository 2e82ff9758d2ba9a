package protocol

import (
	"fmt"
	"math"

	"pixelcanvas.io/internal/sim/chunk"
	"pixelcanvas.io/internal/sim/overlay"
)

// MaxCoord bounds pixel coordinates so flooring never overflows int.
const MaxCoord = 1 << 40

type HelloMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	World           string       `json:"world,omitempty"`
	Nickname        string       `json:"nickname,omitempty"`
	Capabilities    Capabilities `json:"capabilities"`
}

type Capabilities struct {
	CompactChunks bool `json:"compact_chunks,omitempty"`
	MaxQueue      int  `json:"max_queue,omitempty"`
}

type PlayerInfo struct {
	ID       uint64      `json:"id"`
	Nickname string      `json:"nickname,omitempty"`
	X        float64     `json:"x"`
	Y        float64     `json:"y"`
	Tool     int         `json:"tool"`
	Color    chunk.Color `json:"color"`
}

type WelcomeMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	SessionID       string       `json:"session_id"`
	PlayerID        uint64       `json:"player_id"`
	World           string       `json:"world"`
	ChunkSize       int          `json:"chunk_size"`
	FlushHz         int          `json:"flush_hz"`
	MaxLoadBatch    int          `json:"max_load_batch"`
	DefaultColor    chunk.Color  `json:"default_color"`
	ReadOnly        bool         `json:"read_only,omitempty"`
	Players         []PlayerInfo `json:"players"`
}

func checkCoord(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > MaxCoord {
		return fmt.Errorf("%s out of range", name)
	}
	return nil
}

func checkChunk(cx, cy int) error {
	if cx > MaxCoord/chunk.Size || cx < -MaxCoord/chunk.Size || cy > MaxCoord/chunk.Size || cy < -MaxCoord/chunk.Size {
		return fmt.Errorf("chunk out of range")
	}
	return nil
}

// FloorCoord floors a validated wire coordinate.
func FloorCoord(v float64) int {
	return int(math.Floor(v))
}

type SetPixelMsg struct {
	Type  string      `json:"type"`
	X     float64     `json:"x"`
	Y     float64     `json:"y"`
	Color chunk.Color `json:"color"`
}

func (m *SetPixelMsg) Validate() error {
	if err := checkCoord("x", m.X); err != nil {
		return err
	}
	return checkCoord("y", m.Y)
}

type SetLineMsg struct {
	Type string        `json:"type"`
	From overlay.Point `json:"from"`
	To   overlay.Point `json:"to"`
}

func (m *SetLineMsg) Validate() error {
	for _, v := range []float64{m.From[0], m.From[1], m.To[0], m.To[1]} {
		if err := checkCoord("line endpoint", v); err != nil {
			return err
		}
	}
	return nil
}

type SetTextMsg struct {
	Type string  `json:"type"`
	Text string  `json:"text"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

func (m *SetTextMsg) Validate() error {
	if err := checkCoord("x", m.X); err != nil {
		return err
	}
	return checkCoord("y", m.Y)
}

type SetChunkMsg struct {
	Type  string      `json:"type"`
	CX    int         `json:"cx"`
	CY    int         `json:"cy"`
	Color chunk.Color `json:"color"`
}

func (m *SetChunkMsg) Validate() error { return checkChunk(m.CX, m.CY) }

type SetChunkDataMsg struct {
	Type string          `json:"type"`
	CX   int             `json:"cx"`
	CY   int             `json:"cy"`
	Data [][]chunk.Color `json:"data"`

	grid chunk.Grid
}

func (m *SetChunkDataMsg) Validate() error {
	if err := checkChunk(m.CX, m.CY); err != nil {
		return err
	}
	g, err := chunk.FromRows(m.Data)
	if err != nil {
		return err
	}
	m.grid = g
	return nil
}

// Grid returns the validated grid.
func (m *SetChunkDataMsg) Grid() chunk.Grid { return m.grid }

type ProtectMsg struct {
	Type  string `json:"type"`
	CX    int    `json:"cx"`
	CY    int    `json:"cy"`
	Value bool   `json:"value"`
}

func (m *ProtectMsg) Validate() error { return checkChunk(m.CX, m.CY) }

// LoadChunksMsg requests a batch of chunks as [[cx,cy],...].
type LoadChunksMsg struct {
	Type string   `json:"type"`
	Keys [][2]int `json:"keys"`
}

func (m *LoadChunksMsg) Validate() error {
	if len(m.Keys) == 0 {
		return fmt.Errorf("no keys")
	}
	for _, k := range m.Keys {
		if err := checkChunk(k[0], k[1]); err != nil {
			return err
		}
	}
	return nil
}

// ChunkKeys returns the requested keys without duplicates, in request order.
func (m *LoadChunksMsg) ChunkKeys() []chunk.Key {
	seen := make(map[chunk.Key]struct{}, len(m.Keys))
	out := make([]chunk.Key, 0, len(m.Keys))
	for _, k := range m.Keys {
		key := chunk.Key{CX: k[0], CY: k[1]}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

type LoadChunkMsg struct {
	Type string `json:"type"`
	CX   int    `json:"cx"`
	CY   int    `json:"cy"`
}

func (m *LoadChunkMsg) Validate() error { return checkChunk(m.CX, m.CY) }

type LoadLinesMsg struct {
	Type string `json:"type"`
}

func (m *LoadLinesMsg) Validate() error { return nil }

type LoadTextsMsg struct {
	Type string `json:"type"`
}

func (m *LoadTextsMsg) Validate() error { return nil }

type SendMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (m *SendMsg) Validate() error { return nil }

type MoveMsg struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

func (m *MoveMsg) Validate() error {
	if err := checkCoord("x", m.X); err != nil {
		return err
	}
	return checkCoord("y", m.Y)
}

type SetToolMsg struct {
	Type string `json:"type"`
	Tool int    `json:"tool"`
}

func (m *SetToolMsg) Validate() error {
	if m.Tool < 0 || m.Tool > 255 {
		return fmt.Errorf("tool out of range")
	}
	return nil
}
