package protocol

import (
	"encoding/json"

	"pixelcanvas.io/internal/sim/chunk"
	"pixelcanvas.io/internal/sim/overlay"
)

// ChunkPayload carries either a full grid or its RLE form.
type ChunkPayload struct {
	Data      *chunk.Grid `json:"data,omitempty"`
	RLE       string      `json:"rle,omitempty"`
	Protected bool        `json:"protected"`
}

type ChunkLoadedMsg struct {
	Type   string                  `json:"type"`
	Chunks map[string]ChunkPayload `json:"chunks"`
}

// BatchUpdateMsg carries updates in admission order.
type BatchUpdateMsg struct {
	Type    string            `json:"type"`
	Updates []json.RawMessage `json:"updates"`
}

type NewPixelUpdate struct {
	Type  string      `json:"type"`
	X     int         `json:"x"`
	Y     int         `json:"y"`
	Color chunk.Color `json:"color"`
}

type NewLineUpdate struct {
	Type string        `json:"type"`
	From overlay.Point `json:"from"`
	To   overlay.Point `json:"to"`
}

type NewTextUpdate struct {
	Type string  `json:"type"`
	Text string  `json:"text"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type ProtectionUpdate struct {
	Type  string `json:"type"`
	CX    int    `json:"cx"`
	CY    int    `json:"cy"`
	Value bool   `json:"value"`
}

type ChunkUpdate struct {
	Type  string       `json:"type"`
	CX    int          `json:"cx"`
	CY    int          `json:"cy"`
	Chunk ChunkPayload `json:"chunk"`
}

type LinesLoadedMsg struct {
	Type  string         `json:"type"`
	Lines []overlay.Line `json:"lines"`
}

type TextsLoadedMsg struct {
	Type  string         `json:"type"`
	Texts []overlay.Text `json:"texts"`
}

type NewRankMsg struct {
	Type        string   `json:"type"`
	Rank        int      `json:"rank"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// QuotaMsg is newPixelQuota or newLineQuota. Per is milliseconds.
type QuotaMsg struct {
	Type     string `json:"type"`
	Rate     int    `json:"rate"`
	Per      int    `json:"per"`
	Capacity int    `json:"capacity,omitempty"`
}

type TeleportMsg struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type ChatMsg struct {
	Type       string `json:"type"`
	PlayerID   uint64 `json:"player_id,omitempty"`
	Nickname   string `json:"nickname,omitempty"`
	RankID     int    `json:"rank_id"`
	ChatPrefix string `json:"chat_prefix,omitempty"`
	RevealID   bool   `json:"reveal_id,omitempty"`
	Text       string `json:"text"`
	System     bool   `json:"system,omitempty"`
}

type PlayerJoinMsg struct {
	Type   string     `json:"type"`
	Player PlayerInfo `json:"player"`
}

type PlayerLeftMsg struct {
	Type string `json:"type"`
	ID   uint64 `json:"id"`
}

type PlayerMovedMsg struct {
	Type string  `json:"type"`
	ID   uint64  `json:"id"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type PlayerUpdateMsg struct {
	Type     string      `json:"type"`
	ID       uint64      `json:"id"`
	Nickname string      `json:"nickname,omitempty"`
	Tool     int         `json:"tool"`
	Color    chunk.Color `json:"color"`
}
