package observerproto

import "pixelcanvas.io/internal/sim/chunk"

// Version is the observer protocol version (separate from the player WS protocol).
const Version = "0.1"

// Client -> Server. First message on the observer WS connection.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	World           string `json:"world,omitempty"`
	CompactChunks   bool   `json:"compact_chunks,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	DefaultWorldID  string      `json:"default_world_id"`
	ChunkSize       int         `json:"chunk_size"`
	Worlds          []WorldInfo `json:"worlds"`
}

type WorldInfo struct {
	ID           string      `json:"id"`
	ReadOnly     bool        `json:"read_only"`
	Dynamic      bool        `json:"dynamic"`
	Running      bool        `json:"running"`
	FlushHz      int         `json:"flush_hz,omitempty"`
	DefaultColor chunk.Color `json:"default_color"`
	Sessions     int64       `json:"sessions"`
	LoadedChunks int         `json:"loaded_chunks"`
	Lines        int         `json:"lines"`
}
