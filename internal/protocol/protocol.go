package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

const Version = "1.0"

var ErrMalformed = errors.New("malformed request")

// Handshake.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
)

// Client requests.
const (
	TypeSetPixel     = "setPixel"
	TypeSetLine      = "setLine"
	TypeSetText      = "setText"
	TypeSetChunk     = "setChunk"
	TypeSetChunkData = "setChunkData"
	TypeProtect      = "protect"
	TypeLoadChunks   = "loadChunks"
	TypeLoadChunk    = "loadChunk"
	TypeLoadLines    = "loadLines"
	TypeLoadTexts    = "loadTexts"
	TypeSend         = "send"
	TypeMove         = "move"
	TypeSetTool      = "setTool"
)

// Server messages. Update types travel inside batchUpdate.
const (
	TypeChunkLoaded       = "chunkLoaded"
	TypeBatchUpdate       = "batchUpdate"
	TypeNewPixel          = "newPixel"
	TypeNewLine           = "newLine"
	TypeNewText           = "newText"
	TypeProtectionUpdated = "protectionUpdated"
	TypeChunkUpdated      = "chunkUpdated"
	TypeLinesLoaded       = "linesLoaded"
	TypeTextsLoaded       = "textsLoaded"
	TypeNewRank           = "newRank"
	TypeNewPixelQuota     = "newPixelQuota"
	TypeNewLineQuota      = "newLineQuota"
	TypeTeleport          = "teleport"
	TypeMessage           = "message"
	TypePlayerJoin        = "playerJoin"
	TypePlayerLeft        = "playerLeft"
	TypePlayerMoved       = "playerMoved"
	TypePlayerUpdate      = "playerUpdate"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// Request is implemented by every client request message.
type Request interface {
	Validate() error
}

// DecodeRequest decodes and validates one client frame. Unknown types and
// shape errors wrap ErrMalformed.
func DecodeRequest(b []byte) (Request, error) {
	base, err := DecodeBase(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var req Request
	switch base.Type {
	case TypeSetPixel:
		req = &SetPixelMsg{}
	case TypeSetLine:
		req = &SetLineMsg{}
	case TypeSetText:
		req = &SetTextMsg{}
	case TypeSetChunk:
		req = &SetChunkMsg{}
	case TypeSetChunkData:
		req = &SetChunkDataMsg{}
	case TypeProtect:
		req = &ProtectMsg{}
	case TypeLoadChunks:
		req = &LoadChunksMsg{}
	case TypeLoadChunk:
		req = &LoadChunkMsg{}
	case TypeLoadLines:
		req = &LoadLinesMsg{}
	case TypeLoadTexts:
		req = &LoadTextsMsg{}
	case TypeSend:
		req = &SendMsg{}
	case TypeMove:
		req = &MoveMsg{}
	case TypeSetTool:
		req = &SetToolMsg{}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, base.Type)
	}
	if err := json.Unmarshal(b, req); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, base.Type, err)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, base.Type, err)
	}
	return req, nil
}
