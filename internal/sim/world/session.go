package world

import (
	"sync"
	"sync/atomic"

	"pixelcanvas.io/internal/protocol"
	"pixelcanvas.io/internal/sim/chunk"
	"pixelcanvas.io/internal/sim/overlay"
)

type State int32

// Sessions exist only after the handshake, so they start Active.
const (
	StateActive State = iota
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Session is one connected client of a world. Fields below the mutex are
// owned by the world loop.
type Session struct {
	ID       string
	PlayerID uint64
	ReadOnly bool
	Compact  bool

	state atomic.Int32

	mu     sync.Mutex
	out    chan []byte
	closed bool

	nickname string
	rank     int
	pos      overlay.Point
	tool     int
	color    chunk.Color
}

func newSession(id string, player uint64, queue int) *Session {
	s := &Session{ID: id, PlayerID: player, out: make(chan []byte, queue)}
	s.state.Store(int32(StateActive))
	return s
}

// Out yields outgoing frames. It is closed when the world drops the session.
func (s *Session) Out() <-chan []byte { return s.out }

func (s *Session) State() State { return State(s.state.Load()) }

// send enqueues b without blocking. It reports false when the queue is full
// or the session is closed.
func (s *Session) send(b []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.out <- b:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.state.Store(int32(StateDisconnected))
	close(s.out)
}

func (s *Session) info() protocol.PlayerInfo {
	return protocol.PlayerInfo{
		ID:       s.PlayerID,
		Nickname: s.nickname,
		X:        s.pos[0],
		Y:        s.pos[1],
		Tool:     s.tool,
		Color:    s.color,
	}
}
