package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"pixelcanvas.io/internal/protocol"
	"pixelcanvas.io/internal/sim/multiworld"
	"pixelcanvas.io/internal/sim/world"
)

const (
	handshakeTimeout = 5 * time.Second
	readTimeout      = 60 * time.Second
	writeTimeout     = 5 * time.Second
	maxFrameBytes    = 1 << 20
)

type Server struct {
	worlds *multiworld.Registry
	log    *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(worlds *multiworld.Registry, logger *log.Logger) *Server {
	return &Server{
		worlds: worlds,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Handler serves /ws and /ws/{world}. The path segment wins over the world
// named in HELLO.
func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(maxFrameBytes)

		sess, rt := s.handshake(conn, mux.Vars(r)["world"])
		if sess == nil {
			return
		}
		w := rt.World

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine. Out is closed when the world drops the session.
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			defer cancel()
			for b := range sess.Out() {
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			}
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"), time.Now().Add(time.Second))
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			req, err := protocol.DecodeRequest(msg)
			if err != nil {
				w.RecordReject(protocol.ErrProtoBadRequest)
				continue
			}
			select {
			case w.Inbox() <- world.ActionEnvelope{SessionID: sess.ID, Req: req}:
			case <-ctx.Done():
			case <-rt.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}

		// Cleanup.
		select {
		case w.Leave() <- sess.ID:
		case <-rt.Done():
		}
		cancel()
		select {
		case <-writerDone:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn, pathWorld string) (*world.Session, *multiworld.Runtime) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return nil, nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, protocol.ErrProtoBadRequest)
		return nil, nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return nil, nil
	}

	worldID := strings.TrimSpace(pathWorld)
	if worldID == "" {
		worldID = strings.TrimSpace(hello.World)
	}
	resp, rt, err := s.worlds.Join(context.Background(), worldID, world.JoinRequest{
		Nickname:  strings.TrimSpace(hello.Nickname),
		Compact:   hello.Capabilities.CompactChunks,
		QueueSize: hello.Capabilities.MaxQueue,
	})
	switch {
	case errors.Is(err, multiworld.ErrWorldNotFound):
		closeWith(conn, websocket.ClosePolicyViolation, protocol.ErrWorldNotFound)
		return nil, nil
	case err != nil:
		s.logf("join failed world=%s err=%v", worldID, err)
		closeWith(conn, websocket.CloseTryAgainLater, protocol.ErrWorldBusy)
		return nil, nil
	}
	return resp.Session, rt
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
