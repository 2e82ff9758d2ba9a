// Package observer serves loopback-only spectator connections. Spectators
// receive the same update stream as players but can only issue load requests.
package observer

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pixelcanvas.io/internal/observerproto"
	"pixelcanvas.io/internal/protocol"
	"pixelcanvas.io/internal/sim/chunk"
	"pixelcanvas.io/internal/sim/multiworld"
	"pixelcanvas.io/internal/sim/world"
)

const spectatorNickname = "spectator"

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

// Bootstrap describes every known world. Worlds that have not started yet
// report their configured defaults.
func (s *Server) Bootstrap() observerproto.BootstrapResponse {
	cfg := s.worlds.Config()
	resp := observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		DefaultWorldID:  s.worlds.DefaultID(),
		ChunkSize:       chunk.Size,
	}
	for _, id := range s.worlds.WorldIDs() {
		info := observerproto.WorldInfo{ID: id, DefaultColor: chunk.White}
		spec, configured := cfg.WorldSpecByID(id)
		info.Dynamic = !configured
		info.ReadOnly = spec.ReadOnly
		if spec.DefaultColor != nil {
			info.DefaultColor = chunk.Color(*spec.DefaultColor)
		}
		if rt := s.worlds.Lookup(id); rt != nil {
			wc := rt.World.Config()
			st := rt.World.Stats()
			info.Running = true
			info.ReadOnly = wc.ReadOnly
			info.FlushHz = wc.FlushHz
			info.DefaultColor = wc.DefaultColor
			info.Sessions = st.Sessions
			info.LoadedChunks = st.LoadedChunks
			info.Lines = st.Lines
		}
		resp.Worlds = append(resp.Worlds, info)
	}
	return resp
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.Bootstrap())
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			closeWith(conn, websocket.ClosePolicyViolation, "bad subscribe")
			return
		}
		if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
			closeWith(conn, websocket.ClosePolicyViolation, "expected SUBSCRIBE")
			return
		}

		resp, rt, err := s.worlds.Join(r.Context(), strings.TrimSpace(sub.World), world.JoinRequest{
			Nickname: spectatorNickname,
			ReadOnly: true,
			Compact:  sub.CompactChunks,
		})
		switch {
		case errors.Is(err, multiworld.ErrWorldNotFound):
			closeWith(conn, websocket.ClosePolicyViolation, protocol.ErrWorldNotFound)
			return
		case err != nil:
			closeWith(conn, websocket.CloseTryAgainLater, "server busy")
			return
		}
		sess := resp.Session
		w := rt.World

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for b := range sess.Out() {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					cancel()
					writeErr <- err
					return
				}
			}
			cancel()
			writeErr <- nil
		}()

		// Reader loop: only load requests reach the world.
		for ctx.Err() == nil {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			req, err := protocol.DecodeRequest(msg)
			if err != nil || !isLoadRequest(req) {
				continue
			}
			select {
			case w.Inbox() <- world.ActionEnvelope{SessionID: sess.ID, Req: req}:
			case <-ctx.Done():
			case <-rt.Done():
			}
		}

		select {
		case w.Leave() <- sess.ID:
		case <-rt.Done():
		}
		cancel()
		closeWith(conn, websocket.CloseNormalClosure, "bye")

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func isLoadRequest(req protocol.Request) bool {
	switch req.(type) {
	case *protocol.LoadChunksMsg, *protocol.LoadChunkMsg, *protocol.LoadLinesMsg, *protocol.LoadTextsMsg:
		return true
	}
	return false
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

// IsLoopbackRemote reports whether an http.Request.RemoteAddr is a loopback address.
func IsLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
