package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"pixelcanvas.io/internal/auth"
	"pixelcanvas.io/internal/protocol"
	"pixelcanvas.io/internal/sim/chunk"
	"pixelcanvas.io/internal/sim/multiworld"
	"pixelcanvas.io/internal/sim/permissions"
	"pixelcanvas.io/internal/sim/world"
)

func loadRanks(t *testing.T) *permissions.Table {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("repo root not found")
		}
		dir = parent
	}
	ranks, err := permissions.Load(filepath.Join(dir, "configs", "ranks.yaml"))
	if err != nil {
		t.Fatalf("load ranks: %v", err)
	}
	return ranks
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ranks := loadRanks(t)
	cfg := multiworld.Config{DefaultWorldID: "main", Worlds: []multiworld.WorldSpec{{ID: "main"}}}
	build := func(_ context.Context, spec multiworld.WorldSpec) (multiworld.Instance, error) {
		w, err := world.New(world.Config{ID: spec.ID, DefaultColor: chunk.White, FlushHz: 50}, world.Deps{
			Ranks: ranks,
			Auth:  auth.NewMemoryResolver(ranks),
		})
		return multiworld.Instance{World: w}, err
	}
	reg, err := multiworld.NewRegistry(cfg, build, multiworld.RegistryOptions{})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	r := mux.NewRouter()
	srv := NewServer(reg, nil)
	r.HandleFunc("/ws", srv.Handler())
	r.HandleFunc("/ws/{world}", srv.Handler())
	ts := httptest.NewServer(r)
	t.Cleanup(func() {
		ts.Close()
		reg.Close()
	})
	return ts
}

func dial(t *testing.T, ts *httptest.Server, path string, hello protocol.HelloMsg) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	hello.Type = protocol.TypeHello
	if hello.ProtocolVersion == "" {
		hello.ProtocolVersion = protocol.Version
	}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	return conn
}

func readType(t *testing.T, conn *websocket.Conn, typ string) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read waiting for %s: %v", typ, err)
		}
		base, err := protocol.DecodeBase(b)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if base.Type == typ {
			return b
		}
	}
}

func TestPixelRoundTripBetweenClients(t *testing.T) {
	ts := newTestServer(t)

	a := dial(t, ts, "/ws/main", protocol.HelloMsg{Nickname: "a"})
	readType(t, a, protocol.TypeWelcome)
	b := dial(t, ts, "/ws", protocol.HelloMsg{Nickname: "b"})
	var welcome protocol.WelcomeMsg
	if err := json.Unmarshal(readType(t, b, protocol.TypeWelcome), &welcome); err != nil {
		t.Fatalf("decode welcome: %v", err)
	}
	if welcome.World != "main" {
		t.Fatalf("welcome world = %q, want main", welcome.World)
	}

	if err := a.WriteJSON(protocol.SetPixelMsg{Type: protocol.TypeSetPixel, X: 5, Y: 5, Color: chunk.Color{255, 0, 0}}); err != nil {
		t.Fatalf("write setPixel: %v", err)
	}

	var got *protocol.NewPixelUpdate
	for got == nil {
		var batch protocol.BatchUpdateMsg
		if err := json.Unmarshal(readType(t, b, protocol.TypeBatchUpdate), &batch); err != nil {
			t.Fatalf("decode batch: %v", err)
		}
		for _, raw := range batch.Updates {
			var u protocol.NewPixelUpdate
			if err := json.Unmarshal(raw, &u); err == nil && u.Type == protocol.TypeNewPixel {
				got = &u
				break
			}
		}
	}
	if got.X != 5 || got.Y != 5 || got.Color != (chunk.Color{255, 0, 0}) {
		t.Fatalf("newPixel = %+v", *got)
	}

	if err := b.WriteJSON(protocol.LoadChunkMsg{Type: protocol.TypeLoadChunk, CX: 0, CY: 0}); err != nil {
		t.Fatalf("write loadChunk: %v", err)
	}
	var loaded protocol.ChunkLoadedMsg
	if err := json.Unmarshal(readType(t, b, protocol.TypeChunkLoaded), &loaded); err != nil {
		t.Fatalf("decode chunkLoaded: %v", err)
	}
	p, ok := loaded.Chunks["0,0"]
	if !ok || p.Data == nil {
		t.Fatalf("chunk 0,0 missing: %+v", loaded)
	}
	if p.Data[5][5] != (chunk.Color{255, 0, 0}) {
		t.Fatalf("cell 5,5 = %v, want red", p.Data[5][5])
	}
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	ts := newTestServer(t)
	a := dial(t, ts, "/ws", protocol.HelloMsg{})
	readType(t, a, protocol.TypeWelcome)

	if err := a.WriteMessage(websocket.TextMessage, []byte(`{"type":"nope"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := a.WriteJSON(protocol.LoadChunkMsg{Type: protocol.TypeLoadChunk, CX: 3, CY: -2}); err != nil {
		t.Fatalf("write loadChunk: %v", err)
	}
	var loaded protocol.ChunkLoadedMsg
	if err := json.Unmarshal(readType(t, a, protocol.TypeChunkLoaded), &loaded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := loaded.Chunks["3,-2"]; !ok {
		t.Fatalf("chunk 3,-2 missing")
	}
}

func TestHandshakeRejections(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name  string
		path  string
		hello protocol.HelloMsg
	}{
		{name: "bad version", path: "/ws", hello: protocol.HelloMsg{ProtocolVersion: "0.0"}},
		{name: "bad world", path: "/ws/bad%20world", hello: protocol.HelloMsg{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := dial(t, ts, tc.path, tc.hello)
			_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
			_, _, err := conn.ReadMessage()
			if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				t.Fatalf("err = %v, want policy violation close", err)
			}
		})
	}
}
