package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pixelcanvas.io/internal/protocol"
	"pixelcanvas.io/internal/sim/chunk"
	"pixelcanvas.io/internal/sim/encoding"
	"pixelcanvas.io/internal/sim/overlay"
	"pixelcanvas.io/internal/sim/permissions"
	"pixelcanvas.io/internal/sim/quota"
)

var (
	ErrClosed        = errors.New("connection closed")
	ErrNotPermitted  = errors.New("not permitted by current rank")
	ErrLocalQuota    = errors.New("local quota exhausted")
	handshakeTimeout = 5 * time.Second
)

type Options struct {
	World    string
	Nickname string
	Compact  bool
	MaxQueue int
	// Logins are quick-auth credentials sent as "/<key> <secret>" once the
	// session is active.
	Logins map[string]string

	LoadInterval time.Duration
	MaxLoadBatch int

	OnChat     func(protocol.ChatMsg)
	OnTeleport func(x, y float64)
	Logger     *log.Logger
}

// Conn is one sync session. Server messages are applied by a single reader
// goroutine; all methods are safe for concurrent use.
type Conn struct {
	ws      *websocket.Conn
	opts    Options
	welcome protocol.WelcomeMsg
	cache   *Cache
	queue   *LoadQueue

	writeMu sync.Mutex

	mu         sync.RWMutex
	rank       protocol.NewRankMsg
	pixelQuota *quota.Bucket
	lineQuota  *quota.Bucket
	lines      []overlay.Line
	texts      map[overlay.Point]string
	players    map[uint64]protocol.PlayerInfo
	camera     Camera

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Dial connects to url, performs the HELLO/WELCOME handshake and starts the
// reader and load queue goroutines.
func Dial(ctx context.Context, url string, opts Options) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Conn{
		ws:         ws,
		opts:       opts,
		cache:      NewCache(),
		pixelQuota: quota.NewBucket(quota.Params{}),
		lineQuota:  quota.NewBucket(quota.Params{}),
		texts:      map[overlay.Point]string{},
		players:    map[uint64]protocol.PlayerInfo{},
		done:       make(chan struct{}),
	}
	if err := c.handshake(); err != nil {
		_ = ws.Close()
		return nil, err
	}
	c.queue = NewLoadQueue(loadBatch(opts.MaxLoadBatch, c.welcome.MaxLoadBatch))

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.readLoop()
	go func() {
		err := c.queue.Run(runCtx, opts.LoadInterval, c.sendLoad)
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logf("load queue stopped: %v", err)
		}
	}()

	for _, key := range sortedKeys(opts.Logins) {
		if err := c.Send("/" + key + " " + opts.Logins[key]); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

func (c *Conn) handshake() error {
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		World:           c.opts.World,
		Nickname:        c.opts.Nickname,
		Capabilities: protocol.Capabilities{
			CompactChunks: c.opts.Compact,
			MaxQueue:      c.opts.MaxQueue,
		},
	}
	if err := c.ws.WriteJSON(hello); err != nil {
		return fmt.Errorf("send HELLO: %w", err)
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := c.ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("read WELCOME: %w", err)
	}
	_ = c.ws.SetReadDeadline(time.Time{})
	if err := json.Unmarshal(msg, &c.welcome); err != nil {
		return fmt.Errorf("decode WELCOME: %w", err)
	}
	if c.welcome.Type != protocol.TypeWelcome {
		return fmt.Errorf("expected WELCOME, got %q", c.welcome.Type)
	}
	for _, p := range c.welcome.Players {
		c.players[p.ID] = p
	}
	return nil
}

func (c *Conn) Welcome() protocol.WelcomeMsg { return c.welcome }
func (c *Conn) Cache() *Cache                { return c.cache }

// Done is closed when the session is disconnected.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the session ended. Valid after Done is closed.
func (c *Conn) Err() error {
	<-c.done
	return c.err
}

func (c *Conn) Close() error {
	c.cancel()
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.ws.Close()
	<-c.done
	return err
}

func (c *Conn) readLoop() {
	defer close(c.done)
	defer c.cancel()
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			c.err = err
			return
		}
		if err := c.apply(msg); err != nil {
			c.logf("apply: %v", err)
		}
	}
}

func (c *Conn) apply(msg []byte) error {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return err
	}
	switch base.Type {
	case protocol.TypeChunkLoaded:
		var m protocol.ChunkLoadedMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		for key, p := range m.Chunks {
			k, err := chunk.ParseKey(key)
			if err != nil {
				return err
			}
			g, err := payloadGrid(p)
			if err != nil {
				return fmt.Errorf("chunk %s: %w", key, err)
			}
			c.cache.Put(k, g, p.Protected)
		}
	case protocol.TypeBatchUpdate:
		var m protocol.BatchUpdateMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		for _, raw := range m.Updates {
			if err := c.apply(raw); err != nil {
				return err
			}
		}
	case protocol.TypeNewPixel:
		var m protocol.NewPixelUpdate
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		c.cache.SetPixel(m.X, m.Y, m.Color)
	case protocol.TypeChunkUpdated:
		var m protocol.ChunkUpdate
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		g, err := payloadGrid(m.Chunk)
		if err != nil {
			return err
		}
		c.cache.SetGrid(chunk.Key{CX: m.CX, CY: m.CY}, g)
	case protocol.TypeProtectionUpdated:
		var m protocol.ProtectionUpdate
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		c.cache.SetProtected(chunk.Key{CX: m.CX, CY: m.CY}, m.Value)
	case protocol.TypeNewLine:
		var m protocol.NewLineUpdate
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		c.mu.Lock()
		c.lines = append(c.lines, overlay.Line{From: m.From, To: m.To})
		c.mu.Unlock()
	case protocol.TypeNewText:
		var m protocol.NewTextUpdate
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		c.setText(overlay.Point{m.X, m.Y}, m.Text)
	case protocol.TypeLinesLoaded:
		var m protocol.LinesLoadedMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		c.mu.Lock()
		c.lines = m.Lines
		c.mu.Unlock()
	case protocol.TypeTextsLoaded:
		var m protocol.TextsLoadedMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		c.mu.Lock()
		c.texts = make(map[overlay.Point]string, len(m.Texts))
		for _, t := range m.Texts {
			c.texts[t.At] = t.Text
		}
		c.mu.Unlock()
	case protocol.TypeNewRank:
		var m protocol.NewRankMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		c.mu.Lock()
		c.rank = m
		c.mu.Unlock()
	case protocol.TypeNewPixelQuota, protocol.TypeNewLineQuota:
		var m protocol.QuotaMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		// A new bucket replaces the old one; accumulated tokens are lost.
		b := quota.NewBucket(quota.Params{Rate: m.Rate, Period: time.Duration(m.Per) * time.Millisecond, Capacity: m.Capacity})
		c.mu.Lock()
		if base.Type == protocol.TypeNewPixelQuota {
			c.pixelQuota = b
		} else {
			c.lineQuota = b
		}
		c.mu.Unlock()
	case protocol.TypeTeleport:
		var m protocol.TeleportMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		if c.opts.OnTeleport != nil {
			c.opts.OnTeleport(m.X, m.Y)
		}
	case protocol.TypeMessage:
		var m protocol.ChatMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		if c.opts.OnChat != nil {
			c.opts.OnChat(m)
		}
	case protocol.TypePlayerJoin:
		var m protocol.PlayerJoinMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		c.mu.Lock()
		c.players[m.Player.ID] = m.Player
		c.mu.Unlock()
	case protocol.TypePlayerLeft:
		var m protocol.PlayerLeftMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		c.mu.Lock()
		delete(c.players, m.ID)
		c.mu.Unlock()
	case protocol.TypePlayerMoved:
		var m protocol.PlayerMovedMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		c.mu.Lock()
		p := c.players[m.ID]
		p.ID, p.X, p.Y = m.ID, m.X, m.Y
		c.players[m.ID] = p
		c.mu.Unlock()
	case protocol.TypePlayerUpdate:
		var m protocol.PlayerUpdateMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		c.mu.Lock()
		p := c.players[m.ID]
		p.ID, p.Tool, p.Color = m.ID, m.Tool, m.Color
		if m.Nickname != "" {
			p.Nickname = m.Nickname
		}
		c.players[m.ID] = p
		c.mu.Unlock()
	}
	return nil
}

func payloadGrid(p protocol.ChunkPayload) (chunk.Grid, error) {
	if p.Data != nil {
		return *p.Data, nil
	}
	if p.RLE != "" {
		return encoding.DecodeGrid(p.RLE)
	}
	return chunk.Grid{}, fmt.Errorf("empty chunk payload")
}

func (c *Conn) setText(p overlay.Point, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if text == "" {
		delete(c.texts, p)
		return
	}
	c.texts[p] = text
}

// SetCamera recomputes the visible rect, evicts per the cache rule and queues
// loads for visible chunks not yet cached.
func (c *Conn) SetCamera(cam Camera) Rect {
	c.mu.Lock()
	c.camera = cam
	c.mu.Unlock()
	r := VisibleRect(cam)
	keys, _ := c.cache.Update(r)
	c.queue.Add(keys...)
	return r
}

func (c *Conn) sendLoad(keys []chunk.Key) error {
	msg := protocol.LoadChunksMsg{Type: protocol.TypeLoadChunks, Keys: make([][2]int, len(keys))}
	for i, k := range keys {
		msg.Keys[i] = [2]int{k.CX, k.CY}
	}
	if err := c.write(msg); err != nil {
		c.cache.Forget(keys...)
		return err
	}
	return nil
}

// SetPixel sends a pixel if the local bucket allows it. The cache changes
// only when the server echoes the update back.
func (c *Conn) SetPixel(x, y float64, col chunk.Color) error {
	if !c.take(true) {
		return ErrLocalQuota
	}
	return c.write(protocol.SetPixelMsg{Type: protocol.TypeSetPixel, X: x, Y: y, Color: col})
}

func (c *Conn) SetLine(from, to overlay.Point) error {
	if !c.take(false) {
		return ErrLocalQuota
	}
	return c.write(protocol.SetLineMsg{Type: protocol.TypeSetLine, From: from, To: to})
}

func (c *Conn) SetText(x, y float64, text string) error {
	return c.write(protocol.SetTextMsg{Type: protocol.TypeSetText, X: x, Y: y, Text: text})
}

func (c *Conn) Fill(k chunk.Key, col chunk.Color) error {
	return c.write(protocol.SetChunkMsg{Type: protocol.TypeSetChunk, CX: k.CX, CY: k.CY, Color: col})
}

func (c *Conn) SetChunkData(k chunk.Key, g chunk.Grid) error {
	rows := make([][]chunk.Color, chunk.Size)
	for x := range rows {
		rows[x] = append([]chunk.Color(nil), g[x][:]...)
	}
	return c.write(protocol.SetChunkDataMsg{Type: protocol.TypeSetChunkData, CX: k.CX, CY: k.CY, Data: rows})
}

func (c *Conn) Protect(k chunk.Key, v bool) error {
	if !c.HasPermission(string(permissions.Protect)) {
		return ErrNotPermitted
	}
	return c.write(protocol.ProtectMsg{Type: protocol.TypeProtect, CX: k.CX, CY: k.CY, Value: v})
}

func (c *Conn) LoadLines() error { return c.write(protocol.LoadLinesMsg{Type: protocol.TypeLoadLines}) }
func (c *Conn) LoadTexts() error { return c.write(protocol.LoadTextsMsg{Type: protocol.TypeLoadTexts}) }

func (c *Conn) Send(text string) error {
	return c.write(protocol.SendMsg{Type: protocol.TypeSend, Message: strings.TrimSpace(text)})
}

func (c *Conn) Move(x, y float64) error {
	return c.write(protocol.MoveMsg{Type: protocol.TypeMove, X: x, Y: y})
}

func (c *Conn) SetTool(tool int) error {
	return c.write(protocol.SetToolMsg{Type: protocol.TypeSetTool, Tool: tool})
}

func (c *Conn) take(pixel bool) bool {
	c.mu.RLock()
	b := c.lineQuota
	if pixel {
		b = c.pixelQuota
	}
	c.mu.RUnlock()
	return b.AllowAt(time.Now())
}

func (c *Conn) write(v any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteJSON(v)
}

func (c *Conn) Rank() protocol.NewRankMsg {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rank
}

func (c *Conn) HasPermission(p string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, have := range c.rank.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// PixelQuota returns the current local pixel bucket parameters.
func (c *Conn) PixelQuota() quota.Params {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pixelQuota.Params()
}

func (c *Conn) Lines() []overlay.Line {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]overlay.Line(nil), c.lines...)
}

func (c *Conn) Text(x, y float64) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.texts[overlay.Point{x, y}]
	return t, ok
}

// Players returns the other visible players sorted by id.
func (c *Conn) Players() []protocol.PlayerInfo {
	c.mu.RLock()
	out := make([]protocol.PlayerInfo, 0, len(c.players))
	for _, p := range c.players {
		out = append(out, p)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Conn) logf(format string, args ...any) {
	if c.opts.Logger != nil {
		c.opts.Logger.Printf(format, args...)
	}
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// loadBatch picks the smaller of the local and advertised limits. The server
// drops oversized loadChunks requests without a reply.
func loadBatch(local, server int) int {
	if server > 0 && (local <= 0 || server < local) {
		return server
	}
	return local
}
