package world

import (
	"errors"
	"unicode/utf8"

	"pixelcanvas.io/internal/protocol"
	"pixelcanvas.io/internal/sim/chunk"
	"pixelcanvas.io/internal/sim/encoding"
	"pixelcanvas.io/internal/sim/hooks"
	"pixelcanvas.io/internal/sim/overlay"
	"pixelcanvas.io/internal/sim/permissions"
	"pixelcanvas.io/internal/sim/quota"
)

// apply runs one admitted-for-processing action. Every rejection is silent
// towards the actor and only counted.
func (w *World) apply(env ActionEnvelope) {
	s := w.sessions[env.SessionID]
	if s == nil {
		return
	}
	switch m := env.Req.(type) {
	case *protocol.SetPixelMsg:
		w.applySetPixel(s, m)
	case *protocol.SetLineMsg:
		w.applySetLine(s, m)
	case *protocol.SetTextMsg:
		w.applySetText(s, m)
	case *protocol.SetChunkMsg:
		w.applyFill(s, m)
	case *protocol.SetChunkDataMsg:
		w.applyChunkData(s, m)
	case *protocol.ProtectMsg:
		w.applyProtect(s, m)
	case *protocol.LoadChunksMsg:
		keys := m.ChunkKeys()
		if len(keys) > w.cfg.MaxLoadBatch {
			w.reject(protocol.ErrBadRequest)
			return
		}
		w.replyChunks(s, keys)
	case *protocol.LoadChunkMsg:
		w.replyChunks(s, []chunk.Key{{CX: m.CX, CY: m.CY}})
	case *protocol.LoadLinesMsg:
		w.deliver(s, mustJSON(protocol.LinesLoadedMsg{Type: protocol.TypeLinesLoaded, Lines: w.overlay.Lines()}))
	case *protocol.LoadTextsMsg:
		w.deliver(s, mustJSON(protocol.TextsLoadedMsg{Type: protocol.TypeTextsLoaded, Texts: w.overlay.Texts()}))
	case *protocol.SendMsg:
		w.handleChat(s, m.Message)
	case *protocol.MoveMsg:
		if s.ReadOnly {
			return
		}
		s.pos = overlay.Point{m.X, m.Y}
		w.sendOthers(s, mustJSON(protocol.PlayerMovedMsg{Type: protocol.TypePlayerMoved, ID: s.PlayerID, X: m.X, Y: m.Y}))
	case *protocol.SetToolMsg:
		if s.ReadOnly {
			return
		}
		s.tool = m.Tool
		w.sendOthers(s, mustJSON(w.playerUpdate(s)))
	default:
		w.reject(protocol.ErrBadRequest)
	}
}

func (w *World) playerUpdate(s *Session) protocol.PlayerUpdateMsg {
	return protocol.PlayerUpdateMsg{
		Type:     protocol.TypePlayerUpdate,
		ID:       s.PlayerID,
		Nickname: s.nickname,
		Tool:     s.tool,
		Color:    s.color,
	}
}

func (w *World) mutation(s *Session, kind hooks.MutationKind) hooks.Mutation {
	return hooks.Mutation{
		World:    w.cfg.ID,
		Session:  s.ID,
		PlayerID: s.PlayerID,
		RankID:   s.rank,
		Kind:     kind,
		At:       w.now(),
	}
}

// admit runs the permission decision, pre-mutation hooks and the quota in
// that order. kind is empty for actions without a bucket.
func (w *World) admit(s *Session, gateErr error, m hooks.Mutation, kind quota.Kind) bool {
	err := gateErr
	if s.ReadOnly {
		err = permissions.ErrPermissionDenied
	}
	if err == nil {
		err = w.hooks.Pre(m)
	}
	if err == nil && kind != "" {
		err = w.quota.Check(s.ID, kind)
	}
	if err != nil {
		w.reject(rejectCode(err))
		return false
	}
	return true
}

// rejectCode maps an admission or store error to its counted code. Gate
// denials, protection and hook vetoes all count as permission failures.
func rejectCode(err error) string {
	if errors.Is(err, quota.ErrQuotaExceeded) {
		return protocol.ErrRateLimit
	}
	return protocol.ErrNoPermission
}

func (w *World) applySetPixel(s *Session, m *protocol.SetPixelMsg) {
	x, y := protocol.FloorCoord(m.X), protocol.FloorCoord(m.Y)
	k := chunk.KeyOf(x, y)
	mut := w.mutation(s, hooks.MutPixel)
	mut.X, mut.Y, mut.Color, mut.Chunk = x, y, m.Color, k

	if !w.admit(s, w.gate.Draw(s.rank, w.store.Protection(k)), mut, quota.KindPixel) {
		return
	}
	bypass := w.gate.Has(s.rank, permissions.Protect)
	if err := w.store.SetPixel(x, y, m.Color, bypass); err != nil {
		w.reject(rejectCode(err))
		return
	}
	s.color = m.Color
	w.enqueue(protocol.NewPixelUpdate{Type: protocol.TypeNewPixel, X: x, Y: y, Color: m.Color}, nil)
	w.hooks.Post(mut)
}

func (w *World) applySetLine(s *Session, m *protocol.SetLineMsg) {
	a := chunk.KeyOf(protocol.FloorCoord(m.From[0]), protocol.FloorCoord(m.From[1]))
	b := chunk.KeyOf(protocol.FloorCoord(m.To[0]), protocol.FloorCoord(m.To[1]))
	line := overlay.Line{From: m.From, To: m.To}
	mut := w.mutation(s, hooks.MutLine)
	mut.Line = &line

	protected := w.store.Protection(a) || w.store.Protection(b)
	if !w.admit(s, w.gate.Draw(s.rank, protected), mut, quota.KindLine) {
		return
	}
	w.overlay.AppendLine(line)
	w.enqueue(protocol.NewLineUpdate{Type: protocol.TypeNewLine, From: m.From, To: m.To}, nil)
	w.hooks.Post(mut)
}

func (w *World) applySetText(s *Session, m *protocol.SetTextMsg) {
	if w.cfg.MaxTextLength > 0 && utf8.RuneCountInString(m.Text) > w.cfg.MaxTextLength {
		w.reject(protocol.ErrBadRequest)
		return
	}
	p := overlay.Point{m.X, m.Y}
	k := chunk.KeyOf(protocol.FloorCoord(m.X), protocol.FloorCoord(m.Y))
	text := overlay.Text{At: p, Text: m.Text}
	mut := w.mutation(s, hooks.MutText)
	mut.Text = &text

	if !w.admit(s, w.gate.Draw(s.rank, w.store.Protection(k)), mut, "") {
		return
	}
	if !w.overlay.SetText(p, m.Text) {
		return
	}
	w.enqueue(protocol.NewTextUpdate{Type: protocol.TypeNewText, Text: m.Text, X: m.X, Y: m.Y}, nil)
	w.hooks.Post(mut)
}

func (w *World) applyFill(s *Session, m *protocol.SetChunkMsg) {
	k := chunk.Key{CX: m.CX, CY: m.CY}
	mut := w.mutation(s, hooks.MutFill)
	mut.Chunk, mut.Color = k, m.Color

	if !w.admit(s, w.gate.Erase(s.rank), mut, "") {
		return
	}
	g := w.store.SetChunkRGB(k, m.Color)
	w.enqueueChunk(k, chunk.Chunk{Grid: g, Protected: w.store.Protection(k)})
	w.hooks.Post(mut)
}

func (w *World) applyChunkData(s *Session, m *protocol.SetChunkDataMsg) {
	k := chunk.Key{CX: m.CX, CY: m.CY}
	g := m.Grid()
	mut := w.mutation(s, hooks.MutChunkData)
	mut.Chunk, mut.Grid = k, &g

	if !w.admit(s, w.gate.Erase(s.rank), mut, "") {
		return
	}
	w.store.SetChunkData(k, g)
	w.enqueueChunk(k, chunk.Chunk{Grid: g, Protected: w.store.Protection(k)})
	w.hooks.Post(mut)
}

func (w *World) applyProtect(s *Session, m *protocol.ProtectMsg) {
	k := chunk.Key{CX: m.CX, CY: m.CY}
	mut := w.mutation(s, hooks.MutProtection)
	mut.Chunk, mut.Protected = k, m.Value

	if !w.admit(s, w.gate.ToggleProtection(s.rank), mut, "") {
		return
	}
	w.store.SetProtection(k, m.Value)
	w.enqueue(protocol.ProtectionUpdate{Type: protocol.TypeProtectionUpdated, CX: k.CX, CY: k.CY, Value: m.Value}, nil)
	w.hooks.Post(mut)
}

func (w *World) enqueueChunk(k chunk.Key, c chunk.Chunk) {
	plain := protocol.ChunkUpdate{Type: protocol.TypeChunkUpdated, CX: k.CX, CY: k.CY, Chunk: payload(c, false)}
	compact := protocol.ChunkUpdate{Type: protocol.TypeChunkUpdated, CX: k.CX, CY: k.CY, Chunk: payload(c, true)}
	w.enqueue(plain, compact)
}

func payload(c chunk.Chunk, compact bool) protocol.ChunkPayload {
	if compact {
		return protocol.ChunkPayload{RLE: encoding.EncodeGrid(&c.Grid), Protected: c.Protected}
	}
	g := c.Grid
	return protocol.ChunkPayload{Data: &g, Protected: c.Protected}
}

// replyChunks answers a load request with every requested key, default
// filled where nothing was written.
func (w *World) replyChunks(s *Session, keys []chunk.Key) {
	msg := protocol.ChunkLoadedMsg{Type: protocol.TypeChunkLoaded, Chunks: make(map[string]protocol.ChunkPayload, len(keys))}
	for _, k := range keys {
		msg.Chunks[k.String()] = payload(w.store.Chunk(k), s.Compact)
	}
	w.stats.chunksServed.Add(uint64(len(keys)))
	w.deliver(s, mustJSON(msg))
}
