package world

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"pixelcanvas.io/internal/protocol"
	"pixelcanvas.io/internal/sim/chunk"
	"pixelcanvas.io/internal/sim/quota"
)

const minSessionQueue = 16

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.FlushHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.runCtx = ctx
	w.running.Store(true)
	defer w.running.Store(false)
	defer w.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			w.handleJoin(req)
		case id := <-w.leave:
			w.handleLeave(id)
		case env := <-w.inbox:
			w.handleAction(env)
		case keys := <-w.ready:
			w.handleReady(keys)
		case res := <-w.ranked:
			w.handleRankResult(res)
		case req := <-w.snapReq:
			req.resp <- w.exportSnapshot()
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *World) shutdown() {
	w.flush()
	for id, s := range w.sessions {
		s.close()
		delete(w.sessions, id)
	}
	w.stats.sessions.Store(0)
}

func (w *World) handleJoin(req JoinRequest) {
	w.nextPlayer++
	q := w.cfg.SessionQueue
	if req.QueueSize > 0 && req.QueueSize < q {
		q = max(req.QueueSize, minSessionQueue)
	}
	s := newSession(uuid.NewString(), w.nextPlayer, q)
	s.ReadOnly = req.ReadOnly || w.cfg.ReadOnly
	s.Compact = req.Compact
	s.nickname = req.Nickname
	s.rank = w.ranks.DefaultRank()
	s.color = w.cfg.DefaultColor

	players := make([]protocol.PlayerInfo, 0, len(w.sessions))
	for _, o := range w.sessions {
		if !o.ReadOnly {
			players = append(players, o.info())
		}
	}
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       s.ID,
		PlayerID:        s.PlayerID,
		World:           w.cfg.ID,
		ChunkSize:       chunk.Size,
		FlushHz:         w.cfg.FlushHz,
		MaxLoadBatch:    w.cfg.MaxLoadBatch,
		DefaultColor:    w.cfg.DefaultColor,
		ReadOnly:        s.ReadOnly,
		Players:         players,
	}
	s.send(mustJSON(welcome))

	if !s.ReadOnly {
		w.sendOthers(s, mustJSON(protocol.PlayerJoinMsg{Type: protocol.TypePlayerJoin, Player: s.info()}))
	}
	w.sessions[s.ID] = s
	w.stats.sessions.Store(int64(len(w.sessions)))

	if !s.ReadOnly {
		w.pushRank(s)
		if w.cfg.Spawn != nil {
			s.pos = *w.cfg.Spawn
			s.send(mustJSON(protocol.TeleportMsg{Type: protocol.TypeTeleport, X: s.pos[0], Y: s.pos[1]}))
		}
	}

	select {
	case req.Resp <- JoinResponse{Session: s, Welcome: welcome}:
	default:
	}
}

func (w *World) handleLeave(id string) {
	s := w.sessions[id]
	if s == nil {
		return
	}
	w.removeSession(s)
}

func (w *World) removeSession(s *Session) {
	delete(w.sessions, s.ID)
	s.close()
	w.quota.Forget(s.ID)
	w.stats.sessions.Store(int64(len(w.sessions)))
	if !s.ReadOnly {
		w.sendOthers(s, mustJSON(protocol.PlayerLeftMsg{Type: protocol.TypePlayerLeft, ID: s.PlayerID}))
	}
}

// deliver enqueues b for s. A session that cannot keep up is disconnected
// instead of skipping frames.
func (w *World) deliver(s *Session, b []byte) {
	if s.send(b) {
		return
	}
	if _, ok := w.sessions[s.ID]; !ok {
		return
	}
	w.stats.slowDrops.Add(1)
	w.logf("world=%s dropping slow session=%s player=%d", w.cfg.ID, s.ID, s.PlayerID)
	w.removeSession(s)
}

func (w *World) sendOthers(from *Session, b []byte) {
	for _, o := range w.sessions {
		if o != from {
			w.deliver(o, b)
		}
	}
}

func (w *World) sendAll(b []byte) {
	for _, o := range w.sessions {
		w.deliver(o, b)
	}
}

func (w *World) pushRank(s *Session) {
	r := w.ranks.Rank(s.rank)
	perms := make([]string, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		perms = append(perms, string(p))
	}
	pixel, line := r.PixelQuota.Params(), r.LineQuota.Params()
	w.quota.Reset(s.ID, quota.KindPixel, pixel)
	w.quota.Reset(s.ID, quota.KindLine, line)

	w.deliver(s, mustJSON(protocol.NewRankMsg{Type: protocol.TypeNewRank, Rank: r.ID, Name: r.Name, Permissions: perms}))
	w.deliver(s, mustJSON(quotaMsg(protocol.TypeNewPixelQuota, r.PixelQuota.Rate, r.PixelQuota.PerMs, r.PixelQuota.Capacity)))
	w.deliver(s, mustJSON(quotaMsg(protocol.TypeNewLineQuota, r.LineQuota.Rate, r.LineQuota.PerMs, r.LineQuota.Capacity)))
}

func quotaMsg(typ string, rate, perMs, capacity int) protocol.QuotaMsg {
	return protocol.QuotaMsg{Type: typ, Rate: rate, Per: perMs, Capacity: capacity}
}

// enqueue appends an update to the next batch. compact may be nil.
func (w *World) enqueue(plain, compact any) {
	u := pendingUpdate{plain: mustJSON(plain)}
	if compact != nil {
		u.compact = mustJSON(compact)
	}
	w.pending = append(w.pending, u)
}

// flush sends the pending updates as one batch, in admission order.
func (w *World) flush() {
	if len(w.pending) == 0 {
		return
	}
	var plain, compact []byte
	for _, s := range w.sessions {
		if s.Compact {
			if compact == nil {
				compact = w.encodeBatch(true)
			}
			w.deliver(s, compact)
			continue
		}
		if plain == nil {
			plain = w.encodeBatch(false)
		}
		w.deliver(s, plain)
	}
	w.stats.batches.Add(1)
	w.stats.updates.Add(uint64(len(w.pending)))
	w.pending = w.pending[:0]
}

func (w *World) encodeBatch(compact bool) []byte {
	msg := protocol.BatchUpdateMsg{Type: protocol.TypeBatchUpdate, Updates: make([]json.RawMessage, len(w.pending))}
	for i, u := range w.pending {
		msg.Updates[i] = u.plain
		if compact && u.compact != nil {
			msg.Updates[i] = u.compact
		}
	}
	return mustJSON(msg)
}

// requiredKeys lists the chunks an action reads or writes.
func requiredKeys(req protocol.Request) []chunk.Key {
	switch m := req.(type) {
	case *protocol.SetPixelMsg:
		return []chunk.Key{chunk.KeyOf(protocol.FloorCoord(m.X), protocol.FloorCoord(m.Y))}
	case *protocol.SetLineMsg:
		return []chunk.Key{
			chunk.KeyOf(protocol.FloorCoord(m.From[0]), protocol.FloorCoord(m.From[1])),
			chunk.KeyOf(protocol.FloorCoord(m.To[0]), protocol.FloorCoord(m.To[1])),
		}
	case *protocol.SetTextMsg:
		return []chunk.Key{chunk.KeyOf(protocol.FloorCoord(m.X), protocol.FloorCoord(m.Y))}
	case *protocol.SetChunkMsg:
		return []chunk.Key{{CX: m.CX, CY: m.CY}}
	case *protocol.SetChunkDataMsg:
		return []chunk.Key{{CX: m.CX, CY: m.CY}}
	case *protocol.ProtectMsg:
		return []chunk.Key{{CX: m.CX, CY: m.CY}}
	case *protocol.LoadChunkMsg:
		return []chunk.Key{{CX: m.CX, CY: m.CY}}
	case *protocol.LoadChunksMsg:
		return m.ChunkKeys()
	}
	return nil
}

func (w *World) resident(keys []chunk.Key) bool {
	for _, k := range keys {
		if !w.store.Resident(k) {
			return false
		}
	}
	return true
}

// prefetch loads missing chunks off the loop and reports back on w.ready.
func (w *World) prefetch(keys []chunk.Key) {
	var todo []chunk.Key
	for _, k := range keys {
		if _, busy := w.inflight[k]; busy || w.store.Resident(k) {
			continue
		}
		w.inflight[k] = struct{}{}
		todo = append(todo, k)
	}
	if len(todo) == 0 {
		return
	}
	ctx := w.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		w.store.Prefetch(ctx, todo)
		select {
		case w.ready <- todo:
		case <-ctx.Done():
		}
	}()
}

func (w *World) handleAction(env ActionEnvelope) {
	if w.sessions[env.SessionID] == nil {
		return
	}
	// Parked actions keep their admission order behind any chunk load.
	if len(w.parked) > 0 || !w.resident(requiredKeys(env.Req)) {
		w.parked = append(w.parked, env)
		w.stats.parked.Add(1)
		w.prefetch(requiredKeys(env.Req))
		return
	}
	w.apply(env)
}

func (w *World) handleReady(keys []chunk.Key) {
	for _, k := range keys {
		delete(w.inflight, k)
	}
	for len(w.parked) > 0 {
		head := w.parked[0]
		need := requiredKeys(head.Req)
		if !w.resident(need) {
			w.prefetch(need)
			return
		}
		w.parked[0] = ActionEnvelope{}
		w.parked = w.parked[1:]
		if w.sessions[head.SessionID] != nil {
			w.apply(head)
		}
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
