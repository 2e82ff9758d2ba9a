package world

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"pixelcanvas.io/internal/protocol"
	"pixelcanvas.io/internal/sim/hooks"
	"pixelcanvas.io/internal/sim/overlay"
	"pixelcanvas.io/internal/sim/permissions"
)

const maxNicknameLength = 24

type commandFunc func(w *World, s *Session, args []string)

var commands = map[string]commandFunc{
	"nick": cmdNick,
	"tp":   cmdTeleport,
	"rank": cmdRank,
}

// help lists the command table, so it cannot sit in its own initializer.
func init() { commands["help"] = cmdHelp }

func (w *World) handleChat(s *Session, raw string) {
	if s.ReadOnly {
		w.reject(protocol.ErrNoPermission)
		return
	}
	if err := w.gate.Chat(s.rank, utf8.RuneCountInString(raw), w.cfg.MaxMessageLength); err != nil {
		w.reject(protocol.ErrNoPermission)
		return
	}
	text := strings.TrimSpace(raw)
	if text == "" {
		return
	}
	if strings.HasPrefix(text, "/") {
		w.dispatchCommand(s, text[1:])
		return
	}

	r := w.ranks.Rank(s.rank)
	w.hooks.Chat(hooks.ChatEvent{
		World:    w.cfg.ID,
		PlayerID: s.PlayerID,
		RankID:   s.rank,
		Nickname: s.nickname,
		Text:     text,
		At:       w.now(),
	})
	w.sendAll(mustJSON(protocol.ChatMsg{
		Type:       protocol.TypeMessage,
		PlayerID:   s.PlayerID,
		Nickname:   s.nickname,
		RankID:     r.ID,
		ChatPrefix: r.ChatPrefix,
		RevealID:   r.RevealID,
		Text:       text,
	}))
}

func (w *World) dispatchCommand(s *Session, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	name, args := fields[0], fields[1:]
	if fn, ok := commands[name]; ok {
		fn(w, s, args)
		return
	}
	// "/<key> <secret>" is a quick-auth login.
	if w.auth != nil && len(args) == 1 {
		w.resolveLogin(s, name, args[0])
		return
	}
	w.systemMessage(s, "unknown command /"+name)
}

func (w *World) systemMessage(s *Session, text string) {
	w.deliver(s, mustJSON(protocol.ChatMsg{Type: protocol.TypeMessage, Text: text, System: true}))
}

func (w *World) resolveLogin(s *Session, key, secret string) {
	ctx := w.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	id := s.ID
	go func() {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		rank, ok, err := w.auth.Resolve(cctx, key, secret)
		select {
		case w.ranked <- rankResult{sessionID: id, rank: rank, ok: ok, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (w *World) handleRankResult(res rankResult) {
	s := w.sessions[res.sessionID]
	if s == nil {
		return
	}
	if res.err != nil {
		w.reject(protocol.ErrInternal)
		w.logf("world=%s login lookup failed session=%s err=%v", w.cfg.ID, s.ID, res.err)
		return
	}
	if !res.ok {
		w.reject(protocol.ErrNoPermission)
		return
	}
	s.rank = res.rank
	w.pushRank(s)
	w.systemMessage(s, "rank: "+w.ranks.Rank(s.rank).Name)
}

func cmdHelp(w *World, s *Session, _ []string) {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, "/"+n)
	}
	sort.Strings(names)
	w.systemMessage(s, "commands: "+strings.Join(names, " "))
}

func cmdNick(w *World, s *Session, args []string) {
	nick := strings.TrimSpace(strings.Join(args, " "))
	if nick == "" || utf8.RuneCountInString(nick) > maxNicknameLength {
		w.systemMessage(s, fmt.Sprintf("nickname must be 1-%d characters", maxNicknameLength))
		return
	}
	s.nickname = nick
	w.sendOthers(s, mustJSON(w.playerUpdate(s)))
	w.systemMessage(s, "nickname set to "+nick)
}

func cmdRank(w *World, s *Session, _ []string) {
	w.systemMessage(s, "rank: "+w.ranks.Rank(s.rank).Name)
}

// cmdTeleport accepts "/tp <x> <y>" or "/tp <player id>".
func cmdTeleport(w *World, s *Session, args []string) {
	if !w.gate.Has(s.rank, permissions.Teleport) {
		w.reject(protocol.ErrNoPermission)
		return
	}
	var dest overlay.Point
	switch len(args) {
	case 1:
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			w.systemMessage(s, "usage: /tp <x> <y> | /tp <player>")
			return
		}
		found := false
		for _, o := range w.sessions {
			if o.PlayerID == id && !o.ReadOnly {
				dest, found = o.pos, true
				break
			}
		}
		if !found {
			w.systemMessage(s, "no such player")
			return
		}
	case 2:
		x, errX := strconv.ParseFloat(args[0], 64)
		y, errY := strconv.ParseFloat(args[1], 64)
		if errX != nil || errY != nil || (&protocol.MoveMsg{X: x, Y: y}).Validate() != nil {
			w.systemMessage(s, "usage: /tp <x> <y> | /tp <player>")
			return
		}
		dest = overlay.Point{x, y}
	default:
		w.systemMessage(s, "usage: /tp <x> <y> | /tp <player>")
		return
	}
	s.pos = dest
	w.deliver(s, mustJSON(protocol.TeleportMsg{Type: protocol.TypeTeleport, X: dest[0], Y: dest[1]}))
	w.sendOthers(s, mustJSON(protocol.PlayerMovedMsg{Type: protocol.TypePlayerMoved, ID: s.PlayerID, X: dest[0], Y: dest[1]}))
}
