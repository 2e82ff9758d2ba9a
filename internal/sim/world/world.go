package world

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"pixelcanvas.io/internal/auth"
	"pixelcanvas.io/internal/persistence/snapshot"
	"pixelcanvas.io/internal/protocol"
	"pixelcanvas.io/internal/sim/chunk"
	"pixelcanvas.io/internal/sim/chunkstore"
	"pixelcanvas.io/internal/sim/hooks"
	"pixelcanvas.io/internal/sim/overlay"
	"pixelcanvas.io/internal/sim/permissions"
	"pixelcanvas.io/internal/sim/quota"
)

type Config struct {
	ID               string
	DefaultColor     chunk.Color
	FlushHz          int
	MaxMessageLength int
	MaxTextLength    int
	MaxLoadBatch     int
	SessionQueue     int
	ReadOnly         bool
	Spawn            *overlay.Point
}

type Deps struct {
	Store   *chunkstore.Store
	Overlay *overlay.Store
	Ranks   *permissions.Table
	Hooks   *hooks.Registry
	Auth    auth.Resolver
	Logger  *log.Logger
}

type JoinRequest struct {
	Nickname  string
	ReadOnly  bool
	Compact   bool
	QueueSize int
	Resp      chan JoinResponse
}

type JoinResponse struct {
	Session *Session
	Welcome protocol.WelcomeMsg
}

type ActionEnvelope struct {
	SessionID string
	Req       protocol.Request
}

type rankResult struct {
	sessionID string
	rank      int
	ok        bool
	err       error
}

type snapshotReq struct {
	resp chan snapshot.SnapshotV1
}

// pendingUpdate is one marshaled batch entry. compact is set only when the
// compact-chunk form differs.
type pendingUpdate struct {
	plain   json.RawMessage
	compact json.RawMessage
}

// World is the authoritative state of one canvas world. Mutations are
// admitted only on the loop goroutine started by Run; the stores themselves
// are safe for concurrent reads.
type World struct {
	cfg     Config
	store   *chunkstore.Store
	overlay *overlay.Store
	ranks   *permissions.Table
	gate    permissions.Gate
	quota   *quota.Governor
	hooks   *hooks.Registry
	auth    auth.Resolver
	log     *log.Logger
	now     func() time.Time

	inbox    chan ActionEnvelope
	join     chan JoinRequest
	leave    chan string
	ready    chan []chunk.Key
	ranked   chan rankResult
	snapReq  chan snapshotReq
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	// Loop-owned.
	runCtx     context.Context
	sessions   map[string]*Session
	pending    []pendingUpdate
	parked     []ActionEnvelope
	inflight   map[chunk.Key]struct{}
	nextPlayer uint64

	stats worldCounters
}

func New(cfg Config, deps Deps) (*World, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("world id required")
	}
	if deps.Ranks == nil {
		return nil, fmt.Errorf("world %s: rank table required", cfg.ID)
	}
	if cfg.FlushHz <= 0 {
		cfg.FlushHz = 30
	}
	if cfg.MaxLoadBatch <= 0 {
		cfg.MaxLoadBatch = 1024
	}
	if cfg.SessionQueue <= 0 {
		cfg.SessionQueue = 256
	}
	st := deps.Store
	if st == nil {
		st = chunkstore.New(chunkstore.Options{World: cfg.ID, Default: cfg.DefaultColor, Logger: deps.Logger})
	}
	ov := deps.Overlay
	if ov == nil {
		ov = overlay.New(false)
	}
	def := deps.Ranks.Rank(deps.Ranks.DefaultRank())
	gov := quota.NewGovernor(map[quota.Kind]quota.Params{
		quota.KindPixel: def.PixelQuota.Params(),
		quota.KindLine:  def.LineQuota.Params(),
	})
	return &World{
		cfg:     cfg,
		store:   st,
		overlay: ov,
		ranks:   deps.Ranks,
		gate:    permissions.NewGate(deps.Ranks),
		quota:   gov,
		hooks:   deps.Hooks,
		auth:    deps.Auth,
		log:     deps.Logger,
		now:     time.Now,

		inbox:   make(chan ActionEnvelope, 4096),
		join:    make(chan JoinRequest, 64),
		leave:   make(chan string, 64),
		ready:   make(chan []chunk.Key, 64),
		ranked:  make(chan rankResult, 64),
		snapReq: make(chan snapshotReq, 4),
		stop:    make(chan struct{}),

		sessions: map[string]*Session{},
		inflight: map[chunk.Key]struct{}{},
		stats:    newWorldCounters(),
	}, nil
}

func (w *World) ID() string                   { return w.cfg.ID }
func (w *World) Config() Config               { return w.cfg }
func (w *World) Store() *chunkstore.Store     { return w.store }
func (w *World) Overlay() *overlay.Store      { return w.overlay }
func (w *World) Quota() *quota.Governor       { return w.quota }
func (w *World) Inbox() chan<- ActionEnvelope { return w.inbox }
func (w *World) Join() chan<- JoinRequest     { return w.join }
func (w *World) Leave() chan<- string         { return w.leave }

func (w *World) Stop() { w.stopOnce.Do(func() { close(w.stop) }) }

func (w *World) logf(format string, args ...any) {
	if w.log != nil {
		w.log.Printf(format, args...)
	}
}
