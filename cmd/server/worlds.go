package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pixelcanvas.io/internal/auth"
	"pixelcanvas.io/internal/persistence/archive"
	persistlog "pixelcanvas.io/internal/persistence/log"
	"pixelcanvas.io/internal/persistence/saver"
	"pixelcanvas.io/internal/persistence/snapshot"
	"pixelcanvas.io/internal/persistence/sqlstore"
	"pixelcanvas.io/internal/protocol"
	"pixelcanvas.io/internal/sim/chunk"
	"pixelcanvas.io/internal/sim/chunkstore"
	"pixelcanvas.io/internal/sim/hooks"
	"pixelcanvas.io/internal/sim/multiworld"
	"pixelcanvas.io/internal/sim/overlay"
	"pixelcanvas.io/internal/sim/permissions"
	"pixelcanvas.io/internal/sim/tuning"
	"pixelcanvas.io/internal/sim/world"
)

const keepSnapshots = 48

// worldBuilder wires one world with its persistence collaborators. It is the
// multiworld.Builder of the server.
type worldBuilder struct {
	dataDir      string
	tune         tuning.Tuning
	ranks        *permissions.Table
	auth         auth.Resolver
	store        *sqlstore.Store
	mirror       *s3MirrorRuntime
	snapshotPath string
	loadLatest   bool
	logger       *log.Logger

	mu     sync.Mutex
	worlds map[string]*worldExtras
}

// worldExtras are the per-world background components, exposed for metrics
// and admin endpoints.
type worldExtras struct {
	saver *saver.Saver
	audit *persistlog.AuditLogger
	snaps *snapshotter
}

func newWorldBuilder(b worldBuilder) *worldBuilder {
	b.worlds = map[string]*worldExtras{}
	return &b
}

func (b *worldBuilder) extras(id string) *worldExtras {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.worlds[id]
}

func (b *worldBuilder) build(ctx context.Context, spec multiworld.WorldSpec) (multiworld.Instance, error) {
	worldDir := filepath.Join(b.dataDir, "worlds", spec.ID)
	if err := os.MkdirAll(worldDir, 0o755); err != nil {
		return multiworld.Instance{}, err
	}

	color := chunk.Color(b.tune.DefaultColor)
	if spec.DefaultColor != nil {
		color = chunk.Color(*spec.DefaultColor)
	}
	persist := b.store != nil

	stOpts := chunkstore.Options{World: spec.ID, Default: color, TrackDirty: persist, Logger: b.logger}
	if persist {
		stOpts.Loader = b.store
	}
	st := chunkstore.New(stOpts)
	ov := overlay.New(persist)
	if persist {
		lines, err := b.store.LoadLines(ctx, spec.ID)
		if err != nil {
			b.logger.Printf("persist load lines world=%s err=%v", spec.ID, err)
		}
		texts, err := b.store.LoadTexts(ctx, spec.ID)
		if err != nil {
			b.logger.Printf("persist load texts world=%s err=%v", spec.ID, err)
		}
		ov.Seed(lines, texts)
	}

	hookReg := hooks.NewRegistry()
	audit := persistlog.NewAuditLogger(worldDir, b.logger)
	audit.Register(hookReg)

	var spawn *overlay.Point
	if spec.Spawn != nil {
		spawn = &overlay.Point{spec.Spawn.X, spec.Spawn.Y}
	}
	w, err := world.New(world.Config{
		ID:               spec.ID,
		DefaultColor:     color,
		FlushHz:          b.tune.FlushHz,
		MaxMessageLength: b.tune.MaxMessageLength,
		MaxTextLength:    b.tune.MaxTextLength,
		MaxLoadBatch:     b.tune.MaxLoadBatch,
		SessionQueue:     b.tune.SessionQueue,
		ReadOnly:         spec.ReadOnly,
		Spawn:            spawn,
	}, world.Deps{
		Store:   st,
		Overlay: ov,
		Ranks:   b.ranks,
		Hooks:   hookReg,
		Auth:    b.auth,
		Logger:  b.logger,
	})
	if err != nil {
		_ = audit.Close()
		return multiworld.Instance{}, err
	}

	if path := b.snapshotFor(ctx, spec.ID, worldDir); path != "" {
		snap, err := snapshot.ReadSnapshot(path)
		if err != nil {
			_ = audit.Close()
			return multiworld.Instance{}, fmt.Errorf("read snapshot %s: %w", path, err)
		}
		if err := w.ImportSnapshot(snap); err != nil {
			_ = audit.Close()
			return multiworld.Instance{}, fmt.Errorf("import snapshot %s: %w", path, err)
		}
		b.logger.Printf("world=%s resumed from snapshot=%s chunks=%d lines=%d", spec.ID, filepath.Base(path), len(snap.Chunks), len(snap.Lines))
	}

	ex := &worldExtras{
		audit: audit,
		snaps: &snapshotter{
			world:  w,
			dir:    worldDir,
			every:  b.tune.Persistence.SnapshotEvery(),
			store:  b.store,
			mirror: b.mirror,
			logger: b.logger,
		},
	}

	// The saver outlives the world loop so its final flush sees every
	// admitted mutation.
	saverCtx, stopSaver := context.WithCancel(context.Background())
	saverDone := make(chan struct{})
	if persist {
		ex.saver = saver.New(saver.Options{
			World:    spec.ID,
			Store:    st,
			Overlay:  ov,
			Backend:  b.store,
			Saving:   b.tune.Saving,
			Interval: b.tune.Persistence.SaveInterval(),
			Logger:   b.logger,
			OnError:  func(error) { w.RecordReject(protocol.ErrPersistence) },
		})
		go func() {
			defer close(saverDone)
			ex.saver.Run(saverCtx)
		}()
	} else {
		close(saverDone)
	}
	go ex.snaps.Run(ctx)

	b.mu.Lock()
	b.worlds[spec.ID] = ex
	b.mu.Unlock()

	closeFn := func() error {
		if ex.snaps.every > 0 {
			sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := ex.snaps.Take(sctx); err != nil {
				b.logger.Printf("final snapshot world=%s err=%v", spec.ID, err)
			}
			cancel()
		}
		stopSaver()
		<-saverDone
		return audit.Close()
	}
	return multiworld.Instance{World: w, Close: closeFn}, nil
}

// snapshotFor picks the snapshot a fresh world resumes from. A SQL backend
// that already holds chunks for the world wins over snapshots.
func (b *worldBuilder) snapshotFor(ctx context.Context, worldID, worldDir string) string {
	if b.store != nil {
		if n, err := b.store.ChunkCount(ctx, worldID); err == nil && n > 0 {
			return ""
		}
	}
	if b.snapshotPath != "" {
		if h, err := snapshot.ReadHeader(b.snapshotPath); err == nil && h.WorldID == worldID {
			return b.snapshotPath
		}
	}
	if !b.loadLatest {
		return ""
	}
	dir := filepath.Join(worldDir, "snapshots")
	path, err := snapshot.Latest(dir)
	if err != nil {
		b.logger.Printf("latest snapshot world=%s err=%v", worldID, err)
	}
	if path != "" {
		return path
	}
	path, err = b.mirror.FetchLatest(ctx, filepath.Join("worlds", worldID, "snapshots"), dir)
	if err != nil {
		b.logger.Printf("fetch mirrored snapshot world=%s err=%v", worldID, err)
		return ""
	}
	return path
}

// snapshotter writes periodic and on-demand snapshots of one world.
type snapshotter struct {
	world  *world.World
	dir    string
	every  time.Duration
	store  *sqlstore.Store
	mirror *s3MirrorRuntime
	logger *log.Logger

	mu sync.Mutex
}

func (s *snapshotter) Run(ctx context.Context) {
	if s.every <= 0 {
		return
	}
	t := time.NewTicker(s.every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.Take(ctx); err != nil && ctx.Err() == nil {
				s.logger.Printf("snapshot world=%s err=%v", s.world.ID(), err)
			}
		}
	}
}

// Take writes one snapshot and returns its path.
func (s *snapshotter) Take(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.world.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	snapDir := filepath.Join(s.dir, "snapshots")
	path := filepath.Join(snapDir, snapshot.FileName(snap.Header.TakenAtUnixMs))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return "", err
	}
	s.mirror.Enqueue(path)

	if s.store != nil {
		if err := s.store.RecordSnapshot(ctx, path, snap); err != nil {
			s.logger.Printf("record snapshot world=%s err=%v", snap.Header.WorldID, err)
		}
	}
	if archived, ok, err := archive.ArchiveDaily(s.dir, path, snap); err != nil {
		s.logger.Printf("archive daily snapshot world=%s err=%v", snap.Header.WorldID, err)
	} else if ok {
		s.mirror.Enqueue(archived)
		enqueueIfExists(s.mirror, filepath.Join(filepath.Dir(archived), "meta.json"))
	}
	if _, err := archive.Prune(snapDir, keepSnapshots); err != nil {
		s.logger.Printf("prune snapshots world=%s err=%v", snap.Header.WorldID, err)
	}
	return path, nil
}

func enqueueIfExists(m *s3MirrorRuntime, path string) {
	if m == nil || !m.enabled {
		return
	}
	if _, err := os.Stat(path); err == nil {
		m.Enqueue(path)
	}
}
