package multiworld

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"pixelcanvas.io/internal/sim/chunk"
	"pixelcanvas.io/internal/sim/overlay"
	"pixelcanvas.io/internal/sim/permissions"
	"pixelcanvas.io/internal/sim/world"
)

func testBuilder(t *testing.T, built *atomic.Int32, closed *atomic.Int32) Builder {
	t.Helper()
	ranks, err := permissions.Load("../../../configs/ranks.yaml")
	if err != nil {
		t.Fatalf("load ranks: %v", err)
	}
	return func(_ context.Context, spec WorldSpec) (Instance, error) {
		built.Add(1)
		cfg := world.Config{ID: spec.ID, DefaultColor: chunk.White, ReadOnly: spec.ReadOnly}
		if spec.Spawn != nil {
			cfg.Spawn = &overlay.Point{spec.Spawn.X, spec.Spawn.Y}
		}
		w, err := world.New(cfg, world.Deps{Ranks: ranks})
		if err != nil {
			return Instance{}, err
		}
		return Instance{World: w, Close: func() error {
			closed.Add(1)
			return nil
		}}, nil
	}
}

func TestRegistryLazyStartAndJoin(t *testing.T) {
	cfg, err := Load("../../../configs/worlds.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var built, closed atomic.Int32
	r, err := NewRegistry(cfg, testBuilder(t, &built, &closed), RegistryOptions{})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer r.Close()

	if len(r.Runtimes()) != 0 {
		t.Fatalf("worlds should start lazily")
	}
	resp, rt, err := r.Join(context.Background(), "", world.JoinRequest{Nickname: "a"})
	if err != nil {
		t.Fatalf("join default: %v", err)
	}
	if rt.Spec.ID != "main" || resp.Welcome.World != "main" {
		t.Fatalf("joined wrong world: %s / %+v", rt.Spec.ID, resp.Welcome)
	}
	if _, err := r.Get("main"); err != nil || built.Load() != 1 {
		t.Fatalf("second Get should reuse runtime: built=%d err=%v", built.Load(), err)
	}

	resp, _, err = r.Join(context.Background(), "archive", world.JoinRequest{})
	if err != nil {
		t.Fatalf("join archive: %v", err)
	}
	if !resp.Welcome.ReadOnly {
		t.Fatalf("archive sessions should be read-only")
	}
}

func TestRegistryDynamicWorldsPersisted(t *testing.T) {
	state := filepath.Join(t.TempDir(), "registry.json")
	cfg := Config{DefaultWorldID: "main", AllowDynamicWorlds: true, Worlds: []WorldSpec{{ID: "main"}}}
	var built, closed atomic.Int32

	r, err := NewRegistry(cfg, testBuilder(t, &built, &closed), RegistryOptions{StateFile: state})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	rt, err := r.Get("side")
	if err != nil {
		t.Fatalf("dynamic get: %v", err)
	}
	if !rt.Dynamic {
		t.Fatalf("side should be dynamic")
	}
	if _, err := r.Get("bad name!"); !errors.Is(err, ErrWorldNotFound) {
		t.Fatalf("invalid name: got %v", err)
	}
	r.Close()
	select {
	case <-rt.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("world loop did not stop")
	}
	if closed.Load() != 1 {
		t.Fatalf("instance close calls: %d", closed.Load())
	}
	if _, err := r.Get("main"); !errors.Is(err, ErrRegistryClosed) {
		t.Fatalf("get after close: %v", err)
	}

	r2, err := NewRegistry(cfg, testBuilder(t, &built, &closed), RegistryOptions{StateFile: state})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r2.Close()
	ids := r2.WorldIDs()
	if len(ids) != 2 || ids[0] != "main" || ids[1] != "side" {
		t.Fatalf("remembered worlds: %v", ids)
	}
	if err := r2.StartConfigured(); err != nil {
		t.Fatalf("start configured: %v", err)
	}
	if len(r2.Runtimes()) != 2 {
		t.Fatalf("expected 2 running worlds, got %d", len(r2.Runtimes()))
	}
}

func TestRegistryRejectsDynamicWhenDisabled(t *testing.T) {
	cfg := Config{DefaultWorldID: "main", Worlds: []WorldSpec{{ID: "main"}}}
	var built, closed atomic.Int32
	r, err := NewRegistry(cfg, testBuilder(t, &built, &closed), RegistryOptions{})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer r.Close()
	if _, err := r.Get("other"); !errors.Is(err, ErrWorldNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
