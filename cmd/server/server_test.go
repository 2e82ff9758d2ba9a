package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pixelcanvas.io/internal/auth"
	"pixelcanvas.io/internal/persistence/sqlstore"
	"pixelcanvas.io/internal/sim/multiworld"
	"pixelcanvas.io/internal/sim/permissions"
	"pixelcanvas.io/internal/sim/tuning"
)

type testEnv struct {
	dataDir string
	store   *sqlstore.Store
	reg     *multiworld.Registry
	router  http.Handler
}

func newTestEnv(t *testing.T, admin bool) *testEnv {
	t.Helper()
	dataDir := t.TempDir()
	ranks, err := permissions.Load(filepath.Join("..", "..", "configs", "ranks.yaml"))
	if err != nil {
		t.Fatalf("load ranks: %v", err)
	}
	store, err := sqlstore.OpenSQLite(filepath.Join(dataDir, "canvas.sqlite"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger := log.New(io.Discard, "", 0)
	builder := newWorldBuilder(worldBuilder{
		dataDir: dataDir,
		tune:    tuning.Defaults(),
		ranks:   ranks,
		auth:    auth.NewMemoryResolver(ranks),
		store:   store,
		logger:  logger,
	})
	cfg := multiworld.Config{DefaultWorldID: "main", Worlds: []multiworld.WorldSpec{{ID: "main"}}}
	reg, err := multiworld.NewRegistry(cfg, builder.build, multiworld.RegistryOptions{Logger: logger})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	t.Cleanup(reg.Close)
	if err := reg.StartConfigured(); err != nil {
		t.Fatalf("start worlds: %v", err)
	}

	return &testEnv{
		dataDir: dataDir,
		store:   store,
		reg:     reg,
		router: buildRouter(routerDeps{
			worlds:  reg,
			builder: builder,
			logger:  logger,
			admin:   admin,
		}),
	}
}

func TestAdminRejectsNonLoopback(t *testing.T) {
	env := newTestEnv(t, true)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/worlds", nil)
	req.RemoteAddr = "203.0.113.7:4242"
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status: got %d want %d", rr.Code, http.StatusForbidden)
	}
}

func TestAdminDisabledHasNoRoutes(t *testing.T) {
	env := newTestEnv(t, false)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/worlds", nil)
	req.RemoteAddr = "127.0.0.1:4242"
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status: got %d want %d", rr.Code, http.StatusNotFound)
	}
}

func TestAdminSnapshotWritesFile(t *testing.T) {
	env := newTestEnv(t, true)

	req := httptest.NewRequest(http.MethodPost, "/admin/v1/worlds/main/snapshot", nil)
	req.RemoteAddr = "127.0.0.1:4242"
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		OK    bool   `json:"ok"`
		World string `json:"world"`
		Path  string `json:"path"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.OK || resp.World != "main" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if _, err := os.Stat(resp.Path); err != nil {
		t.Fatalf("snapshot file: %v", err)
	}
	wantDir := filepath.Join(env.dataDir, "worlds", "main", "snapshots")
	if filepath.Dir(resp.Path) != wantDir {
		t.Fatalf("snapshot dir: got %s want %s", filepath.Dir(resp.Path), wantDir)
	}

	rows, err := env.store.Snapshots(context.Background(), "main", 10)
	if err != nil {
		t.Fatalf("snapshot index: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("indexed snapshots: got %d want 1", len(rows))
	}
}

func TestAdminSnapshotUnknownWorld(t *testing.T) {
	env := newTestEnv(t, true)

	req := httptest.NewRequest(http.MethodPost, "/admin/v1/worlds/nope/snapshot", nil)
	req.RemoteAddr = "127.0.0.1:4242"
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status: got %d want %d", rr.Code, http.StatusNotFound)
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, false)

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		"pixelcanvas_worlds 1\n",
		`pixelcanvas_world_sessions{world="main"} 0`,
		`pixelcanvas_world_loaded_chunks{world="main"} 0`,
		`pixelcanvas_persist_saves_total{world="main"}`,
		`pixelcanvas_audit_dropped_total{world="main"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "pixelcanvas_s3_mirror") {
		t.Fatalf("mirror metrics without a mirror:\n%s", body)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, false)

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rr.Code, rr.Body.String())
	}
}
