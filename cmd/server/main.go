package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"pixelcanvas.io/internal/sim/multiworld"
	"pixelcanvas.io/internal/sim/permissions"
	"pixelcanvas.io/internal/sim/tuning"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "http listen address")
		configDir   = flag.String("configs", "./configs", "config directory")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		tuningPath  = flag.String("tuning", "", "path to canvas.yaml (default: <configs>/canvas.yaml)")
		worldsPath  = flag.String("worlds", "", "path to worlds.yaml (default: <configs>/worlds.yaml)")
		ranksPath   = flag.String("ranks", "", "path to ranks.yaml (default: <configs>/ranks.yaml)")
		persistence = flag.String("persistence", "sqlite", "persistence backend: sqlite|postgres|none")

		snapPath   = flag.String("snapshot", "", "path to a snapshot to resume its world from (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "resume worlds from their latest snapshot when the backend holds no state")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(defaultPath(*tuningPath, *configDir, "canvas.yaml"))
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found; using defaults")
		tune = tuning.Defaults()
	}
	ranks, err := permissions.Load(defaultPath(*ranksPath, *configDir, "ranks.yaml"))
	if err != nil {
		logger.Fatalf("load ranks: %v", err)
	}
	wcfg, err := multiworld.Load(defaultPath(*worldsPath, *configDir, "worlds.yaml"))
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load worlds config: %v", err)
		}
		logger.Printf("worlds.yaml not found; serving the default world only")
		wcfg, _ = multiworld.Load("")
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, err := openBackend(ctx, *persistence, *dataDir)
	if err != nil {
		logger.Fatalf("open persistence backend: %v", err)
	}
	if store != nil {
		defer store.Close()
		logger.Printf("persistence backend=%s", store.Dialect())
	} else {
		logger.Printf("persistence disabled; worlds are memory-only between snapshots")
	}

	resolver, closeAuth, err := buildResolver(ranks, logger)
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}
	defer closeAuth()

	mirror, err := buildS3MirrorRuntime(*dataDir, logger)
	if err != nil {
		logger.Fatalf("init s3 mirror: %v", err)
	}
	defer mirror.Close()

	builder := newWorldBuilder(worldBuilder{
		dataDir:      *dataDir,
		tune:         tune,
		ranks:        ranks,
		auth:         resolver,
		store:        store,
		mirror:       mirror,
		snapshotPath: strings.TrimSpace(*snapPath),
		loadLatest:   *loadLatest,
		logger:       logger,
	})
	reg, err := multiworld.NewRegistry(wcfg, builder.build, multiworld.RegistryOptions{
		StateFile: filepath.Join(*dataDir, "global", "state.json"),
		Logger:    logger,
	})
	if err != nil {
		logger.Fatalf("world registry: %v", err)
	}
	if err := reg.StartConfigured(); err != nil {
		logger.Fatalf("start worlds: %v", err)
	}

	enableAdminHTTP := envBool("CANVAS_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("CANVAS_ENABLE_PPROF_HTTP", false)
	if !enableAdminHTTP {
		logger.Printf("admin endpoints disabled (CANVAS_ENABLE_ADMIN_HTTP=false)")
	}
	router := buildRouter(routerDeps{
		worlds:  reg,
		builder: builder,
		mirror:  mirror,
		logger:  logger,
		admin:   enableAdminHTTP,
		pprof:   enablePprofHTTP,
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s worlds=%v", *addr, reg.WorldIDs())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	// Stops every world loop, then flushes savers and writes final snapshots.
	reg.Close()
	logger.Printf("shutdown complete")
}

func defaultPath(flagValue, configDir, name string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	return filepath.Join(configDir, name)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
