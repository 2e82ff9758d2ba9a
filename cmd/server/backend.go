package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pixelcanvas.io/internal/auth"
	"pixelcanvas.io/internal/persistence/sqlstore"
	"pixelcanvas.io/internal/sim/permissions"
)

// openBackend opens the persistence collaborator. "none" keeps every world
// memory-only (snapshots still apply).
func openBackend(ctx context.Context, kind, dataDir string) (*sqlstore.Store, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "sqlite":
		return sqlstore.OpenSQLite(filepath.Join(dataDir, "canvas.sqlite"))
	case "postgres", "pg":
		url := strings.TrimSpace(os.Getenv("DATABASE_URL"))
		if url == "" {
			return nil, fmt.Errorf("-persistence=postgres but DATABASE_URL is empty")
		}
		ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return sqlstore.OpenPostgres(ctx2, url)
	case "none", "off", "disabled":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported -persistence: %s", kind)
	}
}

// buildResolver chains the static logins of ranks.yaml with the optional
// Redis token store, behind a short TTL cache.
func buildResolver(ranks *permissions.Table, logger *log.Logger) (auth.Resolver, func(), error) {
	chain := auth.Chain{auth.NewMemoryResolver(ranks)}
	closeFn := func() {}

	if url := strings.TrimSpace(os.Getenv("REDIS_URL")); url != "" {
		rr, err := auth.NewRedisResolver(url)
		if err != nil {
			return nil, nil, fmt.Errorf("redis resolver: %w", err)
		}
		chain = append(chain, rr)
		closeFn = func() { _ = rr.Close() }
		logger.Printf("auth: redis token store enabled")
	}
	hit := time.Duration(envInt("CANVAS_AUTH_CACHE_HIT_S", 30)) * time.Second
	miss := time.Duration(envInt("CANVAS_AUTH_CACHE_MISS_S", 5)) * time.Second
	return auth.NewCachedResolver(chain, hit, miss), closeFn, nil
}
