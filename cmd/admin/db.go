package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pixelcanvas.io/internal/persistence/r2s3"
	"pixelcanvas.io/internal/persistence/sqlstore"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <data>/canvas.sqlite)")
	pg := fs.Bool("postgres", false, "query the postgres backend at DATABASE_URL")
	worldID := fs.String("world", "", "world filter (snapshots)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "worlds"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		store *sqlstore.Store
		err   error
	)
	if *pg {
		dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
		if dsn == "" {
			fmt.Fprintln(os.Stderr, "-postgres but DATABASE_URL is empty")
			os.Exit(2)
		}
		store, err = sqlstore.OpenPostgres(ctx, dsn)
	} else {
		path := strings.TrimSpace(*dbPath)
		if path == "" {
			path = filepath.Join(*dataDir, "canvas.sqlite")
		}
		if _, statErr := os.Stat(path); statErr != nil {
			fmt.Fprintln(os.Stderr, "open:", statErr)
			os.Exit(1)
		}
		store, err = sqlstore.OpenSQLite(path)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer store.Close()

	enc := json.NewEncoder(os.Stdout)
	switch q {
	case "worlds":
		rows, err := store.Worlds(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, r := range rows {
			_ = enc.Encode(r)
		}
	case "snapshots":
		rows, err := store.Snapshots(ctx, *worldID, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, r := range rows {
			_ = enc.Encode(r)
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(want worlds|snapshots)")
		os.Exit(2)
	}
}

// fetchCmd downloads the newest mirrored snapshot of a world into the local
// data directory.
func fetchCmd(args []string) {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "main", "world id")
	_ = fs.Parse(args)

	endpoint := strings.TrimSpace(os.Getenv("CANVAS_S3_ENDPOINT"))
	bucket := strings.TrimSpace(os.Getenv("CANVAS_S3_BUCKET"))
	accessKeyID := strings.TrimSpace(os.Getenv("CANVAS_S3_ACCESS_KEY_ID"))
	secretAccessKey := strings.TrimSpace(os.Getenv("CANVAS_S3_SECRET_ACCESS_KEY"))
	if endpoint == "" || bucket == "" || accessKeyID == "" || secretAccessKey == "" {
		fmt.Fprintln(os.Stderr, "CANVAS_S3_ENDPOINT/CANVAS_S3_BUCKET/CANVAS_S3_ACCESS_KEY_ID/CANVAS_S3_SECRET_ACCESS_KEY must be set")
		os.Exit(2)
	}
	client, err := r2s3.New(endpoint, bucket, accessKeyID, secretAccessKey)
	if err != nil {
		fmt.Fprintln(os.Stderr, "s3 client:", err)
		os.Exit(1)
	}
	mirror := r2s3.NewMirror(client, r2s3.MirrorOptions{
		DataDir: *dataDir,
		Prefix:  strings.TrimSpace(os.Getenv("CANVAS_S3_PREFIX")),
		Workers: 1,
	})
	defer mirror.Close()

	rel := filepath.Join("worlds", *worldID, "snapshots")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	path, err := mirror.FetchLatest(ctx, rel, filepath.Join(*dataDir, "worlds", *worldID, "snapshots"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "fetch:", err)
		os.Exit(1)
	}
	fmt.Println(path)
}
