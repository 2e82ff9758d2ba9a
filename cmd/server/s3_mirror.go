package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"pixelcanvas.io/internal/persistence/r2s3"
)

type s3MirrorRuntime struct {
	enabled bool
	mirror  *r2s3.Mirror
}

func buildS3MirrorRuntime(dataDir string, logger *log.Logger) (*s3MirrorRuntime, error) {
	enabled := envBool("CANVAS_S3_MIRROR", false)
	if !enabled {
		return &s3MirrorRuntime{enabled: false}, nil
	}

	endpoint := strings.TrimSpace(os.Getenv("CANVAS_S3_ENDPOINT"))
	bucket := strings.TrimSpace(os.Getenv("CANVAS_S3_BUCKET"))
	accessKeyID := strings.TrimSpace(os.Getenv("CANVAS_S3_ACCESS_KEY_ID"))
	secretAccessKey := strings.TrimSpace(os.Getenv("CANVAS_S3_SECRET_ACCESS_KEY"))
	prefix := strings.TrimSpace(os.Getenv("CANVAS_S3_PREFIX"))

	if endpoint == "" || bucket == "" || accessKeyID == "" || secretAccessKey == "" {
		return nil, fmt.Errorf("CANVAS_S3_MIRROR=true but CANVAS_S3_ENDPOINT/CANVAS_S3_BUCKET/CANVAS_S3_ACCESS_KEY_ID/CANVAS_S3_SECRET_ACCESS_KEY are not fully set")
	}

	client, err := r2s3.New(endpoint, bucket, accessKeyID, secretAccessKey)
	if err != nil {
		return nil, err
	}

	mirror := r2s3.NewMirror(client, r2s3.MirrorOptions{
		DataDir: dataDir,
		Prefix:  prefix,
		Workers: envInt("CANVAS_S3_UPLOAD_WORKERS", 2),
		Logger:  logger,
	})
	return &s3MirrorRuntime{enabled: true, mirror: mirror}, nil
}

func (r *s3MirrorRuntime) Close() {
	if r == nil || r.mirror == nil {
		return
	}
	r.mirror.Close()
}

func (r *s3MirrorRuntime) Enqueue(localPath string) {
	if r == nil || !r.enabled || r.mirror == nil {
		return
	}
	r.mirror.Enqueue(localPath)
}

// FetchLatest pulls the newest mirrored object under rel into dstDir.
func (r *s3MirrorRuntime) FetchLatest(ctx context.Context, rel, dstDir string) (string, error) {
	if r == nil || !r.enabled || r.mirror == nil {
		return "", nil
	}
	return r.mirror.FetchLatest(ctx, rel, dstDir)
}

func (r *s3MirrorRuntime) Stats() (r2s3.Stats, bool) {
	if r == nil || !r.enabled || r.mirror == nil {
		return r2s3.Stats{}, false
	}
	return r.mirror.Stats(), true
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
