// Package archive keeps one snapshot per UTC day out of the rolling snapshot
// directory and prunes that directory.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"pixelcanvas.io/internal/persistence/snapshot"
)

type DailyArchiveMeta struct {
	Day       string `json:"day"`
	WorldID   string `json:"world_id"`
	TakenAtMs int64  `json:"taken_at_ms"`
	Snapshot  string `json:"snapshot"`
	Chunks    int    `json:"chunks"`
	Lines     int    `json:"lines"`
	Texts     int    `json:"texts"`
	CreatedAt string `json:"created_at"`
}

// ArchiveDaily copies snapshotPath into worldDir/archives/day_<YYYY-MM-DD>/
// unless that day already has an archive. It returns the archived path and
// whether a copy was made.
func ArchiveDaily(worldDir, snapshotPath string, snap snapshot.SnapshotV1) (archivedPath string, archived bool, err error) {
	if snap.Header.TakenAtUnixMs <= 0 {
		return "", false, nil
	}
	day := time.UnixMilli(snap.Header.TakenAtUnixMs).UTC().Format("2006-01-02")
	archiveDir := filepath.Join(worldDir, "archives", "day_"+day)
	if _, err := os.Stat(filepath.Join(archiveDir, "meta.json")); err == nil {
		return "", false, nil
	}
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}

	meta := DailyArchiveMeta{
		Day:       day,
		WorldID:   snap.Header.WorldID,
		TakenAtMs: snap.Header.TakenAtUnixMs,
		Snapshot:  filepath.Base(dst),
		Chunks:    len(snap.Chunks),
		Lines:     len(snap.Lines),
		Texts:     len(snap.Texts),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}
	return dst, true, nil
}

// Prune keeps the newest keep snapshots in dir and removes the rest.
func Prune(dir string, keep int) (removed int, err error) {
	if keep <= 0 {
		return 0, fmt.Errorf("keep must be > 0")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".snap.zst") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keep {
		return 0, nil
	}
	sort.Strings(names)
	for _, n := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(dir, n)); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
