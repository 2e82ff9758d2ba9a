package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	persistlog "pixelcanvas.io/internal/persistence/log"
	"pixelcanvas.io/internal/persistence/snapshot"
	"pixelcanvas.io/internal/sim/chunk"
	"pixelcanvas.io/internal/sim/chunkstore"
	"pixelcanvas.io/internal/sim/hooks"
	"pixelcanvas.io/internal/sim/overlay"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "restore":
			restoreCmd(os.Args[2:])
			return
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "worlds":
			worldsCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "fetch":
			fetchCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	if *worldID != "" {
		base = filepath.Join(base, *worldID, "snapshots")
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	full := fs.Bool("full", false, "decode the whole snapshot, not only the header")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: admin inspect [-full] <file.snap.zst>")
		os.Exit(2)
	}
	path := fs.Arg(0)

	h, err := snapshot.ReadHeader(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read header:", err)
		os.Exit(1)
	}
	fmt.Printf("version=%d world=%s taken_at=%s\n", h.Version, h.WorldID, time.UnixMilli(h.TakenAtUnixMs).UTC().Format(time.RFC3339Nano))
	if !*full {
		return
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	protected := 0
	for _, c := range snap.Chunks {
		if c.Protected {
			protected++
		}
	}
	fmt.Printf("default_color=%v chunks=%d protected=%d lines=%d texts=%d\n",
		snap.DefaultColor, len(snap.Chunks), protected, len(snap.Lines), len(snap.Texts))
}

// restoreCmd rebuilds a world as of a point in time from a snapshot plus the
// audit log, and writes the result as the world's newest snapshot.
func restoreCmd(args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	snapPath := fs.String("snapshot", "", "base snapshot (optional; defaults to the latest one before -until)")
	until := fs.String("until", "", "restore point, RFC3339 (required)")
	outPath := fs.String("out", "", "output snapshot path (optional)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*worldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	untilT, err := time.Parse(time.RFC3339, strings.TrimSpace(*until))
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -until:", err)
		os.Exit(2)
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	base := strings.TrimSpace(*snapPath)
	if base == "" {
		base = snapshotBefore(filepath.Join(worldDir, "snapshots"), untilT.UnixMilli())
	}

	snap := snapshot.SnapshotV1{
		Header:       snapshot.Header{Version: snapshot.Version, WorldID: *worldID},
		DefaultColor: chunk.White,
	}
	if base != "" {
		snap, err = snapshot.ReadSnapshot(base)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		if snap.Header.TakenAtUnixMs > untilT.UnixMilli() {
			fmt.Fprintln(os.Stderr, "base snapshot is newer than -until")
			os.Exit(2)
		}
	}

	st := chunkstore.New(chunkstore.Options{World: *worldID, Default: chunk.Color(snap.DefaultColor)})
	ov := overlay.New(false)
	if err := st.Import(snap.Chunks); err != nil {
		fmt.Fprintln(os.Stderr, "import snapshot:", err)
		os.Exit(1)
	}
	ov.Import(snap.Lines, snap.Texts)

	files, err := persistlog.Files(filepath.Join(worldDir, "audit"), "audit")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list audit:", err)
		os.Exit(1)
	}
	from, to := snap.Header.TakenAtUnixMs, untilT.UnixMilli()
	applied := 0
	err = persistlog.ReadMutations(files, func(m hooks.Mutation) error {
		at := m.At.UnixMilli()
		if m.World != *worldID || at <= from || at > to {
			return nil
		}
		applied++
		return persistlog.Apply(st, ov, m)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay audit:", err)
		os.Exit(1)
	}

	lines, texts := ov.Export()
	out := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:       snapshot.Version,
			WorldID:       *worldID,
			TakenAtUnixMs: time.Now().UnixMilli(),
		},
		DefaultColor: snap.DefaultColor,
		Chunks:       st.Export(),
		Lines:        lines,
		Texts:        texts,
	}
	if strings.TrimSpace(*outPath) == "" {
		*outPath = filepath.Join(worldDir, "snapshots", snapshot.FileName(out.Header.TakenAtUnixMs))
	}
	if err := snapshot.WriteSnapshot(*outPath, out); err != nil {
		fmt.Fprintln(os.Stderr, "write snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("restore ok: base=%s until=%s applied=%d chunks=%d lines=%d texts=%d out=%s\n",
		filepath.Base(base), untilT.UTC().Format(time.RFC3339), applied, len(out.Chunks), len(out.Lines), len(out.Texts), *outPath)
}

// snapshotBefore returns the newest snapshot in dir taken at or before ms.
func snapshotBefore(dir string, ms int64) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var (
		best   string
		bestMs int64
	)
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".snap.zst") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		h, err := snapshot.ReadHeader(path)
		if err != nil || h.TakenAtUnixMs > ms {
			continue
		}
		if best == "" || h.TakenAtUnixMs > bestMs {
			best, bestMs = path, h.TakenAtUnixMs
		}
	}
	return best
}
