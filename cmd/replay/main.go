package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	persistlog "pixelcanvas.io/internal/persistence/log"
	"pixelcanvas.io/internal/persistence/snapshot"
	"pixelcanvas.io/internal/sim/chunk"
	"pixelcanvas.io/internal/sim/chunkstore"
	"pixelcanvas.io/internal/sim/hooks"
	"pixelcanvas.io/internal/sim/overlay"
)

func main() {
	var (
		snapPath = flag.String("snapshot", "", "path to .snap.zst to start from (optional)")
		worldDir = flag.String("world_dir", "", "world directory holding audit/audit-*.jsonl.zst")
		worldID  = flag.String("world", "", "world id when starting without a snapshot")
		outPath  = flag.String("out", "", "write the replayed state as a snapshot (optional)")
		wantHex  = flag.String("expect_digest", "", "fail unless the final digest matches")
	)
	flag.Parse()

	if *snapPath == "" && *worldDir == "" {
		fmt.Fprintln(os.Stderr, "need -snapshot and/or -world_dir")
		os.Exit(2)
	}

	var (
		snap    snapshot.SnapshotV1
		takenAt int64
	)
	if *snapPath != "" {
		var err error
		snap, err = snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		takenAt = snap.Header.TakenAtUnixMs
		fmt.Printf("snapshot v%d world=%s taken_at=%s chunks=%d lines=%d texts=%d\n",
			snap.Header.Version, snap.Header.WorldID, time.UnixMilli(takenAt).UTC().Format(time.RFC3339),
			len(snap.Chunks), len(snap.Lines), len(snap.Texts))
	} else {
		snap.Header = snapshot.Header{Version: snapshot.Version, WorldID: *worldID}
		snap.DefaultColor = chunk.White
	}

	st := chunkstore.New(chunkstore.Options{World: snap.Header.WorldID, Default: chunk.Color(snap.DefaultColor)})
	ov := overlay.New(false)
	if err := st.Import(snap.Chunks); err != nil {
		fmt.Fprintln(os.Stderr, "import snapshot:", err)
		os.Exit(1)
	}
	ov.Import(snap.Lines, snap.Texts)

	if *worldDir != "" {
		files, err := persistlog.Files(filepath.Join(*worldDir, "audit"), "audit")
		if err != nil {
			fmt.Fprintln(os.Stderr, "list audit files:", err)
			os.Exit(1)
		}
		if len(files) == 0 {
			fmt.Fprintln(os.Stderr, "no audit files found in", *worldDir)
			os.Exit(1)
		}
		applied, skipped, err := replay(st, ov, files, snap.Header.WorldID, takenAt)
		if err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
		fmt.Printf("replayed mutations=%d skipped=%d files=%d\n", applied, skipped, len(files))
	}

	lines, texts := ov.Export()
	out := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:       snapshot.Version,
			WorldID:       snap.Header.WorldID,
			TakenAtUnixMs: time.Now().UnixMilli(),
		},
		DefaultColor: snap.DefaultColor,
		Chunks:       st.Export(),
		Lines:        lines,
		Texts:        texts,
	}
	digest, err := stateDigest(out)
	if err != nil {
		fmt.Fprintln(os.Stderr, "digest:", err)
		os.Exit(1)
	}
	fmt.Printf("state chunks=%d lines=%d texts=%d digest=%s\n", len(out.Chunks), len(out.Lines), len(out.Texts), digest)

	if *outPath != "" {
		if err := snapshot.WriteSnapshot(*outPath, out); err != nil {
			fmt.Fprintln(os.Stderr, "write snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", *outPath)
	}
	if *wantHex != "" && *wantHex != digest {
		fmt.Fprintf(os.Stderr, "digest mismatch: got=%s want=%s\n", digest, *wantHex)
		os.Exit(1)
	}
}

// replay applies audit entries newer than the snapshot. Entries of other
// worlds are skipped.
func replay(st *chunkstore.Store, ov *overlay.Store, files []string, worldID string, afterMs int64) (applied, skipped int, err error) {
	err = persistlog.ReadMutations(files, func(m hooks.Mutation) error {
		if (worldID != "" && m.World != worldID) || m.At.UnixMilli() <= afterMs {
			skipped++
			return nil
		}
		if err := persistlog.Apply(st, ov, m); err != nil {
			return err
		}
		applied++
		return nil
	})
	return applied, skipped, err
}

// stateDigest hashes the canonical state without the header, so two captures
// of the same canvas agree regardless of when they were taken.
func stateDigest(s snapshot.SnapshotV1) (string, error) {
	b, err := json.Marshal(struct {
		DefaultColor [3]uint8           `json:"default_color"`
		Chunks       []snapshot.ChunkV1 `json:"chunks"`
		Lines        []snapshot.LineV1  `json:"lines"`
		Texts        []snapshot.TextV1  `json:"texts"`
	}{s.DefaultColor, s.Chunks, s.Lines, s.Texts})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
