package world

import (
	"context"
	"fmt"

	"pixelcanvas.io/internal/persistence/snapshot"
)

func (w *World) exportSnapshot() snapshot.SnapshotV1 {
	lines, texts := w.overlay.Export()
	return snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:       snapshot.Version,
			WorldID:       w.cfg.ID,
			TakenAtUnixMs: w.now().UnixMilli(),
		},
		DefaultColor: w.cfg.DefaultColor,
		Chunks:       w.store.Export(),
		Lines:        lines,
		Texts:        texts,
	}
}

// Snapshot captures the world between two admitted mutations. When the loop
// is not running the stores are read directly. Persisted chunks that were
// never loaded are merged in afterwards, outside the loop.
func (w *World) Snapshot(ctx context.Context) (snapshot.SnapshotV1, error) {
	snap, err := w.captureSnapshot(ctx)
	if err != nil {
		return snapshot.SnapshotV1{}, err
	}
	snap.Chunks, err = w.store.MergePersisted(ctx, snap.Chunks)
	if err != nil {
		return snapshot.SnapshotV1{}, err
	}
	return snap, nil
}

func (w *World) captureSnapshot(ctx context.Context) (snapshot.SnapshotV1, error) {
	if !w.running.Load() {
		return w.exportSnapshot(), nil
	}
	req := snapshotReq{resp: make(chan snapshot.SnapshotV1, 1)}
	select {
	case w.snapReq <- req:
	case <-ctx.Done():
		return snapshot.SnapshotV1{}, ctx.Err()
	}
	select {
	case snap := <-req.resp:
		return snap, nil
	case <-ctx.Done():
		return snapshot.SnapshotV1{}, ctx.Err()
	}
}

// ImportSnapshot replaces world state. It must be called before Run.
func (w *World) ImportSnapshot(s snapshot.SnapshotV1) error {
	if w.running.Load() {
		return fmt.Errorf("world %s: import while running", w.cfg.ID)
	}
	if s.Header.WorldID != "" && s.Header.WorldID != w.cfg.ID {
		return fmt.Errorf("snapshot world %q does not match %q", s.Header.WorldID, w.cfg.ID)
	}
	if err := w.store.Import(s.Chunks); err != nil {
		return err
	}
	w.overlay.Import(s.Lines, s.Texts)
	return nil
}
