package sqlstore

import (
	"context"

	"pixelcanvas.io/internal/persistence/snapshot"
)

type SnapshotRow struct {
	World     string `json:"world"`
	TakenAtMs int64  `json:"taken_at_ms"`
	Path      string `json:"path"`
	Chunks    int    `json:"chunks"`
	Lines     int    `json:"lines"`
	Texts     int    `json:"texts"`
}

func (s *Store) RecordSnapshot(ctx context.Context, path string, snap snapshot.SnapshotV1) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO snapshots(world,taken_at_ms,path,chunks,lines,texts) VALUES(?,?,?,?,?,?)
		ON CONFLICT (world, taken_at_ms) DO UPDATE SET path=excluded.path`),
		snap.Header.WorldID, snap.Header.TakenAtUnixMs, path, len(snap.Chunks), len(snap.Lines), len(snap.Texts))
	if err != nil {
		return unavailable("record snapshot", err)
	}
	return nil
}

// Snapshots lists recorded snapshots, newest first. An empty world lists all.
func (s *Store) Snapshots(ctx context.Context, world string, limit int) ([]SnapshotRow, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT world,taken_at_ms,path,chunks,lines,texts FROM snapshots`
	args := []any{}
	if world != "" {
		q += ` WHERE world=?`
		args = append(args, world)
	}
	q += ` ORDER BY taken_at_ms DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, unavailable("list snapshots", err)
	}
	defer rows.Close()
	var out []SnapshotRow
	for rows.Next() {
		var r SnapshotRow
		if err := rows.Scan(&r.World, &r.TakenAtMs, &r.Path, &r.Chunks, &r.Lines, &r.Texts); err != nil {
			return nil, unavailable("list snapshots", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type WorldRow struct {
	World  string `json:"world"`
	Chunks int    `json:"chunks"`
	Lines  int    `json:"lines"`
	Texts  int    `json:"texts"`
}

// Worlds summarizes every world with stored state.
func (s *Store) Worlds(ctx context.Context) ([]WorldRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.world,
			(SELECT COUNT(*) FROM chunks c WHERE c.world = w.world),
			(SELECT COUNT(*) FROM lines l WHERE l.world = w.world),
			(SELECT COUNT(*) FROM texts t WHERE t.world = w.world)
		FROM (
			SELECT world FROM chunks UNION SELECT world FROM lines UNION SELECT world FROM texts
		) w
		ORDER BY w.world`)
	if err != nil {
		return nil, unavailable("list worlds", err)
	}
	defer rows.Close()
	var out []WorldRow
	for rows.Next() {
		var r WorldRow
		if err := rows.Scan(&r.World, &r.Chunks, &r.Lines, &r.Texts); err != nil {
			return nil, unavailable("list worlds", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
