package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pixelcanvas.io/internal/sim/chunk"
	"pixelcanvas.io/internal/sim/chunkstore"
	"pixelcanvas.io/internal/sim/encoding"
)

// LoadChunk implements chunkstore.Loader.
func (s *Store) LoadChunk(ctx context.Context, world string, k chunk.Key) (chunk.Chunk, bool, error) {
	var (
		rle       string
		protected int
	)
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT rle, protected FROM chunks WHERE world=? AND cx=? AND cy=?`),
		world, k.CX, k.CY).Scan(&rle, &protected)
	if errors.Is(err, sql.ErrNoRows) {
		return chunk.Chunk{}, false, nil
	}
	if err != nil {
		return chunk.Chunk{}, false, unavailable(fmt.Sprintf("load chunk %s/%s", world, k), err)
	}
	g, err := encoding.DecodeGrid(rle)
	if err != nil {
		return chunk.Chunk{}, false, fmt.Errorf("chunk %s/%s: %w", world, k, err)
	}
	return chunk.Chunk{Grid: g, Protected: protected != 0}, true, nil
}

// SaveChunks upserts every record in one transaction.
func (s *Store) SaveChunks(ctx context.Context, world string, recs []chunkstore.Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("save chunks", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO chunks(world,cx,cy,rle,protected,updated_at) VALUES(?,?,?,?,?,?)
		ON CONFLICT (world, cx, cy) DO UPDATE SET rle=excluded.rle, protected=excluded.protected, updated_at=excluded.updated_at`))
	if err != nil {
		return unavailable("save chunks", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, r := range recs {
		g := r.Chunk.Grid
		if _, err := stmt.ExecContext(ctx, world, r.Key.CX, r.Key.CY, encoding.EncodeGrid(&g), boolInt(r.Chunk.Protected), now); err != nil {
			return unavailable(fmt.Sprintf("save chunk %s/%s", world, r.Key), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("save chunks", err)
	}
	return nil
}

// ChunkCount reports stored chunks for a world.
func (s *Store) ChunkCount(ctx context.Context, world string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM chunks WHERE world=?`), world).Scan(&n)
	if err != nil {
		return 0, unavailable("count chunks", err)
	}
	return n, nil
}

// EachChunk implements chunkstore.Enumerator. Rows are decoded after the
// result set is read so fn never runs with a cursor open.
func (s *Store) EachChunk(ctx context.Context, world string, fn func(chunk.Key, chunk.Chunk) error) error {
	type row struct {
		k         chunk.Key
		rle       string
		protected int
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT cx, cy, rle, protected FROM chunks WHERE world=? ORDER BY cx, cy`), world)
	if err != nil {
		return unavailable("list chunks "+world, err)
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.k.CX, &r.k.CY, &r.rle, &r.protected); err != nil {
			_ = rows.Close()
			return unavailable("list chunks "+world, err)
		}
		all = append(all, r)
	}
	if err := rows.Close(); err != nil {
		return unavailable("list chunks "+world, err)
	}
	if err := rows.Err(); err != nil {
		return unavailable("list chunks "+world, err)
	}
	for _, r := range all {
		g, err := encoding.DecodeGrid(r.rle)
		if err != nil {
			return fmt.Errorf("chunk %s/%s: %w", world, r.k, err)
		}
		if err := fn(r.k, chunk.Chunk{Grid: g, Protected: r.protected != 0}); err != nil {
			return err
		}
	}
	return nil
}
