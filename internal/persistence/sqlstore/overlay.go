package sqlstore

import (
	"context"

	"pixelcanvas.io/internal/sim/overlay"
)

func (s *Store) AppendLines(ctx context.Context, world string, lines []overlay.Line) error {
	if len(lines) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("append lines", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO lines(world,x1,y1,x2,y2) VALUES(?,?,?,?,?)`))
	if err != nil {
		return unavailable("append lines", err)
	}
	defer stmt.Close()
	for _, l := range lines {
		if _, err := stmt.ExecContext(ctx, world, l.From[0], l.From[1], l.To[0], l.To[1]); err != nil {
			return unavailable("append lines", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("append lines", err)
	}
	return nil
}

// LoadLines returns a world's lines in append order.
func (s *Store) LoadLines(ctx context.Context, world string) ([]overlay.Line, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT x1,y1,x2,y2 FROM lines WHERE world=? ORDER BY id`), world)
	if err != nil {
		return nil, unavailable("load lines", err)
	}
	defer rows.Close()
	var out []overlay.Line
	for rows.Next() {
		var l overlay.Line
		if err := rows.Scan(&l.From[0], &l.From[1], &l.To[0], &l.To[1]); err != nil {
			return nil, unavailable("load lines", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("load lines", err)
	}
	return out, nil
}

// SaveTexts upserts annotations. An empty Text deletes the row.
func (s *Store) SaveTexts(ctx context.Context, world string, texts []overlay.Text) error {
	if len(texts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("save texts", err)
	}
	defer func() { _ = tx.Rollback() }()

	upsert := s.rebind(`INSERT INTO texts(world,x,y,body) VALUES(?,?,?,?)
		ON CONFLICT (world, x, y) DO UPDATE SET body=excluded.body`)
	del := s.rebind(`DELETE FROM texts WHERE world=? AND x=? AND y=?`)
	for _, t := range texts {
		if t.Text == "" {
			_, err = tx.ExecContext(ctx, del, world, t.At[0], t.At[1])
		} else {
			_, err = tx.ExecContext(ctx, upsert, world, t.At[0], t.At[1], t.Text)
		}
		if err != nil {
			return unavailable("save texts", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("save texts", err)
	}
	return nil
}

func (s *Store) LoadTexts(ctx context.Context, world string) ([]overlay.Text, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT x,y,body FROM texts WHERE world=? ORDER BY y, x`), world)
	if err != nil {
		return nil, unavailable("load texts", err)
	}
	defer rows.Close()
	var out []overlay.Text
	for rows.Next() {
		var t overlay.Text
		if err := rows.Scan(&t.At[0], &t.At[1], &t.Text); err != nil {
			return nil, unavailable("load texts", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("load texts", err)
	}
	return out, nil
}
