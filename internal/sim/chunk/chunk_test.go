package chunk

import "testing"

func TestKeyOfNegativeCoordinates(t *testing.T) {
	cases := []struct {
		x, y   int
		key    Key
		lx, ly int
	}{
		{0, 0, Key{0, 0}, 0, 0},
		{15, 15, Key{0, 0}, 15, 15},
		{16, 0, Key{1, 0}, 0, 0},
		{-1, -1, Key{-1, -1}, 15, 15},
		{-16, -17, Key{-1, -2}, 0, 15},
		{-33, 40, Key{-3, 2}, 15, 8},
	}
	for _, tc := range cases {
		if got := KeyOf(tc.x, tc.y); got != tc.key {
			t.Fatalf("KeyOf(%d,%d)=%v want %v", tc.x, tc.y, got, tc.key)
		}
		lx, ly := Local(tc.x, tc.y)
		if lx != tc.lx || ly != tc.ly {
			t.Fatalf("Local(%d,%d)=(%d,%d) want (%d,%d)", tc.x, tc.y, lx, ly, tc.lx, tc.ly)
		}
	}
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("-3,7")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if k != (Key{CX: -3, CY: 7}) {
		t.Fatalf("got %v", k)
	}
	if k.String() != "-3,7" {
		t.Fatalf("string: %q", k.String())
	}
	for _, bad := range []string{"", "1", "a,2", "1,b"} {
		if _, err := ParseKey(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestFromRowsRejectsBadShape(t *testing.T) {
	rows := make([][]Color, Size)
	for i := range rows {
		rows[i] = make([]Color, Size)
	}
	rows[3][4] = Color{1, 2, 3}
	g, err := FromRows(rows)
	if err != nil {
		t.Fatalf("from rows: %v", err)
	}
	if g[3][4] != (Color{1, 2, 3}) {
		t.Fatalf("cell not copied")
	}
	rows[5] = rows[5][:3]
	if _, err := FromRows(rows); err == nil {
		t.Fatalf("expected short column error")
	}
	if _, err := FromRows(rows[:2]); err == nil {
		t.Fatalf("expected short grid error")
	}
}

func TestFilledUniform(t *testing.T) {
	red := Color{255, 0, 0}
	g := Filled(red)
	if !g.Uniform(red) {
		t.Fatalf("filled grid not uniform")
	}
	g[0][0] = White
	if g.Uniform(red) {
		t.Fatalf("grid should not be uniform")
	}
}
