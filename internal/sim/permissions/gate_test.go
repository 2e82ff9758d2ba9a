package permissions

import (
	"errors"
	"testing"
)

const (
	rankUser = 0
	rankMod  = 1
	rankMute = 2
)

func testTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := NewTable(Config{
		DefaultRank: rankUser,
		Ranks: []Rank{
			{ID: rankUser, Name: "user", Permissions: []Permission{Chat}},
			{ID: rankMod, Name: "mod", Permissions: []Permission{Chat, Protect, Erase, BypassChatLength}},
			{ID: rankMute, Name: "muted"},
		},
	})
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	return tbl
}

func TestGateDraw(t *testing.T) {
	g := NewGate(testTable(t))
	if err := g.Draw(rankUser, false); err != nil {
		t.Fatalf("unprotected draw denied: %v", err)
	}
	if err := g.Draw(rankUser, true); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("protected draw by user: %v", err)
	}
	if err := g.Draw(rankMod, true); err != nil {
		t.Fatalf("protected draw by mod: %v", err)
	}
}

func TestGateEraseAndProtect(t *testing.T) {
	g := NewGate(testTable(t))
	if g.Erase(rankUser) == nil || g.ToggleProtection(rankUser) == nil {
		t.Fatalf("user allowed bulk ops")
	}
	if g.Erase(rankMod) != nil || g.ToggleProtection(rankMod) != nil {
		t.Fatalf("mod denied bulk ops")
	}
}

func TestGateChat(t *testing.T) {
	g := NewGate(testTable(t))
	if err := g.Chat(rankUser, 10, 128); err != nil {
		t.Fatalf("short chat denied: %v", err)
	}
	if err := g.Chat(rankUser, 200, 128); err == nil {
		t.Fatalf("long chat allowed without bypass")
	}
	if err := g.Chat(rankMod, 200, 128); err != nil {
		t.Fatalf("long chat with bypass denied: %v", err)
	}
	if err := g.Chat(rankMute, 1, 128); err == nil {
		t.Fatalf("chat allowed without chat permission")
	}
	if err := g.Chat(rankUser, 10000, 0); err != nil {
		t.Fatalf("unlimited length denied: %v", err)
	}
}

func TestUnknownRankFallsBackToDefault(t *testing.T) {
	tbl := testTable(t)
	if !tbl.PermissionsFor(99).Has(Chat) {
		t.Fatalf("unknown rank did not fall back to default")
	}
	if tbl.Rank(99).Name != "user" {
		t.Fatalf("rank fallback=%q", tbl.Rank(99).Name)
	}
}

func TestConfigValidate(t *testing.T) {
	bad := []Config{
		{},
		{DefaultRank: 1, Ranks: []Rank{{ID: 0, Name: "u"}}},
		{Ranks: []Rank{{ID: 0, Name: "u"}, {ID: 0, Name: "v"}}},
		{Ranks: []Rank{{ID: 0}}},
		{Ranks: []Rank{{ID: 0, Name: "u", Login: &LoginSpec{Key: "a b", PasswordSHA256: "x"}}}},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestLoadRepoRanks(t *testing.T) {
	tbl, err := Load("../../../configs/ranks.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := tbl.Rank(tbl.DefaultRank())
	if !tbl.PermissionsFor(def.ID).Has(Chat) {
		t.Fatalf("default rank cannot chat")
	}
	if def.PixelQuota.Params().Unlimited() {
		t.Fatalf("default rank has unlimited pixel quota")
	}
}
