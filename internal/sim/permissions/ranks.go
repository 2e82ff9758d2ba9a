package permissions

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pixelcanvas.io/internal/sim/quota"
)

type Permission string

const (
	Chat             Permission = "chat"
	Protect          Permission = "protect"
	Erase            Permission = "erase"
	BypassChatLength Permission = "bypassChatLength"
	Teleport         Permission = "teleport"
)

type QuotaSpec struct {
	Rate     int `yaml:"rate"`
	PerMs    int `yaml:"per_ms"`
	Capacity int `yaml:"capacity,omitempty"`
}

func (q QuotaSpec) Params() quota.Params {
	return quota.Params{
		Rate:     q.Rate,
		Period:   time.Duration(q.PerMs) * time.Millisecond,
		Capacity: q.Capacity,
	}
}

// LoginSpec binds a quick-auth key to a rank. PasswordSHA256 is hex.
type LoginSpec struct {
	Key            string `yaml:"key"`
	PasswordSHA256 string `yaml:"password_sha256"`
}

type Rank struct {
	ID          int          `yaml:"id"`
	Name        string       `yaml:"name"`
	ChatPrefix  string       `yaml:"chat_prefix,omitempty"`
	RevealID    bool         `yaml:"reveal_id,omitempty"`
	Permissions []Permission `yaml:"permissions"`
	PixelQuota  QuotaSpec    `yaml:"pixel_quota"`
	LineQuota   QuotaSpec    `yaml:"line_quota"`
	Login       *LoginSpec   `yaml:"login,omitempty"`
}

type Config struct {
	DefaultRank int    `yaml:"default_rank"`
	Ranks       []Rank `yaml:"ranks"`
}

func Load(path string) (*Table, error) {
	cfg := defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = Config{}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("ranks.yaml: %w", err)
		}
	}
	t, err := NewTable(cfg)
	if err != nil {
		return nil, fmt.Errorf("ranks.yaml: %w", err)
	}
	return t, nil
}

func defaults() Config {
	return Config{
		DefaultRank: 0,
		Ranks: []Rank{
			{
				ID:          0,
				Name:        "user",
				Permissions: []Permission{Chat},
				PixelQuota:  QuotaSpec{Rate: 32, PerMs: 1000},
				LineQuota:   QuotaSpec{Rate: 4, PerMs: 1000},
			},
		},
	}
}

func (c Config) Validate() error {
	if len(c.Ranks) == 0 {
		return fmt.Errorf("no ranks defined")
	}
	seen := map[int]bool{}
	keys := map[string]bool{}
	for _, r := range c.Ranks {
		if seen[r.ID] {
			return fmt.Errorf("duplicate rank id %d", r.ID)
		}
		seen[r.ID] = true
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("rank %d: missing name", r.ID)
		}
		if r.PixelQuota.Rate < 0 || r.PixelQuota.PerMs < 0 || r.LineQuota.Rate < 0 || r.LineQuota.PerMs < 0 {
			return fmt.Errorf("rank %d: negative quota", r.ID)
		}
		if r.Login != nil {
			k := strings.TrimSpace(r.Login.Key)
			if k == "" || strings.ContainsAny(k, " \t/") {
				return fmt.Errorf("rank %d: invalid login key %q", r.ID, r.Login.Key)
			}
			if keys[k] {
				return fmt.Errorf("duplicate login key %q", k)
			}
			keys[k] = true
			if len(r.Login.PasswordSHA256) != 64 {
				return fmt.Errorf("rank %d: password_sha256 must be 64 hex chars", r.ID)
			}
		}
	}
	if !seen[c.DefaultRank] {
		return fmt.Errorf("default_rank %d not defined", c.DefaultRank)
	}
	return nil
}

// Table is the immutable rank lookup built from Config.
type Table struct {
	def   int
	ranks map[int]Rank
	perms map[int]Set
}

func NewTable(cfg Config) (*Table, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Table{def: cfg.DefaultRank, ranks: map[int]Rank{}, perms: map[int]Set{}}
	for _, r := range cfg.Ranks {
		t.ranks[r.ID] = r
		t.perms[r.ID] = NewSet(r.Permissions...)
	}
	return t, nil
}

func (t *Table) DefaultRank() int { return t.def }

// Rank returns the rank for id, falling back to the default rank.
func (t *Table) Rank(id int) Rank {
	if r, ok := t.ranks[id]; ok {
		return r
	}
	return t.ranks[t.def]
}

func (t *Table) PermissionsFor(rankID int) Set {
	if s, ok := t.perms[rankID]; ok {
		return s
	}
	return t.perms[t.def]
}

func (t *Table) Ranks() []Rank {
	out := make([]Rank, 0, len(t.ranks))
	for _, r := range t.ranks {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
