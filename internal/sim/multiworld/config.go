package multiworld

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var worldIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

// ValidWorldID reports whether id may name a world, configured or dynamic.
func ValidWorldID(id string) bool { return worldIDPattern.MatchString(id) }

type Config struct {
	DefaultWorldID     string      `yaml:"default_world_id"`
	AllowDynamicWorlds bool        `yaml:"allow_dynamic_worlds"`
	Worlds             []WorldSpec `yaml:"worlds"`
}

type WorldSpec struct {
	ID           string     `yaml:"id"`
	Spawn        *SpawnSpec `yaml:"spawn,omitempty"`
	ReadOnly     bool       `yaml:"read_only"`
	DefaultColor *[3]uint8  `yaml:"default_color,omitempty"`
}

type SpawnSpec struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	cfg = Config{}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("worlds.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("worlds.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		DefaultWorldID:     "main",
		AllowDynamicWorlds: true,
		Worlds:             []WorldSpec{{ID: "main"}},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	for i := range c.Worlds {
		c.Worlds[i].ID = strings.TrimSpace(c.Worlds[i].ID)
	}
	c.DefaultWorldID = strings.TrimSpace(c.DefaultWorldID)
	if c.DefaultWorldID == "" && len(c.Worlds) > 0 {
		c.DefaultWorldID = c.Worlds[0].ID
	}
}

func (c Config) Validate() error {
	c.Normalize()
	if len(c.Worlds) == 0 {
		return fmt.Errorf("worlds must not be empty")
	}
	seen := map[string]bool{}
	for _, w := range c.Worlds {
		if !ValidWorldID(w.ID) {
			return fmt.Errorf("invalid world id %q", w.ID)
		}
		if seen[w.ID] {
			return fmt.Errorf("duplicate world id: %s", w.ID)
		}
		seen[w.ID] = true
	}
	if !seen[c.DefaultWorldID] {
		return fmt.Errorf("default_world_id %q not found in worlds", c.DefaultWorldID)
	}
	return nil
}

func (c Config) WorldSpecByID(id string) (WorldSpec, bool) {
	for _, w := range c.Worlds {
		if w.ID == id {
			return w, true
		}
	}
	return WorldSpec{}, false
}

// SpecFor resolves id to a configured spec, or to a plain dynamic spec when
// dynamic worlds are allowed.
func (c Config) SpecFor(id string) (WorldSpec, bool) {
	if id == "" {
		id = c.DefaultWorldID
	}
	if spec, ok := c.WorldSpecByID(id); ok {
		return spec, true
	}
	if c.AllowDynamicWorlds && ValidWorldID(id) {
		return WorldSpec{ID: id}, true
	}
	return WorldSpec{}, false
}

func (c Config) WorldIDs() []string {
	out := make([]string, 0, len(c.Worlds))
	for _, w := range c.Worlds {
		out = append(out, w.ID)
	}
	sort.Strings(out)
	return out
}
