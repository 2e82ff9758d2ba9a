package tuning

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	MaxMessageLength int      `yaml:"max_message_length"`
	MaxTextLength    int      `yaml:"max_text_length"`
	DefaultColor     [3]uint8 `yaml:"default_color"`

	FlushHz      int `yaml:"flush_hz"`
	MaxLoadBatch int `yaml:"max_load_batch"`
	SessionQueue int `yaml:"session_queue"`

	Saving      Saving      `yaml:"saving"`
	Persistence Persistence `yaml:"persistence"`
}

// Saving selects which state kinds reach the persistence backend. Memory is
// always updated.
type Saving struct {
	Pixels bool `yaml:"pixels"`
	Lines  bool `yaml:"lines"`
	Texts  bool `yaml:"texts"`
}

type Persistence struct {
	SaveIntervalMs int `yaml:"save_interval_ms"`
	SnapshotEveryS int `yaml:"snapshot_every_s"`
}

func (p Persistence) SaveInterval() time.Duration {
	return time.Duration(p.SaveIntervalMs) * time.Millisecond
}

func (p Persistence) SnapshotEvery() time.Duration {
	return time.Duration(p.SnapshotEveryS) * time.Second
}

func Defaults() Tuning {
	return Tuning{
		MaxMessageLength: 128,
		MaxTextLength:    256,
		DefaultColor:     [3]uint8{255, 255, 255},
		FlushHz:          30,
		MaxLoadBatch:     1024,
		SessionQueue:     256,
		Saving:           Saving{Pixels: true, Lines: true, Texts: true},
		Persistence:      Persistence{SaveIntervalMs: 2000, SnapshotEveryS: 600},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("canvas.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("canvas.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.FlushHz <= 0 || t.FlushHz > 1000 {
		return fmt.Errorf("flush_hz must be in 1..1000, got %d", t.FlushHz)
	}
	if t.MaxLoadBatch <= 0 {
		return fmt.Errorf("max_load_batch must be > 0")
	}
	if t.SessionQueue <= 0 {
		return fmt.Errorf("session_queue must be > 0")
	}
	if t.MaxMessageLength < 0 || t.MaxTextLength < 0 {
		return fmt.Errorf("length limits must be >= 0")
	}
	if t.Persistence.SaveIntervalMs <= 0 {
		return fmt.Errorf("persistence.save_interval_ms must be > 0")
	}
	return nil
}
