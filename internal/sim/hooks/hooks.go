// Package hooks is a static registry of typed extension points. Hooks are
// registered at startup and invoked synchronously from the world loop, so
// they must not block.
package hooks

import (
	"sync"
	"time"

	"pixelcanvas.io/internal/sim/chunk"
	"pixelcanvas.io/internal/sim/overlay"
)

type MutationKind string

const (
	MutPixel      MutationKind = "pixel"
	MutLine       MutationKind = "line"
	MutText       MutationKind = "text"
	MutFill       MutationKind = "fill"
	MutChunkData  MutationKind = "chunk_data"
	MutProtection MutationKind = "protection"
)

// Mutation describes one admitted (or about to be admitted) change.
type Mutation struct {
	World    string       `json:"world"`
	Session  string       `json:"session"`
	PlayerID uint64       `json:"player_id"`
	RankID   int          `json:"rank_id"`
	Kind     MutationKind `json:"kind"`
	At       time.Time    `json:"at"`

	X     int         `json:"x,omitempty"`
	Y     int         `json:"y,omitempty"`
	Color chunk.Color `json:"color,omitempty"`

	Chunk     chunk.Key   `json:"chunk,omitempty"`
	Grid      *chunk.Grid `json:"grid,omitempty"`
	Protected bool        `json:"protected,omitempty"`

	Line *overlay.Line `json:"line,omitempty"`
	Text *overlay.Text `json:"text,omitempty"`
}

type ChatEvent struct {
	World    string    `json:"world"`
	PlayerID uint64    `json:"player_id"`
	RankID   int       `json:"rank_id"`
	Nickname string    `json:"nickname,omitempty"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
}

// PreMutation may veto a mutation by returning an error.
type PreMutation func(Mutation) error

type PostMutation func(Mutation)

type Chat func(ChatEvent)

type Registry struct {
	mu   sync.RWMutex
	pre  []PreMutation
	post []PostMutation
	chat []Chat
}

func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) OnPreMutation(h PreMutation) {
	r.mu.Lock()
	r.pre = append(r.pre, h)
	r.mu.Unlock()
}

func (r *Registry) OnPostMutation(h PostMutation) {
	r.mu.Lock()
	r.post = append(r.post, h)
	r.mu.Unlock()
}

func (r *Registry) OnChat(h Chat) {
	r.mu.Lock()
	r.chat = append(r.chat, h)
	r.mu.Unlock()
}

// Pre runs pre-mutation hooks in registration order and stops at the first veto.
func (r *Registry) Pre(m Mutation) error {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.pre {
		if err := h(m); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) Post(m Mutation) {
	if r == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.post {
		h(m)
	}
}

func (r *Registry) Chat(e ChatEvent) {
	if r == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.chat {
		h(e)
	}
}
