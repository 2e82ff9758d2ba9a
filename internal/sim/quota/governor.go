package quota

import (
	"sync"
	"time"
)

type Kind string

const (
	KindPixel Kind = "pixel"
	KindLine  Kind = "line"
)

type actorBuckets struct {
	mu      sync.Mutex
	buckets map[Kind]*Bucket
}

// Governor owns the buckets of every (actor, kind) pair. Actors do not
// contend with each other beyond the map lookup.
type Governor struct {
	now func() time.Time

	mu       sync.RWMutex
	defaults map[Kind]Params
	actors   map[string]*actorBuckets
}

func NewGovernor(defaults map[Kind]Params) *Governor {
	d := make(map[Kind]Params, len(defaults))
	for k, v := range defaults {
		d[k] = v
	}
	return &Governor{
		now:      time.Now,
		defaults: d,
		actors:   map[string]*actorBuckets{},
	}
}

// SetClock replaces the time source. Tests only.
func (g *Governor) SetClock(now func() time.Time) {
	g.now = now
}

func (g *Governor) actor(id string) *actorBuckets {
	g.mu.RLock()
	a := g.actors[id]
	g.mu.RUnlock()
	if a != nil {
		return a
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if a = g.actors[id]; a == nil {
		a = &actorBuckets{buckets: map[Kind]*Bucket{}}
		g.actors[id] = a
	}
	return a
}

func (g *Governor) bucketLocked(a *actorBuckets, kind Kind) *Bucket {
	b := a.buckets[kind]
	if b == nil {
		g.mu.RLock()
		p := g.defaults[kind]
		g.mu.RUnlock()
		b = NewBucket(p)
		a.buckets[kind] = b
	}
	return b
}

// Allow consumes one token from the actor's bucket for kind.
func (g *Governor) Allow(actor string, kind Kind) bool {
	a := g.actor(actor)
	a.mu.Lock()
	defer a.mu.Unlock()
	return g.bucketLocked(a, kind).AllowAt(g.now())
}

// Check is Allow returning ErrQuotaExceeded on denial.
func (g *Governor) Check(actor string, kind Kind) error {
	if !g.Allow(actor, kind) {
		return ErrQuotaExceeded
	}
	return nil
}

// Reset replaces the actor's bucket with a fresh full one built from p.
// Accumulated state is discarded.
func (g *Governor) Reset(actor string, kind Kind, p Params) {
	a := g.actor(actor)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buckets[kind] = NewBucket(p)
}

func (g *Governor) Params(actor string, kind Kind) Params {
	a := g.actor(actor)
	a.mu.Lock()
	defer a.mu.Unlock()
	return g.bucketLocked(a, kind).Params()
}

func (g *Governor) Tokens(actor string, kind Kind) float64 {
	a := g.actor(actor)
	a.mu.Lock()
	defer a.mu.Unlock()
	return g.bucketLocked(a, kind).TokensAt(g.now())
}

// Forget discards all bucket state of actor.
func (g *Governor) Forget(actor string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.actors, actor)
}

func (g *Governor) Actors() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.actors)
}
