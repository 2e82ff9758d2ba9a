package multiworld

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"pixelcanvas.io/internal/sim/world"
)

const (
	stateVersion       = 1
	joinRequestTimeout = 3 * time.Second
)

var (
	ErrWorldNotFound  = errors.New("world not found")
	ErrWorldBusy      = errors.New("world busy")
	ErrRegistryClosed = errors.New("registry closed")
)

// Instance is what a Builder produces for one world. Close, when set, runs
// after the world loop has returned.
type Instance struct {
	World *world.World
	Close func() error
}

// Builder constructs a world and its collaborators. ctx lives as long as the
// registry; builders may start background work bound to it.
type Builder func(ctx context.Context, spec WorldSpec) (Instance, error)

type Runtime struct {
	Spec    WorldSpec
	World   *world.World
	Dynamic bool

	closeFn func() error
	done    chan struct{}
}

// Done is closed once the world loop and its Close have finished.
func (rt *Runtime) Done() <-chan struct{} { return rt.done }

type RegistryOptions struct {
	// StateFile remembers dynamically created worlds across restarts.
	StateFile string
	Logger    *log.Logger
}

type persistedState struct {
	Version       int      `json:"version"`
	DynamicWorlds []string `json:"dynamic_worlds"`
}

// Registry owns every running world of the process. Worlds are built on
// first use.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	build    Builder
	runtimes map[string]*Runtime
	dynamic  map[string]bool
	closed   bool

	stateFile string
	log       *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRegistry(cfg Config, build Builder, opts RegistryOptions) (*Registry, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if build == nil {
		return nil, fmt.Errorf("nil world builder")
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		cfg:       cfg,
		build:     build,
		runtimes:  map[string]*Runtime{},
		dynamic:   map[string]bool{},
		stateFile: opts.StateFile,
		log:       opts.Logger,
		ctx:       ctx,
		cancel:    cancel,
	}
	r.loadState()
	return r, nil
}

func (r *Registry) Config() Config    { return r.cfg }
func (r *Registry) DefaultID() string { return r.cfg.DefaultWorldID }

// Get returns the running world for id, starting it when needed. An empty id
// selects the default world.
func (r *Registry) Get(id string) (*Runtime, error) {
	spec, ok := r.cfg.SpecFor(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorldNotFound, id)
	}
	_, configured := r.cfg.WorldSpecByID(spec.ID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if rt := r.runtimes[spec.ID]; rt != nil {
		return rt, nil
	}
	inst, err := r.build(r.ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("build world %s: %w", spec.ID, err)
	}
	if inst.World == nil {
		return nil, fmt.Errorf("build world %s: nil world", spec.ID)
	}
	rt := &Runtime{Spec: spec, World: inst.World, Dynamic: !configured, closeFn: inst.Close, done: make(chan struct{})}
	r.runtimes[spec.ID] = rt
	r.start(rt)
	if !configured && !r.dynamic[spec.ID] {
		r.dynamic[spec.ID] = true
		r.writeStateLocked()
	}
	r.logf("world started id=%s dynamic=%v read_only=%v", spec.ID, rt.Dynamic, spec.ReadOnly)
	return rt, nil
}

// Lookup returns the running world for id without starting it.
func (r *Registry) Lookup(id string) *Runtime {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runtimes[id]
}

func (r *Registry) start(rt *Runtime) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(rt.done)
		if err := rt.World.Run(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logf("world loop stopped id=%s err=%v", rt.Spec.ID, err)
		}
		if rt.closeFn != nil {
			if err := rt.closeFn(); err != nil {
				r.logf("world close id=%s err=%v", rt.Spec.ID, err)
			}
		}
	}()
}

// StartConfigured starts every world listed in worlds.yaml plus remembered
// dynamic worlds.
func (r *Registry) StartConfigured() error {
	for _, id := range r.WorldIDs() {
		if _, err := r.Get(id); err != nil {
			return err
		}
	}
	return nil
}

// WorldIDs lists configured and remembered dynamic worlds, sorted.
func (r *Registry) WorldIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.cfg.WorldIDs()
	for id := range r.dynamic {
		if _, ok := r.cfg.WorldSpecByID(id); !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Runtimes returns the running worlds sorted by id.
func (r *Registry) Runtimes() []*Runtime {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Runtime, 0, len(r.runtimes))
	for _, rt := range r.runtimes {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Spec.ID < out[j].Spec.ID })
	return out
}

// Join attaches a new session to world id.
func (r *Registry) Join(ctx context.Context, id string, req world.JoinRequest) (world.JoinResponse, *Runtime, error) {
	rt, err := r.Get(id)
	if err != nil {
		return world.JoinResponse{}, nil, err
	}
	if req.Resp == nil {
		req.Resp = make(chan world.JoinResponse, 1)
	}
	ctx, cancel := context.WithTimeout(ctx, joinRequestTimeout)
	defer cancel()
	select {
	case rt.World.Join() <- req:
	case <-rt.done:
		return world.JoinResponse{}, nil, ErrRegistryClosed
	case <-ctx.Done():
		return world.JoinResponse{}, nil, fmt.Errorf("%w: %s", ErrWorldBusy, id)
	}
	select {
	case resp := <-req.Resp:
		return resp, rt, nil
	case <-rt.done:
		return world.JoinResponse{}, nil, ErrRegistryClosed
	case <-ctx.Done():
		return world.JoinResponse{}, nil, fmt.Errorf("%w: %s", ErrWorldBusy, id)
	}
}

// Close stops every world and waits for their loops and Close funcs.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.writeStateLocked()
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}

func (r *Registry) loadState() {
	if r.stateFile == "" {
		return
	}
	b, err := os.ReadFile(r.stateFile)
	if err != nil {
		return
	}
	var st persistedState
	if err := json.Unmarshal(b, &st); err != nil {
		r.logf("ignoring unreadable registry state file=%s err=%v", r.stateFile, err)
		return
	}
	if !r.cfg.AllowDynamicWorlds {
		return
	}
	for _, id := range st.DynamicWorlds {
		if ValidWorldID(id) {
			r.dynamic[id] = true
		}
	}
}

func (r *Registry) writeStateLocked() {
	if r.stateFile == "" {
		return
	}
	st := persistedState{Version: stateVersion, DynamicWorlds: []string{}}
	for id := range r.dynamic {
		st.DynamicWorlds = append(st.DynamicWorlds, id)
	}
	sort.Strings(st.DynamicWorlds)
	b, _ := json.MarshalIndent(st, "", "  ")
	_ = os.MkdirAll(filepath.Dir(r.stateFile), 0o755)
	tmp := r.stateFile + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o644); err != nil {
		r.logf("write registry state file=%s err=%v", r.stateFile, err)
		return
	}
	_ = os.Rename(tmp, r.stateFile)
}

func (r *Registry) logf(format string, args ...any) {
	if r.log != nil {
		r.log.Printf(format, args...)
	}
}
