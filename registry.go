package scenemix

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry tracks every media source announced by the capture side and its
// last reported liveness. Unregistering a source removes it from the active
// set but the id stays known forever: scenes referencing it remain valid and
// any pad it holds on the current graph is kept, parked hidden, until an
// explicit reclamation pass.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*Source
	seen    map[string]struct{}
}

// RegistryStats is a point-in-time snapshot of registry counters.
type RegistryStats struct {
	Registered int `json:"registered"`
	Live       int `json:"live"`
	Seen       int `json:"seen"`
}

// NewRegistry creates an empty source registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]*Source),
		seen:    make(map[string]struct{}),
	}
}

// Register announces a source. Registering an id that is already active
// refreshes its kind and last-seen time; capture collaborators re-announce
// on reconnect and that must not error.
func (r *Registry) Register(id string, kind SourceKind) error {
	if id == "" {
		return fmt.Errorf("scenemix: source id must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if src, ok := r.sources[id]; ok {
		src.Kind = kind
		src.LastSeen = time.Now()
		return nil
	}
	r.sources[id] = &Source{ID: id, Kind: kind, LastSeen: time.Now()}
	r.seen[id] = struct{}{}
	slog.Debug("scenemix: source registered", "source", id, "kind", kind)
	return nil
}

// Unregister removes a source from the active set. The id remains known, so
// scene validation and existing pads are unaffected.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sources[id]; !ok {
		return fmt.Errorf("%w: %q", ErrSourceNotRegistered, id)
	}
	delete(r.sources, id)
	slog.Debug("scenemix: source unregistered", "source", id)
	return nil
}

// SetLive flips the liveness flag of an active source.
func (r *Registry) SetLive(id string, live bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, ok := r.sources[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSourceNotRegistered, id)
	}
	src.Live = live
	src.LastSeen = time.Now()
	return nil
}

// IsLive reports whether a source is currently registered and live.
func (r *Registry) IsLive(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.sources[id]
	return ok && src.Live
}

// Seen reports whether a source id was ever registered, including ids that
// have since been unregistered.
func (r *Registry) Seen(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.seen[id]
	return ok
}

// Get returns a copy of the active source record.
func (r *Registry) Get(id string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.sources[id]
	if !ok {
		return Source{}, false
	}
	return *src, true
}

// ListLive returns the ids of all live sources, sorted.
func (r *Registry) ListLive() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.sources))
	for id, src := range r.sources {
		if src.Live {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// List returns copies of all active source records, sorted by id.
func (r *Registry) List() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Source, 0, len(r.sources))
	for _, src := range r.sources {
		out = append(out, *src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats returns current registry counters.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	live := 0
	for _, src := range r.sources {
		if src.Live {
			live++
		}
	}
	return RegistryStats{
		Registered: len(r.sources),
		Live:       live,
		Seen:       len(r.seen),
	}
}
