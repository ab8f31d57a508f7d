package scenemix

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// SceneStore is a read interface over scene definitions. Stores return
// ErrSceneNotFound (possibly wrapped) for unknown ids. Three implementations
// ship with this package: MemoryStore, FileStore and RedisStore.
type SceneStore interface {
	Get(ctx context.Context, id string) (Scene, error)
	List(ctx context.Context) ([]string, error)
}

// ScenePutter is implemented by stores that accept scene writes at runtime.
type ScenePutter interface {
	Put(ctx context.Context, scene Scene) error
}

// SourceChecker answers whether a source id was ever registered. *Registry
// satisfies it.
type SourceChecker interface {
	Seen(id string) bool
}

// Catalog resolves scene ids against a SceneStore and validates every slot's
// source reference before a scene is allowed anywhere near the pipeline.
// Lookups for the same id are coalesced so a burst of applies hits the
// backing store once. Returned scenes are private copies.
type Catalog struct {
	store   SceneStore
	sources SourceChecker
	sf      singleflight.Group
}

// NewCatalog creates a catalog over the given store. sources provides the
// was-ever-registered check used during validation.
func NewCatalog(store SceneStore, sources SourceChecker) (*Catalog, error) {
	if store == nil {
		return nil, fmt.Errorf("scenemix: catalog requires a scene store")
	}
	if sources == nil {
		return nil, fmt.Errorf("scenemix: catalog requires a source checker")
	}
	return &Catalog{store: store, sources: sources}, nil
}

// Get fetches and validates a scene. Unknown ids and references to sources
// that were never registered both return a *ValidationError; no pipeline
// state changes on the error path. Validation runs per call: a scene that
// failed before becomes valid the moment its missing source registers.
func (c *Catalog) Get(ctx context.Context, id string) (Scene, error) {
	if id == "" {
		return Scene{}, &ValidationError{Reason: "scene id must not be empty"}
	}
	v, err, _ := c.sf.Do(id, func() (interface{}, error) {
		return c.store.Get(ctx, id)
	})
	if err != nil {
		return Scene{}, &ValidationError{SceneID: id, Err: err}
	}
	scene := v.(Scene).clone()

	for _, slot := range scene.Slots {
		if !c.sources.Seen(slot.SourceID) {
			return Scene{}, &ValidationError{
				SceneID:  id,
				SourceID: slot.SourceID,
				Err:      ErrSourceUnknown,
			}
		}
	}
	return scene, nil
}

// List returns the ids of all stored scenes.
func (c *Catalog) List(ctx context.Context) ([]string, error) {
	return c.store.List(ctx)
}

// MemoryStore is a mutex-guarded in-process SceneStore, the default when no
// catalog backend is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	scenes map[string]Scene
}

// NewMemoryStore creates an empty in-memory scene store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scenes: make(map[string]Scene)}
}

// Put validates and stores a scene, replacing any previous definition.
func (s *MemoryStore) Put(_ context.Context, scene Scene) error {
	if err := ValidateScene(scene); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenes[scene.ID] = scene.clone()
	return nil
}

// Remove deletes a scene definition.
func (s *MemoryStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scenes[id]; !ok {
		return fmt.Errorf("%w: %q", ErrSceneNotFound, id)
	}
	delete(s.scenes, id)
	return nil
}

// Get returns the stored scene for id.
func (s *MemoryStore) Get(_ context.Context, id string) (Scene, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scene, ok := s.scenes[id]
	if !ok {
		return Scene{}, fmt.Errorf("%w: %q", ErrSceneNotFound, id)
	}
	return scene.clone(), nil
}

// List returns all stored scene ids, sorted.
func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.scenes))
	for id := range s.scenes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
