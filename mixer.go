package scenemix

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultPrerollCeiling   = 10 * time.Second
	DefaultDrainGrace       = 500 * time.Millisecond
	DefaultBreakerThreshold = 3
)

// Config configures a Mixer. Canvas dimensions are required; everything
// else has a working default.
type Config struct {
	// CanvasWidth and CanvasHeight are the output canvas size in pixels.
	// Slot geometry resolves against them.
	CanvasWidth  int
	CanvasHeight int

	// PrerollCeiling bounds how long a new graph may preroll before the
	// rebuild is declared failed. Default 10s.
	PrerollCeiling time.Duration

	// DrainGrace is how long a replaced graph keeps running after the swap
	// before teardown, covering frames still in flight. Default 500ms.
	DrainGrace time.Duration

	// BreakerThreshold is the number of consecutive rebuild failures that
	// opens the circuit breaker. Zero means the default of 3; a negative
	// value disables the breaker.
	BreakerThreshold int

	// Metrics receives controller instrumentation. A private set is created
	// when nil; pass a shared one to expose it over HTTP.
	Metrics *Metrics

	// OnAlert, when set, receives operator alerts. Invoked on its own
	// goroutine per alert.
	OnAlert func(Alert)
}

func (c Config) withDefaults() (Config, error) {
	if c.CanvasWidth <= 0 || c.CanvasHeight <= 0 {
		return c, fmt.Errorf("scenemix: canvas dimensions are required (got %dx%d)",
			c.CanvasWidth, c.CanvasHeight)
	}
	if c.PrerollCeiling <= 0 {
		c.PrerollCeiling = DefaultPrerollCeiling
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = DefaultDrainGrace
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = DefaultBreakerThreshold
	} else if c.BreakerThreshold < 0 {
		c.BreakerThreshold = 0
	}
	if c.Metrics == nil {
		c.Metrics = NewMetrics()
	}
	return c, nil
}

// Mixer is the public face of the controller: source registration, scene
// lookup and the apply entry point, over one compositor collaborator.
//
// All methods are safe for concurrent use.
type Mixer struct {
	registry *Registry
	catalog  *Catalog
	coord    *coordinator
	metrics  *Metrics
	closed   atomic.Bool
}

// New creates a Mixer over the given compositor and scene store.
func New(comp Compositor, store SceneStore, cfg Config) (*Mixer, error) {
	if comp == nil {
		return nil, fmt.Errorf("scenemix: compositor must not be nil")
	}
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	registry := NewRegistry()
	catalog, err := NewCatalog(store, registry)
	if err != nil {
		return nil, err
	}
	pads := newPadController(comp, cfg.CanvasWidth, cfg.CanvasHeight)

	m := &Mixer{
		registry: registry,
		catalog:  catalog,
		coord:    newCoordinator(comp, pads, cfg.Metrics, cfg),
		metrics:  cfg.Metrics,
	}
	slog.Info("scenemix: mixer created",
		"canvas", fmt.Sprintf("%dx%d", cfg.CanvasWidth, cfg.CanvasHeight),
		"preroll_ceiling", cfg.PrerollCeiling,
		"drain_grace", cfg.DrainGrace,
		"breaker_threshold", cfg.BreakerThreshold)
	return m, nil
}

// RegisterSource announces a source to the registry.
func (m *Mixer) RegisterSource(id string, kind SourceKind) error {
	if m.closed.Load() {
		return ErrMixerClosed
	}
	return m.registry.Register(id, kind)
}

// UnregisterSource removes a source from the active set. Scenes referencing
// it stay valid and its pad, if any, stays on the graph in hidden state.
func (m *Mixer) UnregisterSource(id string) error {
	if m.closed.Load() {
		return ErrMixerClosed
	}
	return m.registry.Unregister(id)
}

// SetSourceLive updates a source's liveness flag.
func (m *Mixer) SetSourceLive(id string, live bool) error {
	if m.closed.Load() {
		return ErrMixerClosed
	}
	return m.registry.SetLive(id, live)
}

// Sources returns the active source records.
func (m *Mixer) Sources() []Source {
	return m.registry.List()
}

// ListScenes returns the ids available in the scene store.
func (m *Mixer) ListScenes(ctx context.Context) ([]string, error) {
	return m.catalog.List(ctx)
}

// NeedsRebuild reports whether applying the scene right now would require a
// pipeline rebuild. Validation errors surface the same way ApplyScene
// reports them.
func (m *Mixer) NeedsRebuild(ctx context.Context, sceneID string) (bool, error) {
	scene, err := m.catalog.Get(ctx, sceneID)
	if err != nil {
		return false, err
	}
	return m.coord.needsRebuild(scene), nil
}

// ApplyScene requests that sceneID become the output. Validation failures
// return synchronously with no pipeline change. Otherwise the returned
// ticket reports completion: already resolved for fast-path applies,
// pending for rebuilds.
func (m *Mixer) ApplyScene(ctx context.Context, sceneID string) (*ApplyTicket, error) {
	start := time.Now()
	if m.closed.Load() {
		return nil, &FatalError{Reason: "mixer is closed", Err: ErrMixerClosed}
	}
	scene, err := m.catalog.Get(ctx, sceneID)
	if err != nil {
		m.metrics.IncError("validation")
		return nil, err
	}
	return m.coord.apply(scene, start)
}

// ApplySceneWait is ApplyScene followed by Wait on the ticket.
func (m *Mixer) ApplySceneWait(ctx context.Context, sceneID string) (ApplyResult, error) {
	ticket, err := m.ApplyScene(ctx, sceneID)
	if err != nil {
		return ApplyResult{}, err
	}
	return ticket.Wait(ctx)
}

// Status returns a snapshot of controller state.
func (m *Mixer) Status() Status {
	return m.coord.status()
}

// RegistryStats returns source registry counters.
func (m *Mixer) RegistryStats() RegistryStats {
	return m.registry.Stats()
}

// ResetBreaker closes the rebuild circuit breaker after operator
// intervention. It does not retry anything by itself; the next apply does.
func (m *Mixer) ResetBreaker() {
	m.coord.resetBreaker()
}

// ReclaimIdlePads shrinks the live graph's pad set by rebuilding without
// sources that are not in the active scene, not live, and unused for at
// least maxIdle. This is the one deliberate exception to superset-only
// growth and never runs unless called. Returns the removed source ids and a
// ticket for the shrinking rebuild; all nil when there is nothing to
// reclaim.
func (m *Mixer) ReclaimIdlePads(maxIdle time.Duration) ([]string, *ApplyTicket, error) {
	if m.closed.Load() {
		return nil, nil, &FatalError{Reason: "mixer is closed", Err: ErrMixerClosed}
	}
	return m.coord.reclaimIdle(maxIdle, m.registry.ListLive())
}

// Close shuts the mixer down and tears down every graph. Applies after
// Close fail with a *FatalError. Safe to call more than once.
func (m *Mixer) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	slog.Info("scenemix: mixer closing")
	return m.coord.close()
}
