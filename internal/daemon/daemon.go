// Package daemon wires the scenemix controller, scene store, compositor
// backend, control plane and health surface into one runnable service.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/visiona/scenemix"
	"github.com/visiona/scenemix/internal/config"
	"github.com/visiona/scenemix/internal/control"
)

// Daemon is the running scenemixd service.
type Daemon struct {
	cfg     *config.Config
	mixer   *scenemix.Mixer
	store   scenemix.SceneStore
	metrics *scenemix.Metrics
	emitter *control.Emitter
	handler *control.Handler

	started time.Time

	mu        sync.Mutex
	cancelRun context.CancelFunc
}

// New builds the service from configuration: scene store, compositor
// backend and mixer. The control plane and health listener start in Run.
func New(cfg *config.Config) (*Daemon, error) {
	d := &Daemon{
		cfg:     cfg,
		metrics: scenemix.NewMetrics(),
	}

	store, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}
	d.store = store

	comp, err := buildCompositor(cfg)
	if err != nil {
		return nil, err
	}

	mixer, err := scenemix.New(comp, store, scenemix.Config{
		CanvasWidth:      cfg.Canvas.Width,
		CanvasHeight:     cfg.Canvas.Height,
		PrerollCeiling:   cfg.PrerollCeiling(),
		DrainGrace:       cfg.DrainGrace(),
		BreakerThreshold: cfg.Pipeline.BreakerThreshold,
		Metrics:          d.metrics,
		OnAlert:          d.onAlert,
	})
	if err != nil {
		return nil, err
	}
	d.mixer = mixer

	if cfg.MQTT.Broker != "" {
		d.emitter = control.NewEmitter(cfg)
	} else {
		slog.Info("mqtt broker not configured, control plane disabled")
	}

	return d, nil
}

func buildStore(cfg *config.Config) (scenemix.SceneStore, error) {
	switch cfg.Catalog.Source {
	case "memory":
		return scenemix.NewMemoryStore(), nil
	case "file":
		return scenemix.NewFileStore(cfg.Catalog.Path)
	case "redis":
		return scenemix.NewRedisStore(scenemix.RedisConfig{
			Addr:      cfg.Catalog.Redis.Addr,
			Password:  cfg.Catalog.Redis.Password,
			DB:        cfg.Catalog.Redis.DB,
			KeyPrefix: cfg.Catalog.Redis.KeyPrefix,
			TTL:       time.Duration(cfg.Catalog.Redis.TTLS) * time.Second,
		})
	default:
		return nil, fmt.Errorf("unknown catalog source %q", cfg.Catalog.Source)
	}
}

func buildCompositor(cfg *config.Config) (scenemix.Compositor, error) {
	switch cfg.Graph.Driver {
	case "gst":
		return scenemix.NewGstCompositor(scenemix.GstConfig{
			CanvasWidth:   cfg.Canvas.Width,
			CanvasHeight:  cfg.Canvas.Height,
			FrameRate:     cfg.Canvas.FrameRate,
			VideoSink:     cfg.Graph.VideoSink,
			AudioSink:     cfg.Graph.AudioSink,
			OutputChannel: cfg.Graph.OutputChannel,
		})
	case "stub":
		return scenemix.NewStubCompositor(), nil
	default:
		return nil, fmt.Errorf("unknown graph driver %q", cfg.Graph.Driver)
	}
}

// Run starts the health listener, control plane and maintenance loops, then
// blocks until ctx is cancelled, a shutdown command arrives, or a component
// fails.
func (d *Daemon) Run(ctx context.Context) error {
	d.started = time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.mu.Lock()
	d.cancelRun = cancel
	d.mu.Unlock()

	g, gctx := errgroup.WithContext(runCtx)

	srv := d.newHealthServer()
	g.Go(func() error {
		slog.Info("health server listening", "port", d.cfg.Health.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutCancel()
		return srv.Shutdown(shutCtx)
	})

	if d.emitter != nil {
		if err := d.emitter.Connect(gctx); err != nil {
			return err
		}
		d.handler = control.NewHandler(d.cfg, d.emitter.Client, d.callbacks())
		if err := d.handler.Start(gctx); err != nil {
			return err
		}
	}

	if d.cfg.Reclaim.Enabled {
		g.Go(func() error {
			d.reclaimLoop(gctx)
			return nil
		})
	}

	slog.Info("scenemixd running",
		"instance", d.cfg.InstanceID,
		"graph_driver", d.cfg.Graph.Driver,
		"catalog", d.cfg.Catalog.Source)

	return g.Wait()
}

// reclaimLoop periodically sweeps idle pads. Sweeps that collide with an
// in-flight rebuild are skipped and tried again next interval.
func (d *Daemon) reclaimLoop(ctx context.Context) {
	interval := d.cfg.SweepInterval()
	idleAge := d.cfg.IdleAge()
	slog.Info("idle pad reclamation enabled", "idle_age", idleAge, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, _, err := d.mixer.ReclaimIdlePads(idleAge)
			switch {
			case errors.Is(err, scenemix.ErrRebuildInFlight):
				slog.Debug("reclaim sweep skipped, rebuild in flight")
			case err != nil:
				slog.Warn("reclaim sweep failed", "error", err)
			case len(removed) > 0:
				slog.Info("reclaim sweep removed idle pads", "sources", removed)
			}
		}
	}
}

// onAlert forwards controller alerts to the MQTT events topic.
func (d *Daemon) onAlert(alert scenemix.Alert) {
	if d.emitter == nil {
		return
	}
	if err := d.emitter.PublishAlert(alert); err != nil {
		slog.Warn("failed to publish alert", "kind", alert.Kind, "error", err)
	}
}

func (d *Daemon) requestShutdown() {
	d.mu.Lock()
	cancel := d.cancelRun
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Shutdown stops components in dependency order: command intake first, then
// the mixer and its graphs, then the store, the emitter last so final
// alerts still go out.
func (d *Daemon) Shutdown(ctx context.Context) error {
	slog.Info("scenemixd shutting down")

	if d.handler != nil {
		if err := d.handler.Stop(); err != nil {
			slog.Warn("control handler stop returned error", "error", err)
		}
	}
	if err := d.mixer.Close(); err != nil {
		slog.Warn("mixer close returned error", "error", err)
	}
	if closer, ok := d.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			slog.Warn("scene store close returned error", "error", err)
		}
	}
	if d.emitter != nil {
		if err := d.emitter.Disconnect(); err != nil {
			slog.Warn("mqtt disconnect returned error", "error", err)
		}
	}

	slog.Info("scenemixd stopped")
	return nil
}

// ShutdownTimeout returns the configured shutdown budget.
func (d *Daemon) ShutdownTimeout() time.Duration {
	return d.cfg.ShutdownTimeout()
}

// callbacks adapts mixer operations to control plane commands.
func (d *Daemon) callbacks() control.CommandCallbacks {
	return control.CommandCallbacks{
		OnApplyScene: func(sceneID string) (map[string]interface{}, error) {
			ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PrerollCeiling()+5*time.Second)
			defer cancel()
			res, err := d.mixer.ApplySceneWait(ctx, sceneID)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"scene_id":   res.SceneID,
				"mode":       res.ModeName,
				"latency_ms": res.LatencyMS,
				"generation": res.Generation,
			}, nil
		},

		OnGetStatus: d.statusMap,

		OnListScenes: func() (map[string]interface{}, error) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			ids, err := d.mixer.ListScenes(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"scenes": ids,
				"count":  len(ids),
			}, nil
		},

		OnPutScene: func(params map[string]interface{}) error {
			putter, ok := d.store.(scenemix.ScenePutter)
			if !ok {
				return fmt.Errorf("catalog source %q is read-only", d.cfg.Catalog.Source)
			}
			raw, ok := params["scene"]
			if !ok {
				return fmt.Errorf("missing 'scene' parameter")
			}
			encoded, err := json.Marshal(raw)
			if err != nil {
				return fmt.Errorf("invalid scene payload: %w", err)
			}
			var scene scenemix.Scene
			if err := json.Unmarshal(encoded, &scene); err != nil {
				return fmt.Errorf("invalid scene payload: %w", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return putter.Put(ctx, scene)
		},

		OnRegisterSource: func(id, kind string) error {
			if kind == "" {
				kind = string(scenemix.SourceCamera)
			}
			return d.mixer.RegisterSource(id, scenemix.SourceKind(kind))
		},

		OnUnregisterSource: func(id string) error {
			return d.mixer.UnregisterSource(id)
		},

		OnSetSourceLive: func(id string, live bool) error {
			return d.mixer.SetSourceLive(id, live)
		},

		OnResetBreaker: func() error {
			d.mixer.ResetBreaker()
			return nil
		},

		OnReclaimPads: func() (map[string]interface{}, error) {
			removed, ticket, err := d.mixer.ReclaimIdlePads(d.cfg.IdleAge())
			if err != nil {
				return nil, err
			}
			if ticket == nil {
				return map[string]interface{}{
					"removed": []string{},
					"message": "nothing to reclaim",
				}, nil
			}
			return map[string]interface{}{
				"removed": removed,
				"count":   len(removed),
				"message": "shrinking rebuild started",
			}, nil
		},

		OnShutdown: func() error {
			d.requestShutdown()
			return nil
		},
	}
}

func (d *Daemon) statusMap() map[string]interface{} {
	st := d.mixer.Status()
	reg := d.mixer.RegistryStats()

	out := map[string]interface{}{
		"instance_id":          d.cfg.InstanceID,
		"uptime_seconds":       time.Since(d.started).Seconds(),
		"pipeline_state":       st.PipelineStateName,
		"active_scene_id":      st.ActiveSceneID,
		"fingerprint":          st.Fingerprint,
		"generation":           st.Generation,
		"pad_count":            st.PadCount,
		"rebuild_in_flight":    st.RebuildInFlight,
		"breaker_open":         st.BreakerOpen,
		"consecutive_failures": st.ConsecutiveFailures,
		"applies":              st.Applies,
		"fast_path_applies":    st.FastPathApplies,
		"rebuilds":             st.Rebuilds,
		"failed_rebuilds":      st.FailedRebuilds,
		"sources_registered":   reg.Registered,
		"sources_live":         reg.Live,
	}
	if st.InFlightTarget != nil {
		out["in_flight_target"] = st.InFlightTarget
	}
	if d.emitter != nil {
		out["mqtt"] = d.emitter.Stats()
	}
	return out
}
