package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// newHealthServer builds the HTTP surface: liveness, readiness and
// Prometheus metrics.
func (d *Daemon) newHealthServer() *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", d.handleHealth)
	r.Get("/readiness", d.handleReadiness)
	r.Method(http.MethodGet, "/metrics", d.metrics.Handler(d.updateGauges))

	return &http.Server{
		Addr:         ":" + d.cfg.Health.Port,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// handleHealth is pure liveness: the process is up and serving.
func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "alive",
		"instance_id":    d.cfg.InstanceID,
		"uptime_seconds": time.Since(d.started).Seconds(),
	})
}

// handleReadiness reports whether the service can take scene traffic.
// A suspended controller or a lost control plane degrades readiness; a
// closed mixer fails it.
func (d *Daemon) handleReadiness(w http.ResponseWriter, r *http.Request) {
	st := d.mixer.Status()

	status := "ready"
	code := http.StatusOK
	var reasons []string

	if st.Closed {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
		reasons = append(reasons, "mixer closed")
	} else {
		if st.BreakerOpen {
			status = "degraded"
			reasons = append(reasons, fmt.Sprintf("rebuilds suspended after %d consecutive failures", st.ConsecutiveFailures))
		}
		if d.emitter != nil && !d.emitter.Stats().Connected {
			status = "degraded"
			reasons = append(reasons, "mqtt disconnected")
		}
	}

	body := map[string]interface{}{
		"status":          status,
		"pipeline_state":  st.PipelineStateName,
		"active_scene_id": st.ActiveSceneID,
		"generation":      st.Generation,
	}
	if len(reasons) > 0 {
		body["reasons"] = reasons
	}
	writeJSON(w, code, body)
}

// updateGauges refreshes point-in-time gauges before each scrape.
func (d *Daemon) updateGauges() {
	st := d.mixer.Status()
	d.metrics.SetFingerprintSize(len(st.Fingerprint))
	d.metrics.SetGeneration(st.Generation)
	d.metrics.SetBreakerOpen(st.BreakerOpen)
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
