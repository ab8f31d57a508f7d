package scenemix

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the Prometheus collectors for one Mixer. It carries its own
// registry so embedding applications can mount the handler wherever they
// like without global registration conflicts.
type Metrics struct {
	registry *prometheus.Registry

	appliesTotal    *prometheus.CounterVec
	applyLatency    *prometheus.HistogramVec
	rebuildsTotal   *prometheus.CounterVec
	prerollSeconds  prometheus.Histogram
	errorsTotal     *prometheus.CounterVec
	padsReclaimed   prometheus.Counter
	fingerprintSize prometheus.Gauge
	generation      prometheus.Gauge
	breakerOpen     prometheus.Gauge
}

// NewMetrics creates the collector set on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		appliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scenemix_applies_total",
			Help: "Scene applies served, by command path",
		}, []string{"mode"}),
		applyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scenemix_apply_latency_seconds",
			Help:    "Observed apply latency from request to scene in effect",
			Buckets: []float64{.001, .0025, .005, .01, .02, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"mode"}),
		rebuildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scenemix_rebuilds_total",
			Help: "Pipeline rebuilds, by result",
		}, []string{"result"}),
		prerollSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scenemix_preroll_seconds",
			Help:    "Time new graphs spent prerolling before going live",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scenemix_errors_total",
			Help: "Errors surfaced by the controller, by kind",
		}, []string{"kind"}),
		padsReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scenemix_pads_reclaimed_total",
			Help: "Idle pads removed by reclamation",
		}),
		fingerprintSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scenemix_fingerprint_size",
			Help: "Sources covered by the live graph",
		}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scenemix_generation",
			Help: "Generation of the live graph",
		}),
		breakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scenemix_breaker_open",
			Help: "1 while the rebuild circuit breaker is open",
		}),
	}

	m.registry.MustRegister(
		m.appliesTotal,
		m.applyLatency,
		m.rebuildsTotal,
		m.prerollSeconds,
		m.errorsTotal,
		m.padsReclaimed,
		m.fingerprintSize,
		m.generation,
		m.breakerOpen,
	)
	return m
}

func (m *Metrics) ObserveApply(mode ApplyMode, d time.Duration) {
	m.appliesTotal.WithLabelValues(mode.String()).Inc()
	m.applyLatency.WithLabelValues(mode.String()).Observe(d.Seconds())
}

func (m *Metrics) ObserveRebuild(result string) {
	m.rebuildsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObservePreroll(d time.Duration) {
	m.prerollSeconds.Observe(d.Seconds())
}

func (m *Metrics) IncError(kind string) {
	m.errorsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) AddReclaimed(n int) {
	m.padsReclaimed.Add(float64(n))
}

func (m *Metrics) SetFingerprintSize(n int) {
	m.fingerprintSize.Set(float64(n))
}

func (m *Metrics) SetGeneration(g uint64) {
	m.generation.Set(float64(g))
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if open {
		m.breakerOpen.Set(1)
	} else {
		m.breakerOpen.Set(0)
	}
}

// Handler returns an http.Handler serving this registry. updateGauges, if
// non-nil, runs before each scrape so point-in-time gauges reflect current
// state rather than the last recorded change.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	promHandler := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promHandler.ServeHTTP(w, r)
	})
}
