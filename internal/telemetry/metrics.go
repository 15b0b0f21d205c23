// Package telemetry owns the process metrics registry and the tracer
// provider.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joelkehle/gamerank/internal/game"
)

const namespace = "gamerank"

// Metrics holds every pipeline metric on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	runs             *prometheus.CounterVec
	runDuration      prometheus.Histogram
	stageCandidates  *prometheus.GaugeVec
	trendLookups     *prometheus.CounterVec
	trendLatency     *prometheus.HistogramVec
	evaluations      *prometheus.CounterVec
	persistFailures  *prometheus.CounterVec
	runningIndicator prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	auto := promauto.With(reg)
	return &Metrics{
		registry: reg,
		runs: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by terminal state.",
		}, []string{"state"}),
		runDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_run_duration_seconds",
			Help:      "Wall time of completed pipeline runs.",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 2400},
		}),
		stageCandidates: auto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_candidates",
			Help:      "Candidates leaving each stage in the last run.",
		}, []string{"stage"}),
		trendLookups: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trend_lookups_total",
			Help:      "Trend provider lookups by outcome (hit, miss, error).",
		}, []string{"provider", "outcome"}),
		trendLatency: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trend_lookup_duration_seconds",
			Help:      "Trend provider call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		evaluations: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Evaluations by game type and outcome (scored, defaulted).",
		}, []string{"game_type", "outcome"}),
		persistFailures: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Per-item persistence failures.",
		}, []string{"op"}),
		runningIndicator: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a pipeline run is active.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) RunStarted() { m.runningIndicator.Set(1) }

func (m *Metrics) RunFinished(state string, elapsed time.Duration) {
	m.runningIndicator.Set(0)
	m.runs.WithLabelValues(state).Inc()
	m.runDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) StageCandidates(stage string, n int) {
	m.stageCandidates.WithLabelValues(stage).Set(float64(n))
}

// ObserveTrendLookup matches trend.Observer.
func (m *Metrics) ObserveTrendLookup(provider, outcome string, elapsed time.Duration) {
	m.trendLookups.WithLabelValues(provider, outcome).Inc()
	m.trendLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveEvaluation(gameType game.GameType, outcome string) {
	m.evaluations.WithLabelValues(string(gameType), outcome).Inc()
}

func (m *Metrics) PersistFailure(op string) {
	m.persistFailures.WithLabelValues(op).Inc()
}
