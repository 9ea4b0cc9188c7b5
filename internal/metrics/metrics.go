// Package metrics exports colony loop telemetry to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"colonysim.ai/internal/protocol"
	"colonysim.ai/internal/sim/airlock"
	"colonysim.ai/internal/sim/colony"
)

var _ colony.MetricsSink = (*Metrics)(nil)

// Metrics holds the colony collectors. It is fed from the colony loop
// goroutine and scraped concurrently through Handler.
type Metrics struct {
	reg *prometheus.Registry
	f   promauto.Factory

	StepDuration  prometheus.Histogram
	AirlockEvents *prometheus.CounterVec
	Outcomes      *prometheus.CounterVec

	// Per-airlock gauges.
	AirlockState    *prometheus.GaugeVec
	AirlockQueued   *prometheus.GaugeVec
	CyclesCompleted *prometheus.GaugeVec
	SuitShortages   *prometheus.GaugeVec
}

// New registers the colony collectors on a fresh registry, labelled with the
// colony id.
func New(colonyID string) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"colony": colonyID}, reg))

	return &Metrics{
		reg: reg,
		f:   f,

		StepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "colony_step_duration_ms",
			Help:    "Wall time spent in one colony tick",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50},
		}),
		AirlockEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "colony_airlock_events_total",
			Help: "Airlock events emitted, by airlock and kind",
		}, []string{"airlock_id", "kind"}),
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "colony_traversal_outcomes_total",
			Help: "Finished traversals, by airlock, task, result and reason code",
		}, []string{"airlock_id", "task", "result", "code"}),

		AirlockState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "colony_airlock_state",
			Help: "Current cycle state (0 idle, 1 pressurizing, 2 pressurized, 3 depressurizing, 4 depressurized)",
		}, []string{"airlock_id"}),
		AirlockQueued: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "colony_airlock_queued",
			Help: "Agents waiting at either door",
		}, []string{"airlock_id"}),
		CyclesCompleted: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "colony_airlock_cycles_completed",
			Help: "Pressure cycles completed since start",
		}, []string{"airlock_id"}),
		SuitShortages: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "colony_airlock_suit_shortages",
			Help: "Consecutive failed suit checks",
		}, []string{"airlock_id"}),
	}
}

func (m *Metrics) ObserveStep(stepMS float64) { m.StepDuration.Observe(stepMS) }

func (m *Metrics) ObserveEvent(ev protocol.AirlockEvent) {
	m.AirlockEvents.WithLabelValues(ev.AirlockID, ev.Kind).Inc()
}

func (m *Metrics) ObserveOutcome(o protocol.OutcomeMsg) {
	m.Outcomes.WithLabelValues(o.AirlockID, o.Task, o.Result, o.Code).Inc()
}

func (m *Metrics) ObserveAirlock(id string, state airlock.CycleState, stats airlock.Stats, queued int) {
	m.AirlockState.WithLabelValues(id).Set(float64(state))
	m.AirlockQueued.WithLabelValues(id).Set(float64(queued))
	m.CyclesCompleted.WithLabelValues(id).Set(float64(stats.CyclesCompleted))
	m.SuitShortages.WithLabelValues(id).Set(float64(stats.SuitShortages))
}

// Registry exposes the underlying registry so callers can add collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// TrackLoop registers gauges read from the colony's published snapshot at
// scrape time.
func (m *Metrics) TrackLoop(snapshot func() colony.ColonyMetrics) {
	gauge := func(name, help string, v func(colony.ColonyMetrics) float64) {
		m.f.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 { return v(snapshot()) })
	}
	gauge("colony_tick", "Current colony tick", func(s colony.ColonyMetrics) float64 { return float64(s.Tick) })
	gauge("colony_millisols", "Simulated time elapsed", func(s colony.ColonyMetrics) float64 { return s.Millisols })
	gauge("colony_agents_outside", "Agents currently outside", func(s colony.ColonyMetrics) float64 { return float64(s.Outside) })
	gauge("colony_traversals_running", "Agents running an airlock traversal", func(s colony.ColonyMetrics) float64 { return float64(s.Traversals) })
	gauge("colony_observers", "Connected observer sessions", func(s colony.ColonyMetrics) float64 { return float64(s.Observers) })
	gauge("colony_inbox_depth", "Commands waiting for the next tick", func(s colony.ColonyMetrics) float64 { return float64(s.QueueDepths.Inbox) })
}
