package kernel

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the kernel's Prometheus collectors, mirroring the shape of
// the teacher's infrastructure/metrics.Metrics: one struct of named
// collectors registered together, rather than ad-hoc globals.
type Metrics struct {
	ActionsTotal       *prometheus.CounterVec
	InvocationsTotal   *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec
	ScripTransferred   prometheus.Counter
	EventsTotal        *prometheus.CounterVec
	DanglingContracts  prometheus.Gauge
	MintAuctionsTotal  *prometheus.CounterVec
	FrozenAgents       prometheus.Gauge
}

// NewMetrics creates a Metrics instance and registers it with registerer.
// Pass prometheus.DefaultRegisterer for the process-global registry, or a
// fresh prometheus.NewRegistry() in tests to avoid collector collisions
// across parallel test binaries.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_actions_total",
				Help: "Total number of ExecuteAction calls by intent kind and outcome",
			},
			[]string{"kind", "success"},
		),
		InvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_invocations_total",
				Help: "Total number of artifact invocations by outcome",
			},
			[]string{"success"},
		),
		InvocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kernel_invocation_duration_seconds",
				Help:    "Artifact invocation wall-clock duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2},
			},
			[]string{"success"},
		),
		ScripTransferred: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "kernel_scrip_transferred_total",
				Help: "Total scrip moved by successful paid invocations",
			},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_events_total",
				Help: "Total number of structured events emitted, by event type",
			},
			[]string{"event_type"},
		),
		DanglingContracts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kernel_dangling_contract_checks_total",
				Help: "Cumulative number of permission checks that fell back to the default contract",
			},
		),
		MintAuctionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_mint_auctions_total",
				Help: "Total number of mint auction resolutions, by outcome",
			},
			[]string{"outcome"},
		),
		FrozenAgents: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kernel_frozen_agents",
				Help: "Current number of agents with zero llm_tokens remaining",
			},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.ActionsTotal,
			m.InvocationsTotal,
			m.InvocationDuration,
			m.ScripTransferred,
			m.EventsTotal,
			m.DanglingContracts,
			m.MintAuctionsTotal,
			m.FrozenAgents,
		)
	}
	return m
}

// WithMetrics attaches m to the World: every ExecuteAction call, invocation
// and event increments the relevant collector. Without this option the
// World runs with metrics disabled (nil checks guard every call site).
func WithMetrics(m *Metrics) Option {
	return func(w *World) { w.metrics = m }
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// observeAction records one ExecuteAction outcome, a no-op if metrics
// weren't configured.
func (w *World) observeAction(kind IntentKind, success bool) {
	if w.metrics == nil {
		return
	}
	w.metrics.ActionsTotal.WithLabelValues(string(kind), boolLabel(success)).Inc()
}

// observeEvent records one emitted event by type, a no-op if metrics
// weren't configured.
func (w *World) observeEvent(eventType string) {
	if w.metrics == nil {
		return
	}
	w.metrics.EventsTotal.WithLabelValues(eventType).Inc()
}

// observeInvocation records one invocation's success/failure and duration,
// plus scrip moved on success, a no-op if metrics weren't configured.
func (w *World) observeInvocation(success bool, durationSeconds float64, scripPaid int64) {
	if w.metrics == nil {
		return
	}
	label := boolLabel(success)
	w.metrics.InvocationsTotal.WithLabelValues(label).Inc()
	w.metrics.InvocationDuration.WithLabelValues(label).Observe(durationSeconds)
	if success && scripPaid > 0 {
		w.metrics.ScripTransferred.Add(float64(scripPaid))
	}
}

// RefreshGauges recomputes point-in-time gauges (frozen agent count) from
// current world state. Hosts call this on a schedule (e.g. alongside the
// mint-auction tick) since gauges otherwise only reflect the last write.
func (w *World) RefreshGauges() {
	if w.metrics == nil {
		return
	}
	w.metrics.FrozenAgents.Set(float64(len(w.FrozenAgents())))
	w.metrics.DanglingContracts.Set(float64(w.checker.DanglingCount()))
}
