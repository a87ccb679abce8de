// Package metrics exposes agent activity as Prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

const Namespace = "gpudebug"

type Metrics struct {
	Events              *prometheus.CounterVec
	WavesDecoded        prometheus.Counter
	FaultyWaves         prometheus.Counter
	QueuesTracked       prometheus.Gauge
	CodeObjectsTracked  prometheus.Gauge
	DisassemblyFailures prometheus.Counter
	SymbolCache         *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "events_total",
				Help:      "Runtime and fault events handled, by kind",
			},
			[]string{"kind"},
		),
		WavesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "waves_decoded_total",
			Help:      "Wavefronts reconstructed from context save areas",
		}),
		FaultyWaves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "faulty_waves_total",
			Help:      "Wavefronts classified as faulty",
		}),
		QueuesTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "queues_tracked",
			Help:      "Queues currently registered",
		}),
		CodeObjectsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "code_objects_tracked",
			Help:      "Code objects currently loaded",
		}),
		DisassemblyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "disassembly_failures_total",
			Help:      "Disassembler invocations that failed",
		}),
		SymbolCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "symbol_cache_total",
				Help:      "Symbol table lookups by cache result",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Events, m.WavesDecoded, m.FaultyWaves, m.QueuesTracked,
		m.CodeObjectsTracked, m.DisassemblyFailures, m.SymbolCache,
	}
}

func (m *Metrics) Register(reg prometheus.Registerer) error {
	var err error
	for _, c := range m.collectors() {
		err = multierr.Append(err, reg.Register(c))
	}
	return err
}

func (m *Metrics) Unregister(reg prometheus.Registerer) {
	for _, c := range m.collectors() {
		reg.Unregister(c)
	}
}

func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(kind).Inc()
}

func (m *Metrics) Decoded(n int) {
	if m == nil {
		return
	}
	m.WavesDecoded.Add(float64(n))
}

func (m *Metrics) Faulty(n int) {
	if m == nil {
		return
	}
	m.FaultyWaves.Add(float64(n))
}

func (m *Metrics) Tracked(queues, codeObjects int) {
	if m == nil {
		return
	}
	m.QueuesTracked.Set(float64(queues))
	m.CodeObjectsTracked.Set(float64(codeObjects))
}

func (m *Metrics) DisassemblyFailed() {
	if m == nil {
		return
	}
	m.DisassemblyFailures.Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.SymbolCache.WithLabelValues("hit").Inc()
		return
	}
	m.SymbolCache.WithLabelValues("miss").Inc()
}
