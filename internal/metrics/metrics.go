// Package metrics exposes array and resync state as Prometheus collectors
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	Namespace = "mdraid"
)

// Metrics groups the collectors updated by the array manager and the
// recovery engine. Each instance owns its registry so tests stay isolated.
type Metrics struct {
	Registry *prometheus.Registry

	ArrayState        *prometheus.GaugeVec
	ArrayDisks        *prometheus.GaugeVec
	ArrayEvents       *prometheus.GaugeVec
	SyncCompleted     *prometheus.GaugeVec
	SyncSpeed         *prometheus.GaugeVec
	SuperblockWrites  *prometheus.CounterVec
	RecoveryOutcomes  *prometheus.CounterVec
	AssemblyEvictions *prometheus.CounterVec
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		ArrayState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "array",
				Name:      "state",
				Help:      "Array lifecycle state, 1 for the current state.",
			}, []string{"array", "state"}),

		ArrayDisks: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "array",
				Name:      "disks",
				Help:      "Disk counters recorded in the array superblock.",
			}, []string{"array", "type"}),

		ArrayEvents: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "array",
				Name:      "events",
				Help:      "Superblock event counter.",
			}, []string{"array"}),

		SyncCompleted: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "sync",
				Name:      "completed_blocks",
				Help:      "Blocks synchronized by the running resync.",
			}, []string{"array"}),

		SyncSpeed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "sync",
				Name:      "speed_kib",
				Help:      "Resync speed in KiB/s.",
			}, []string{"array"}),

		SuperblockWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "superblock",
				Name:      "writes_total",
				Help:      "Counter of superblock writes to member devices.",
			}, []string{"result"}),

		RecoveryOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "recovery",
				Name:      "outcomes_total",
				Help:      "Counter of finished resync and reconstruction runs.",
			}, []string{"kind", "result"}),

		AssemblyEvictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "assembly",
				Name:      "evictions_total",
				Help:      "Counter of candidates evicted during assembly.",
			}, []string{"reason"}),
	}

	m.Registry.MustRegister(
		m.ArrayState,
		m.ArrayDisks,
		m.ArrayEvents,
		m.SyncCompleted,
		m.SyncSpeed,
		m.SuperblockWrites,
		m.RecoveryOutcomes,
		m.AssemblyEvictions,
	)
	return m
}

var arrayStates = []string{"unassembled", "stopped", "running", "read-only", "destroyed"}

// SetArrayState marks state as the current state of array
func (m *Metrics) SetArrayState(array, state string) {
	if m == nil {
		return
	}
	for _, s := range arrayStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ArrayState.WithLabelValues(array, s).Set(v)
	}
}

// SetDisks records the superblock disk counters of array
func (m *Metrics) SetDisks(array string, active, working, failed, spare uint32) {
	if m == nil {
		return
	}
	m.ArrayDisks.WithLabelValues(array, "active").Set(float64(active))
	m.ArrayDisks.WithLabelValues(array, "working").Set(float64(working))
	m.ArrayDisks.WithLabelValues(array, "failed").Set(float64(failed))
	m.ArrayDisks.WithLabelValues(array, "spare").Set(float64(spare))
}

func (m *Metrics) SetEvents(array string, events uint64) {
	if m == nil {
		return
	}
	m.ArrayEvents.WithLabelValues(array).Set(float64(events))
}

func (m *Metrics) SetSyncProgress(array string, blocks, speedKiB uint64) {
	if m == nil {
		return
	}
	m.SyncCompleted.WithLabelValues(array).Set(float64(blocks))
	m.SyncSpeed.WithLabelValues(array).Set(float64(speedKiB))
}

func (m *Metrics) SuperblockWrite(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.SuperblockWrites.WithLabelValues(result).Inc()
}

func (m *Metrics) RecoveryFinished(kind, result string) {
	if m == nil {
		return
	}
	m.RecoveryOutcomes.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Evicted(reason string) {
	if m == nil {
		return
	}
	m.AssemblyEvictions.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
