package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Sync-related Prometheus metrics. Defined in a standalone package to avoid
// import cycles between the worker and HTTP packages.

var (
	EntriesApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_entries_applied_total",
		Help: "Entradas del sync_log aplicadas con éxito en el destino",
	}, []string{"origin", "target", "table"})

	EntriesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_entries_skipped_total",
		Help: "Entradas descartadas por ser causalmente viejas",
	}, []string{"origin", "target", "table"})

	ConflictsDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_conflicts_detected_total",
		Help: "Conflictos detectados y registrados para resolución manual",
	}, []string{"origin", "target", "table"})

	ConflictsResolved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_conflicts_resolved_total",
		Help: "Conflictos resueltos por un operador",
	})

	ApplyLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_apply_latency_ms",
		Help:    "Latencia de apply de una entrada en milisegundos",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	CursorLag = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sync_cursor_lag_entries",
		Help: "Entradas del sync_log por detrás del cursor de cada origen",
	}, []string{"origin"})

	PendingConflicts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sync_pending_conflicts",
		Help: "Conflictos en estado pending",
	})
)

// RegisterSync registers the sync metrics on the given registry (or default if nil).
func RegisterSync(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		EntriesApplied,
		EntriesSkipped,
		ConflictsDetected,
		ConflictsResolved,
		ApplyLatency,
		CursorLag,
		PendingConflicts,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
