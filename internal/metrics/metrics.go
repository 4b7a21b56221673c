package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SlotClaims = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_slot_claims_total",
		Help: "Slot claim attempts by result.",
	}, []string{"result"})

	SlotReleases = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_slot_releases_total",
		Help: "Slots handed back by reason (rejected, expired, deleted).",
	}, []string{"reason"})

	Resolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_submission_resolutions_total",
		Help: "Submission reviews by decision.",
	}, []string{"decision"})

	LedgerEntries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_ledger_entries_total",
		Help: "Ledger entries appended by kind.",
	}, []string{"kind"})

	IntegrityIncidents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_integrity_incidents_total",
		Help: "Integrity failures escalated for manual review.",
	}, []string{"code"})

	SweepRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_sweep_runs_total",
		Help: "Sweep cycles by outcome (ok, skipped, error).",
	}, []string{"outcome"})

	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "taskflow_sweep_duration_seconds",
		Help:    "Duration of completed sweep cycles.",
		Buckets: prometheus.DefBuckets,
	})

	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_listing_cache_lookups_total",
		Help: "Active listing cache lookups by result (hit, miss).",
	}, []string{"result"})
)

// Collectors returns every collector defined by the service.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		SlotClaims,
		SlotReleases,
		Resolutions,
		LedgerEntries,
		IntegrityIncidents,
		SweepRuns,
		SweepDuration,
		CacheLookups,
	}
}

// Register registers the service collectors with reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
