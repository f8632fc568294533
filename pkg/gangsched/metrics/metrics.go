// Package metrics defines the Prometheus collectors the gang
// scheduler exposes: reconfiguration outcomes, barrier wait latency,
// and cohort/muxgroup topology sizes. Modelled on the teacher's
// metrics.Register() call in cmd/koord-scheduler/app/server.go.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "gangsched"

var (
	// ReconfigurationsTotal counts reconfiguration attempts by
	// outcome: applied, rejected, or busy.
	ReconfigurationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconfig",
		Name:      "total",
		Help:      "Total reconfiguration attempts by outcome.",
	}, []string{"outcome"})

	// BarrierWaitSeconds observes the wall-clock duration of each
	// reconfiguration's whole two-phase barrier, once per
	// reconfiguration.
	BarrierWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "reconfig",
		Name:      "barrier_wait_seconds",
		Help:      "Wall-clock duration of a reconfiguration's two-phase barrier.",
		Buckets:   prometheus.DefBuckets,
	})

	// CohortCount reports the number of cohorts in the current
	// topology.
	CohortCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "topology",
		Name:      "cohort_count",
		Help:      "Number of cohorts in the current topology.",
	})

	// MuxgroupCount reports the number of muxgroups in the current
	// topology.
	MuxgroupCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "topology",
		Name:      "muxgroup_count",
		Help:      "Number of muxgroups in the current topology.",
	})

	// SchedulabilityRejectionsTotal counts admission-test failures.
	SchedulabilityRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "admission",
		Name:      "rejections_total",
		Help:      "Total configurations rejected by the schedulability test.",
	})
)

// Register registers every collector in this package with reg.
// Calling it twice with the same registry returns the AlreadyRegistered
// error from the first duplicate, matching prometheus.Registry's own
// contract.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		ReconfigurationsTotal,
		BarrierWaitSeconds,
		CohortCount,
		MuxgroupCount,
		SchedulabilityRejectionsTotal,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
