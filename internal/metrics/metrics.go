// Package metrics registers the Prometheus instrumentation for every
// outbox subsystem, following the one-struct-per-subsystem convention the
// rest of this codebase uses for its repositories and queues.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ChainMetrics instruments the processor chain's per-record outcomes.
type ChainMetrics struct {
	Outcomes *prometheus.CounterVec
}

// NewChainMetrics registers chain metrics against reg. With a nil reg the
// metrics are created but not registered with any registry.
func NewChainMetrics(reg prometheus.Registerer) *ChainMetrics {
	factory := promauto.With(reg)
	return &ChainMetrics{
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outbox",
			Subsystem: "chain",
			Name:      "record_outcomes_total",
			Help:      "Count of processor chain outcomes by result.",
		}, []string{"outcome"}),
	}
}

// ObserveOutcome increments the outcome counter. A nil receiver is a no-op
// so components can be wired without metrics in tests.
func (m *ChainMetrics) ObserveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(outcome).Inc()
}

// SchedulerMetrics instruments poll ticks and dispatched work.
type SchedulerMetrics struct {
	TicksTotal       prometheus.Counter
	RecordsDispatched prometheus.Counter
	TickDuration     prometheus.Histogram
}

func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	factory := promauto.With(reg)
	return &SchedulerMetrics{
		TicksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "outbox",
			Subsystem: "scheduler",
			Name:      "poll_ticks_total",
			Help:      "Count of scheduler poll ticks executed.",
		}),
		RecordsDispatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "outbox",
			Subsystem: "scheduler",
			Name:      "records_dispatched_total",
			Help:      "Count of records handed to a worker for processing.",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "outbox",
			Subsystem: "scheduler",
			Name:      "poll_tick_duration_seconds",
			Help:      "Duration of a single scheduler poll tick.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *SchedulerMetrics) ObserveTick(seconds float64) {
	if m == nil {
		return
	}
	m.TicksTotal.Inc()
	m.TickDuration.Observe(seconds)
}

func (m *SchedulerMetrics) ObserveDispatch() {
	if m == nil {
		return
	}
	m.RecordsDispatched.Inc()
}

// PartitionMetrics instruments rebalance cycles.
type PartitionMetrics struct {
	RebalanceCycles prometheus.Counter
	Claimed         prometheus.Counter
	Released        prometheus.Counter
	AssignedGauge   prometheus.Gauge
}

func NewPartitionMetrics(reg prometheus.Registerer) *PartitionMetrics {
	factory := promauto.With(reg)
	return &PartitionMetrics{
		RebalanceCycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "outbox",
			Subsystem: "partition",
			Name:      "rebalance_cycles_total",
			Help:      "Count of rebalance cycles executed.",
		}),
		Claimed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "outbox",
			Subsystem: "partition",
			Name:      "claimed_total",
			Help:      "Count of partitions claimed by this instance.",
		}),
		Released: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "outbox",
			Subsystem: "partition",
			Name:      "released_total",
			Help:      "Count of partitions released by this instance.",
		}),
		AssignedGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "outbox",
			Subsystem: "partition",
			Name:      "assigned_current",
			Help:      "Number of partitions currently assigned to this instance.",
		}),
	}
}

// RepositoryMetrics instruments a persistence adapter's query performance.
type RepositoryMetrics struct {
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

func NewRepositoryMetrics(reg prometheus.Registerer, adapter string) *RepositoryMetrics {
	factory := promauto.With(reg)
	return &RepositoryMetrics{
		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "outbox",
			Subsystem:   "repository",
			Name:        "query_duration_seconds",
			Help:        "Duration of repository queries by operation.",
			ConstLabels: prometheus.Labels{"adapter": adapter},
			Buckets:     prometheus.DefBuckets,
		}, []string{"operation"}),
		QueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "outbox",
			Subsystem:   "repository",
			Name:        "query_errors_total",
			Help:        "Count of repository query errors by operation.",
			ConstLabels: prometheus.Labels{"adapter": adapter},
		}, []string{"operation"}),
	}
}
