// Package metrics records reconciliation outcomes as Prometheus metrics.
// Runs are short-lived CLI invocations, so the registry is written out in the
// node_exporter textfile format instead of being served.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bankrec"

// Outcome labels of auto-reconciliation.
const (
	OutcomeReconciled = "reconciled"
	OutcomePartial    = "partially_reconciled"
	OutcomeUntouched  = "untouched"
	OutcomeRejected   = "rejected"
)

// Recorder holds the bankrec collectors of one registry.
type Recorder struct {
	registry     *prometheus.Registry
	reconciles   *prometheus.CounterVec
	allocated    prometheus.Counter
	autoOutcomes *prometheus.CounterVec
	autoDuration prometheus.Histogram
	lastRun      prometheus.Gauge
}

// New creates a recorder with its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		reconciles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "requests_total",
			Help:      "Reconciliation requests by result.",
		}, []string{"result"}),
		allocated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "allocated_amount_total",
			Help:      "Sum of amounts allocated to bank transactions.",
		}),
		autoOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auto_reconcile",
			Name:      "transactions_total",
			Help:      "Transactions visited by auto-reconciliation, by outcome.",
		}, []string{"outcome"}),
		autoDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "auto_reconcile",
			Name:      "duration_seconds",
			Help:      "Wall time of auto-reconciliation runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "auto_reconcile",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last auto-reconciliation run finished.",
		}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveReconcile counts one reconciliation request. A nil err with a
// positive amount also adds to the allocated total.
func (r *Recorder) ObserveReconcile(amount float64, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.reconciles.WithLabelValues("rejected").Inc()
		return
	}
	r.reconciles.WithLabelValues("ok").Inc()
	if amount > 0 {
		r.allocated.Add(amount)
	}
}

// ObserveOutcome counts one auto-reconciliation outcome.
func (r *Recorder) ObserveOutcome(outcome string) {
	if r == nil {
		return
	}
	r.autoOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveRun records a finished auto-reconciliation run.
func (r *Recorder) ObserveRun(d time.Duration, finished time.Time) {
	if r == nil {
		return
	}
	r.autoDuration.Observe(d.Seconds())
	r.lastRun.Set(float64(finished.Unix()))
}

// WriteTextfile writes every metric to path for the node_exporter textfile
// collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
