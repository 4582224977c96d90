// Package metrics exports scheduler activity to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/doughall/taskd/internal/schedule"
)

const namespace = "taskd"

// Collector records registry events. It implements scheduler.Observer.
type Collector struct {
	jobs          prometheus.Gauge
	registrations *prometheus.CounterVec
	removals      prometheus.Counter
	activations   *prometheus.CounterVec
	duration      prometheus.Histogram
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		jobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs",
			Help:      "Number of registered jobs.",
		}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Jobs registered, by schedule kind.",
		}, []string{"kind"}),
		removals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "removals_total",
			Help:      "Jobs removed.",
		}),
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activations_total",
			Help:      "Job activations, by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "activation_duration_seconds",
			Help:      "Time spent running a job's task.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}

	for _, m := range []prometheus.Collector{c.jobs, c.registrations, c.removals, c.activations, c.duration} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// JobRegistered implements scheduler.Observer.
func (c *Collector) JobRegistered(kind schedule.Kind) {
	c.jobs.Inc()
	c.registrations.WithLabelValues(kind.String()).Inc()
}

// JobRemoved implements scheduler.Observer.
func (c *Collector) JobRemoved() {
	c.jobs.Dec()
	c.removals.Inc()
}

// ActivationFinished implements scheduler.Observer.
func (c *Collector) ActivationFinished(d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.activations.WithLabelValues(outcome).Inc()
	c.duration.Observe(d.Seconds())
}
