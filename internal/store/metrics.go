package store

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts store activity. A nil *Metrics records nothing.
type Metrics struct {
	adds           *prometheus.CounterVec
	addDuration    prometheus.Histogram
	removes        prometheus.Counter
	verifyFailures prometheus.Counter
	optimiseSaved  prometheus.Counter
}

// NewMetrics creates the store collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		adds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "depot_store_adds_total",
				Help: "Number of implementations added, by outcome.",
			},
			[]string{"outcome"},
		),
		addDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "depot_store_add_duration_seconds",
				Help:    "Time taken to stage, verify and publish an implementation.",
				Buckets: prometheus.DefBuckets,
			},
		),
		removes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "depot_store_removes_total",
				Help: "Number of implementations removed.",
			},
		),
		verifyFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "depot_store_verify_failures_total",
				Help: "Number of digest mismatches found by add, verify or audit.",
			},
		),
		optimiseSaved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "depot_store_optimise_saved_bytes_total",
				Help: "Bytes reclaimed by replacing duplicate files with hard links.",
			},
		),
	}
	reg.MustRegister(m.adds, m.addDuration, m.removes, m.verifyFailures, m.optimiseSaved)
	return m
}

func (m *Metrics) observeAdd(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.adds.WithLabelValues(outcome).Inc()
	m.addDuration.Observe(seconds)
}

func (m *Metrics) observeRemove() {
	if m == nil {
		return
	}
	m.removes.Inc()
}

func (m *Metrics) observeVerifyFailure() {
	if m == nil {
		return
	}
	m.verifyFailures.Inc()
}

func (m *Metrics) observeSaved(bytes int64) {
	if m == nil || bytes <= 0 {
		return
	}
	m.optimiseSaved.Add(float64(bytes))
}
