// Package metrics holds the prometheus collectors of the overlay engine. A nil *Engine is valid
// and records nothing.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Engine collects submission, lookup, proof, propagation and sync telemetry.
type Engine struct {
	registry *prometheus.Registry

	submissions      *prometheus.CounterVec
	outputsAdmitted  *prometheus.CounterVec
	outputsRejected  *prometheus.CounterVec
	submitLatency    prometheus.Histogram
	lookups          *prometheus.CounterVec
	lookupLatency    *prometheus.HistogramVec
	proofs           *prometheus.CounterVec
	propagations     *prometheus.CounterVec
	syncRounds       *prometheus.CounterVec
	syncRoundLatency *prometheus.HistogramVec
}

// NewEngine creates the collectors and registers them in a private registry.
func NewEngine(namespace string) *Engine {
	if namespace == "" {
		namespace = "overlay"
	}
	m := &Engine{registry: prometheus.NewRegistry()}

	m.submissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "submit",
		Name:      "topics_total",
		Help:      "Submissions processed per topic and result",
	}, []string{"topic", "result"})
	m.outputsAdmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "submit",
		Name:      "outputs_admitted_total",
		Help:      "Outputs admitted per topic",
	}, []string{"topic"})
	m.outputsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "submit",
		Name:      "outputs_rejected_total",
		Help:      "Outputs not admitted per topic",
	}, []string{"topic"})
	m.submitLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "submit",
		Name:      "duration_seconds",
		Help:      "Time taken to process a submission",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})
	m.lookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lookup",
		Name:      "total",
		Help:      "Lookups answered per service and result",
	}, []string{"service", "result"})
	m.lookupLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "lookup",
		Name:      "duration_seconds",
		Help:      "Time taken to answer a lookup",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
	}, []string{"service"})
	m.proofs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "proof",
		Name:      "total",
		Help:      "Merkle proofs handled per outcome",
	}, []string{"outcome"})
	m.propagations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "propagation",
		Name:      "total",
		Help:      "Background propagations per result",
	}, []string{"result"})
	m.syncRounds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "rounds_total",
		Help:      "GASP rounds per topic and result",
	}, []string{"topic", "result"})
	m.syncRoundLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "round_duration_seconds",
		Help:      "Time taken by a GASP round",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~160s
	}, []string{"topic"})

	m.registry.MustRegister(
		m.submissions,
		m.outputsAdmitted,
		m.outputsRejected,
		m.submitLatency,
		m.lookups,
		m.lookupLatency,
		m.proofs,
		m.propagations,
		m.syncRounds,
		m.syncRoundLatency,
	)
	return m
}

// Registry returns the prometheus registry holding the collectors.
func (m *Engine) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Engine) ObserveSubmission(topic string, admitted, rejected int, err error) {
	if m == nil {
		return
	}
	if topic == "" {
		topic = "none"
	}
	m.submissions.WithLabelValues(topic, result(err)).Inc()
	if err == nil {
		m.outputsAdmitted.WithLabelValues(topic).Add(float64(admitted))
		m.outputsRejected.WithLabelValues(topic).Add(float64(rejected))
	}
}

func (m *Engine) ObserveSubmitDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.submitLatency.Observe(d.Seconds())
}

func (m *Engine) ObserveLookup(service string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(service, result(err)).Inc()
	m.lookupLatency.WithLabelValues(service).Observe(d.Seconds())
}

func (m *Engine) ObserveProof(outcome string) {
	if m == nil {
		return
	}
	m.proofs.WithLabelValues(outcome).Inc()
}

func (m *Engine) ObservePropagation(err error) {
	if m == nil {
		return
	}
	m.propagations.WithLabelValues(result(err)).Inc()
}

func (m *Engine) ObserveSyncRound(topic string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.syncRounds.WithLabelValues(topic, result(err)).Inc()
	m.syncRoundLatency.WithLabelValues(topic).Observe(d.Seconds())
}

func result(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
