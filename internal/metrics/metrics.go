// Package metrics exposes Prometheus collectors for the task loop
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "screenpilot"

// Metrics reports phase, action and model-call activity. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	phases        *prometheus.CounterVec
	actions       *prometheus.CounterVec
	modelCalls    *prometheus.CounterVec
	modelDuration *prometheus.HistogramVec
	tasks         *prometheus.CounterVec
	tasksActive   prometheus.Gauge
}

// MustNew registers the collectors with reg, reusing collectors that are
// already registered. Any other registration error panics.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		phases: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "phases_total",
			Help:      "Phases run by the task loop, by batch outcome.",
		}, []string{"outcome"})),
		actions: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "actions_total",
			Help:      "Actions attempted, by action name and result.",
		}, []string{"action", "result"})),
		modelCalls: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "calls_total",
			Help:      "Model round-trips, by prompt mode and status.",
		}, []string{"mode", "status"})),
		modelDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "call_duration_seconds",
			Help:      "Latency of model round-trips.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"mode"})),
		tasks: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "finished_total",
			Help:      "Tasks that reached a terminal state, by state and reason.",
		}, []string{"state", "reason"})),
		tasksActive: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "active",
			Help:      "Whether a task loop is currently running.",
		})),
	}
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) ObservePhase(outcome string) {
	if m == nil {
		return
	}
	m.phases.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveAction(action, result string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(action, result).Inc()
}

// ObserveModelCall records one model round-trip
func (m *Metrics) ObserveModelCall(mode, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.modelCalls.WithLabelValues(mode, status).Inc()
	m.modelDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.tasksActive.Set(1)
}

func (m *Metrics) TaskFinished(state, reason string) {
	if m == nil {
		return
	}
	m.tasksActive.Set(0)
	m.tasks.WithLabelValues(state, reason).Inc()
}
