// Package metrics exposes engine and service counters to Prometheus.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics. It implements proctor.Observer.
type Metrics struct {
	// Frame counters
	FramesAnalyzed atomic.Uint64
	FramesSkipped  atomic.Uint64
	FramesRejected atomic.Uint64

	// Detector failures by signal
	FaceFailures   atomic.Uint64
	ObjectFailures atomic.Uint64

	// Violations raised by the engine
	PhoneViolations  atomic.Uint64
	ObjectViolations atomic.Uint64
	RecordedTotal    atomic.Uint64
	RecordErrors     atomic.Uint64

	// Latency of the last analysed frame
	AnalyzeLatencyMs atomic.Uint64

	// State
	Candidates    atomic.Uint64
	StreamClients atomic.Int64

	latency  prometheus.Histogram
	registry *prometheus.Registry
}

// New creates a new Metrics instance with its own registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "proctor_analyze_seconds",
			Help:    "Time spent analysing one frame",
			Buckets: []float64{.01, .025, .05, .1, .2, .4, .8, 1.6},
		}),
	}
	m.register()
	return m
}

func (m *Metrics) register() {
	counter := func(name, help string, v *atomic.Uint64) {
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: name, Help: help},
			func() float64 { return float64(v.Load()) },
		))
	}

	counter("proctor_frames_analyzed_total", "Frames analysed by the engine", &m.FramesAnalyzed)
	counter("proctor_frames_skipped_total", "Frames skipped because the engine was busy", &m.FramesSkipped)
	counter("proctor_frames_rejected_total", "Frames rejected as undecodable", &m.FramesRejected)
	counter("proctor_face_detector_failures_total", "Face detector errors", &m.FaceFailures)
	counter("proctor_object_detector_failures_total", "Object detector errors", &m.ObjectFailures)
	counter("proctor_phone_violations_total", "Phone violations raised", &m.PhoneViolations)
	counter("proctor_object_violations_total", "Prohibited object violations raised", &m.ObjectViolations)
	counter("proctor_violations_recorded_total", "Violations written to the store", &m.RecordedTotal)
	counter("proctor_violation_record_errors_total", "Violations that failed to persist", &m.RecordErrors)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "proctor_analyze_latency_ms",
			Help: "Latency of the most recent analysed frame in milliseconds",
		},
		func() float64 { return float64(m.AnalyzeLatencyMs.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "proctor_candidates",
			Help: "Candidates with live tracker state",
		},
		func() float64 { return float64(m.Candidates.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "proctor_stream_clients",
			Help: "Connected websocket clients",
		},
		func() float64 { return float64(m.StreamClients.Load()) },
	))

	m.registry.MustRegister(m.latency)
}

// FrameAnalyzed records one analysed frame
func (m *Metrics) FrameAnalyzed(latency time.Duration) {
	m.FramesAnalyzed.Add(1)
	m.AnalyzeLatencyMs.Store(uint64(latency.Milliseconds()))
	m.latency.Observe(latency.Seconds())
}

// FrameSkipped records a frame dropped by the busy guard
func (m *Metrics) FrameSkipped() {
	m.FramesSkipped.Add(1)
}

// DetectorFailed records a detector error for one signal
func (m *Metrics) DetectorFailed(signal string) {
	switch signal {
	case "face":
		m.FaceFailures.Add(1)
	default:
		m.ObjectFailures.Add(1)
	}
}

// ViolationRaised records a violation the engine fired
func (m *Metrics) ViolationRaised(kind string) {
	switch kind {
	case "phone":
		m.PhoneViolations.Add(1)
	default:
		m.ObjectViolations.Add(1)
	}
}

// CandidatesTracked records the current candidate count
func (m *Metrics) CandidatesTracked(n int) {
	m.Candidates.Store(uint64(max(n, 0)))
}

// ReportFailed records a violation the store could not persist
func (m *Metrics) ReportFailed() {
	m.RecordErrors.Add(1)
}

// Registry returns the registry, for registering extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
