// Package metrics exposes Prometheus counters for hashing and uploads.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sitephoto/imageprocessor"
)

const namespace = "sitephoto"

// Upload outcomes
const (
	OutcomeStored    = "stored"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Metrics holds the collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	HashesComputed     *prometheus.CounterVec
	HashDuration       *prometheus.HistogramVec
	DecoderPanics      *prometheus.CounterVec
	DuplicatesDetected *prometheus.CounterVec
	Uploads            *prometheus.CounterVec
}

// New registers all collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HashesComputed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hashes_computed_total",
			Help:      "Image fingerprints computed, by method and sniffed format.",
		}, []string{"method", "format"}),
		HashDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hash_duration_seconds",
			Help:      "Time spent computing one fingerprint.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method"}),
		DecoderPanics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decoder_panics_total",
			Help:      "Decoder panics recovered while hashing, by format.",
		}, []string{"format"}),
		DuplicatesDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_detected_total",
			Help:      "Uploads or scanned files matching a stored image, by kind.",
		}, []string{"kind"}),
		Uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload attempts by outcome.",
		}, []string{"outcome"}),
	}
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveHash records one hasher result
func (m *Metrics) ObserveHash(result imageprocessor.Result) {
	m.HashesComputed.WithLabelValues(string(result.Method), string(result.Format)).Inc()
	m.HashDuration.WithLabelValues(string(result.Method)).Observe(result.Duration.Seconds())
}

// ObservePanic records a recovered decoder panic
func (m *Metrics) ObservePanic(format imageprocessor.FormatType, _ interface{}) {
	m.DecoderPanics.WithLabelValues(string(format)).Inc()
}

// ObserveDuplicate records a detected duplicate, exact or near
func (m *Metrics) ObserveDuplicate(exact bool) {
	kind := "near"
	if exact {
		kind = "exact"
	}
	m.DuplicatesDetected.WithLabelValues(kind).Inc()
}

// ObserveUpload records an upload outcome
func (m *Metrics) ObserveUpload(outcome string) {
	m.Uploads.WithLabelValues(outcome).Inc()
}

// HasherOptions wires a hasher to these collectors
func (m *Metrics) HasherOptions() []imageprocessor.HasherOption {
	return []imageprocessor.HasherOption{
		imageprocessor.WithObserver(m.ObserveHash),
		imageprocessor.WithPanicHandler(m.ObservePanic),
	}
}
