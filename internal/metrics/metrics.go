// Package metrics exposes prometheus collectors for the ingestion pipeline.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "xmlgate"

// Outcome labels.
const (
	OutcomeAccepted     = "accepted"
	OutcomeRejected     = "rejected"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeRetry        = "retry"
	OutcomeSkipped      = "skipped"
)

// Metrics groups the pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	jobsTotal      *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	scansTotal     prometheus.Counter
	scannedFiles   *prometheus.CounterVec
	deadLetters    *prometheus.CounterVec
	stageDurations *prometheus.HistogramVec
	gatherer       prometheus.Gatherer
}

// New creates and registers the collectors. A nil registerer uses a private
// registry so tests can construct Metrics repeatedly.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if registerer == nil {
		reg := prometheus.NewRegistry()
		registerer, gatherer = reg, reg
	} else if g, ok := registerer.(prometheus.Gatherer); ok {
		gatherer = g
	}
	m := &Metrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "total",
			Help: "Ingestion jobs finished, by outcome.",
		}, []string{"outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "duration_seconds",
			Help:    "Time spent processing one input.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		stageDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "stage_duration_seconds",
			Help:    "Time spent in each pipeline stage.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"stage"}),
		scansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scanner", Name: "runs_total",
			Help: "Input directory scans.",
		}),
		scannedFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scanner", Name: "files_total",
			Help: "Files seen by the scanner, by result.",
		}, []string{"result"}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dlq", Name: "messages_total",
			Help: "Inputs moved to the dead letter state, by cause.",
		}, []string{"cause"}),
		gatherer: gatherer,
	}
	var err error
	if m.jobsTotal, err = register(registerer, m.jobsTotal); err != nil {
		return nil, err
	}
	if m.jobDuration, err = register(registerer, m.jobDuration); err != nil {
		return nil, err
	}
	if m.stageDurations, err = register(registerer, m.stageDurations); err != nil {
		return nil, err
	}
	if m.scansTotal, err = register(registerer, m.scansTotal); err != nil {
		return nil, err
	}
	if m.scannedFiles, err = register(registerer, m.scannedFiles); err != nil {
		return nil, err
	}
	if m.deadLetters, err = register(registerer, m.deadLetters); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to the registerer, reusing an identical collector that is
// already registered.
func register[T prometheus.Collector](registerer prometheus.Registerer, c T) (T, error) {
	if err := registerer.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// JobFinished records a finished attempt.
func (m *Metrics) JobFinished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(outcome).Inc()
	m.jobDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// StageFinished records the duration of one pipeline stage.
func (m *Metrics) StageFinished(stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stageDurations.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ScanFinished records a scan and how its files were handled.
func (m *Metrics) ScanFinished(enqueued, skipped, failed int) {
	if m == nil {
		return
	}
	m.scansTotal.Inc()
	m.scannedFiles.WithLabelValues("enqueued").Add(float64(enqueued))
	m.scannedFiles.WithLabelValues("skipped").Add(float64(skipped))
	m.scannedFiles.WithLabelValues("failed").Add(float64(failed))
}

// DeadLettered records a dead-lettered input.
func (m *Metrics) DeadLettered(cause string) {
	if m == nil {
		return
	}
	m.deadLetters.WithLabelValues(cause).Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
