package triage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/medtriage/internal/artifact"
)

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	TriagesTotal       *prometheus.CounterVec
	TriageDuration     prometheus.Histogram
	Confidence         prometheus.Histogram
	ConfidenceSources  *prometheus.CounterVec
	AnswersTotal       *prometheus.CounterVec
	RejectedTotal      prometheus.Counter
	ArtifactLoadsTotal *prometheus.CounterVec
	ArtifactLoadTime   *prometheus.HistogramVec
	SubmitsTotal       *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TriagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medtriage_triages_total",
			Help: "Total completed triage runs by severity and urgency.",
		}, []string{"severity", "urgent"}),
		TriageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medtriage_triage_duration_seconds",
			Help:    "Duration of triage runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms .. ~1s
		}),
		Confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medtriage_classifier_confidence",
			Help:    "Classifier confidence per triage run.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10), // 0.1 .. 1.0
		}),
		ConfidenceSources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medtriage_confidence_source_total",
			Help: "Triage runs by how the confidence was derived.",
		}, []string{"source"}),
		AnswersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medtriage_answers_total",
			Help: "Answer retrievals by outcome.",
		}, []string{"status"}),
		RejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medtriage_triage_rejected_total",
			Help: "Triage runs that returned an error.",
		}),
		ArtifactLoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medtriage_artifact_loads_total",
			Help: "Artifact load attempts by bundle and result.",
		}, []string{"bundle", "result"}),
		ArtifactLoadTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medtriage_artifact_load_duration_seconds",
			Help:    "Duration of artifact loads in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms .. ~5s
		}, []string{"bundle"}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medtriage_submits_total",
			Help: "Total triage submissions by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.TriagesTotal,
		m.TriageDuration,
		m.Confidence,
		m.ConfidenceSources,
		m.AnswersTotal,
		m.RejectedTotal,
		m.ArtifactLoadsTotal,
		m.ArtifactLoadTime,
		m.SubmitsTotal,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnComplete: func(e *CompleteEvent) {
			urgent := "false"
			if e.Urgent {
				urgent = "true"
			}
			m.TriagesTotal.WithLabelValues(string(e.Severity), urgent).Inc()
			m.TriageDuration.Observe(e.Duration)
			m.Confidence.Observe(e.Confidence)
			m.ConfidenceSources.WithLabelValues(string(e.ConfidenceSource)).Inc()
			m.AnswersTotal.WithLabelValues(string(e.AnswerStatus)).Inc()
		},
		OnRejected: func(error) {
			m.RejectedTotal.Inc()
		},
	}
}

// LoadHook returns an artifact.LoadHook that records load attempts.
func (m *Metrics) LoadHook() artifact.LoadHook {
	return func(bundle string, d time.Duration, err error) {
		result := "success"
		if err != nil {
			result = "error"
		}
		m.ArtifactLoadsTotal.WithLabelValues(bundle, result).Inc()
		m.ArtifactLoadTime.WithLabelValues(bundle).Observe(d.Seconds())
	}
}
