// Package metrics registers the gateway's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/swaralab/riyaz/pkg/core/practice"
)

// Metrics holds all Prometheus metrics for the gateway. It implements
// the practice session's Metrics sink.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive  prometheus.Gauge
	SessionsTotal   prometheus.Counter
	SessionDuration prometheus.Histogram
	SessionAccuracy prometheus.Histogram

	AudioFramesTotal prometheus.Counter
	AudioBytesTotal  prometheus.Counter
	DetectionsTotal  prometheus.Counter
	NotesJudgedTotal *prometheus.CounterVec
}

// New creates a Metrics instance with all collectors registered on a
// fresh registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "riyaz"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "practice_sessions_active",
		Help:      "Number of active practice connections",
	})

	sessionsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "practice_sessions_total",
		Help:      "Total number of finished practice sessions",
	})

	sessionDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "practice_session_duration_seconds",
		Help:      "Practice session duration in seconds",
		Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
	})

	sessionAccuracy := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "practice_session_accuracy",
		Help:      "Final session accuracy score (0-100)",
		Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	audioFramesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audio_frames_total",
		Help:      "Total audio frames processed",
	})

	audioBytesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audio_bytes_total",
		Help:      "Total audio bytes processed",
	})

	detectionsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "shruti_detections_total",
		Help:      "Total pitch observations mapped to a shruti",
	})

	notesJudgedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notes_judged_total",
		Help:      "Total judged notes by outcome",
	}, []string{"outcome"})

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		sessionAccuracy,
		audioFramesTotal,
		audioBytesTotal,
		detectionsTotal,
		notesJudgedTotal,
	)

	return &Metrics{
		registry:         registry,
		SessionsActive:   sessionsActive,
		SessionsTotal:    sessionsTotal,
		SessionDuration:  sessionDuration,
		SessionAccuracy:  sessionAccuracy,
		AudioFramesTotal: audioFramesTotal,
		AudioBytesTotal:  audioBytesTotal,
		DetectionsTotal:  detectionsTotal,
		NotesJudgedTotal: notesJudgedTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ConnectionOpened marks a websocket session as active.
func (m *Metrics) ConnectionOpened() {
	m.SessionsActive.Inc()
}

// ConnectionClosed marks a websocket session as finished.
func (m *Metrics) ConnectionClosed() {
	m.SessionsActive.Dec()
}

// RecordAudioFrame counts one decoded audio frame.
func (m *Metrics) RecordAudioFrame(bytes int) {
	m.AudioFramesTotal.Inc()
	if bytes > 0 {
		m.AudioBytesTotal.Add(float64(bytes))
	}
}

// RecordDetection counts one mapped shruti observation.
func (m *Metrics) RecordDetection() {
	m.DetectionsTotal.Inc()
}

// RecordNoteJudged counts one validator judgement.
func (m *Metrics) RecordNoteJudged(correct bool) {
	outcome := "incorrect"
	if correct {
		outcome = "correct"
	}
	m.NotesJudgedTotal.WithLabelValues(outcome).Inc()
}

// RecordSessionFinished records the final summary of one session.
func (m *Metrics) RecordSessionFinished(summary practice.Summary) {
	m.SessionsTotal.Inc()
	m.SessionDuration.Observe(summary.DurationSeconds)
	m.SessionAccuracy.Observe(summary.Accuracy)
}
