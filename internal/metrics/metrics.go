package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the streaming client counters.
type Metrics struct {
	// Frame pipeline
	FramesCaptured atomic.Uint64
	FramesSent     atomic.Uint64
	FramesSkipped  atomic.Uint64 // tick skipped, previous frame still in flight
	FramesDropped  atomic.Uint64 // send attempted while not connected
	CaptureErrors  atomic.Uint64

	// Inbound messages
	MessagesReceived   atomic.Uint64
	MessagesMalformed  atomic.Uint64
	DetectionsAccepted atomic.Uint64
	DetectionsDropped  atomic.Uint64
	SnapshotsApplied   atomic.Uint64
	SnapshotsDeferred  atomic.Uint64 // viewport not measured yet
	BackendErrors      atomic.Uint64

	// Session
	Connects      atomic.Uint64
	Reconnects    atomic.Uint64
	SessionErrors atomic.Uint64
	SessionStatus atomic.Uint64 // model.Status value
	RoundTripMs   atomic.Uint64 // last frame -> reply latency

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) gauge(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.counter("livedetect_frames_captured_total", "Frames captured from the frame source", &m.FramesCaptured)
	m.counter("livedetect_frames_sent_total", "Frames transmitted to the detection backend", &m.FramesSent)
	m.counter("livedetect_frames_skipped_total", "Capture ticks skipped while a frame was in flight", &m.FramesSkipped)
	m.counter("livedetect_frames_dropped_total", "Frames dropped because the session was not connected", &m.FramesDropped)
	m.counter("livedetect_capture_errors_total", "Frame capture failures", &m.CaptureErrors)

	m.counter("livedetect_messages_received_total", "Inbound messages received", &m.MessagesReceived)
	m.counter("livedetect_messages_malformed_total", "Inbound messages discarded as malformed or unknown", &m.MessagesMalformed)
	m.counter("livedetect_detections_accepted_total", "Detection elements that passed validation", &m.DetectionsAccepted)
	m.counter("livedetect_detections_dropped_total", "Detection elements discarded by validation", &m.DetectionsDropped)
	m.counter("livedetect_snapshots_applied_total", "Snapshots written to the snapshot store", &m.SnapshotsApplied)
	m.counter("livedetect_snapshots_deferred_total", "Snapshots dropped because the viewport was unknown", &m.SnapshotsDeferred)
	m.counter("livedetect_backend_errors_total", "Error notices reported by the backend", &m.BackendErrors)

	m.counter("livedetect_connects_total", "Successful session connects", &m.Connects)
	m.counter("livedetect_reconnects_total", "Reconnect attempts after a session ended", &m.Reconnects)
	m.counter("livedetect_session_errors_total", "Sessions that ended in the error state", &m.SessionErrors)
	m.gauge("livedetect_session_status", "Current session status (0=disconnected,1=connecting,2=connected,3=error)", &m.SessionStatus)
	m.gauge("livedetect_round_trip_ms", "Latency of the last frame round trip in milliseconds", &m.RoundTripMs)
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Snapshot returns the counters as a plain map for JSON status endpoints.
func (m *Metrics) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"frames_captured":     m.FramesCaptured.Load(),
		"frames_sent":         m.FramesSent.Load(),
		"frames_skipped":      m.FramesSkipped.Load(),
		"frames_dropped":      m.FramesDropped.Load(),
		"capture_errors":      m.CaptureErrors.Load(),
		"messages_received":   m.MessagesReceived.Load(),
		"messages_malformed":  m.MessagesMalformed.Load(),
		"detections_accepted": m.DetectionsAccepted.Load(),
		"detections_dropped":  m.DetectionsDropped.Load(),
		"snapshots_applied":   m.SnapshotsApplied.Load(),
		"snapshots_deferred":  m.SnapshotsDeferred.Load(),
		"backend_errors":      m.BackendErrors.Load(),
		"connects":            m.Connects.Load(),
		"reconnects":          m.Reconnects.Load(),
		"session_errors":      m.SessionErrors.Load(),
		"round_trip_ms":       m.RoundTripMs.Load(),
	}
}
