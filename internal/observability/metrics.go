package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the client.
type Metrics struct {
	ActiveCall        prometheus.Gauge
	CallsStarted      *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	ReconnectAttempts prometheus.Counter
	FramesCaptured    prometheus.Counter
	FramesDropped     prometheus.Counter
	PlaybackChunks    *prometheus.CounterVec
	FirstAudioLatency prometheus.Histogram

	window *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveCall: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_call",
			Help:      "1 while a call is connected, 0 otherwise.",
		}),
		CallsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_started_total",
			Help:      "Calls started by conversation mode.",
		}, []string{"mode"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ReconnectAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts after abnormal disconnects.",
		}),
		FramesCaptured: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_captured_total",
			Help:      "Microphone frames produced by the capture pipeline.",
		}),
		FramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Microphone frames dropped before transmission (queue overflow or connection down).",
		}),
		PlaybackChunks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_chunks_total",
			Help:      "Playback chunks by outcome.",
		}, []string{"outcome"}),
		FirstAudioLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency from final user transcript to first agent audio chunk in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000},
		}),
		window: newLatencyWindow(256),
	}
}

func (m *Metrics) ObserveFirstAudioLatency(d time.Duration) {
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
	m.ObserveStage(StageFirstAudio, d)
}

// ObserveStage records one duration sample in the rolling latency
// window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.window.Observe(stage, float64(d.Milliseconds()))
}

// MarkIndicator bumps a named event counter in the latency window.
func (m *Metrics) MarkIndicator(name string) {
	m.window.ObserveIndicator(name)
}

// SnapshotLatency returns the current rolling latency statistics.
func (m *Metrics) SnapshotLatency() LatencySnapshot {
	return m.window.Snapshot()
}

// ResetLatency clears the rolling window, typically between calls.
func (m *Metrics) ResetLatency() {
	m.window.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
