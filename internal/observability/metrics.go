package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stt_relay_active_sessions",
		Help: "Number of active relay sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_relay_sessions_total",
		Help: "Total number of relay sessions accepted",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stt_relay_session_duration_seconds",
		Help:    "Duration of relay sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Forwarding metrics
	messagesForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stt_relay_messages_forwarded_total",
		Help: "Total number of frames forwarded",
	}, []string{"direction"}) // direction: "upstream" or "client"

	bytesForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stt_relay_forwarded_bytes_total",
		Help: "Total payload bytes forwarded",
	}, []string{"direction"})

	droppedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stt_relay_dropped_frames_total",
		Help: "Frames dropped because the destination was not ready or the session was closing",
	}, []string{"direction"})

	// Boundary metrics
	authFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_relay_auth_failures_total",
		Help: "Total number of rejected connection upgrades",
	})

	upstreamDialFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_relay_upstream_dial_failures_total",
		Help: "Total number of failed upstream handshakes",
	})
)

// RecordSessionStart records a newly accepted relay session
func RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records a relay session reaching its terminal state
func RecordSessionEnd(startedAt time.Time) {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(startedAt).Seconds())
}

// RecordForward records a successfully forwarded frame
func RecordForward(direction string, bytes int) {
	messagesForwarded.WithLabelValues(direction).Inc()
	bytesForwarded.WithLabelValues(direction).Add(float64(bytes))
}

// RecordDrop records a frame dropped instead of forwarded
func RecordDrop(direction string) {
	droppedFrames.WithLabelValues(direction).Inc()
}

// RecordAuthFailure records a rejected connection upgrade
func RecordAuthFailure() {
	authFailures.Inc()
}

// RecordUpstreamDialFailure records a failed upstream handshake
func RecordUpstreamDialFailure() {
	upstreamDialFailures.Inc()
}
