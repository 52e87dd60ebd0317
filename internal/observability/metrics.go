package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Handshake outcomes recorded by the server.
const (
	HandshakeAccepted      = "accepted"
	HandshakeNoSubprotocol = "no_subprotocol"
	HandshakeUnauthorized  = "unauthorized"
	HandshakeUpgradeError  = "upgrade_error"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blimpws",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "blimpws",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	handshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blimpws",
			Subsystem: "session",
			Name:      "handshakes_total",
			Help:      "Server-side WebSocket handshakes by outcome and selected subprotocol.",
		},
		[]string{"outcome", "subprotocol"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "blimpws",
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently open in this process.",
		},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blimpws",
			Subsystem: "session",
			Name:      "frames_total",
			Help:      "Data frames moved through sessions.",
		},
		[]string{"direction", "flavour"},
	)
	frameBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blimpws",
			Subsystem: "session",
			Name:      "frame_bytes_total",
			Help:      "Data frame payload bytes moved through sessions.",
		},
		[]string{"direction", "flavour"},
	)
	sessionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blimpws",
			Subsystem: "session",
			Name:      "errors_total",
			Help:      "Session send/recv failures by kind.",
		},
		[]string{"op", "kind"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			handshakes,
			activeSessions,
			frames,
			frameBytes,
			sessionErrors,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordHandshake(outcome, subprotocol string) {
	RegisterMetrics()
	handshakes.WithLabelValues(outcome, subprotocol).Inc()
}

func SessionOpened() {
	RegisterMetrics()
	activeSessions.Inc()
}

func SessionClosed() {
	RegisterMetrics()
	activeSessions.Dec()
}

// RecordFrame counts one data frame; direction is "send" or "recv".
func RecordFrame(direction, flavour string, size int) {
	RegisterMetrics()
	frames.WithLabelValues(direction, flavour).Inc()
	frameBytes.WithLabelValues(direction, flavour).Add(float64(size))
}

func RecordSessionError(op, kind string) {
	RegisterMetrics()
	sessionErrors.WithLabelValues(op, kind).Inc()
}
