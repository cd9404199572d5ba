package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Interaction outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeErrored   = "errored"
	OutcomeCancelled = "cancelled"
	OutcomeRejected  = "rejected"
)

var (
	registerOnce sync.Once

	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rsock",
			Subsystem: "frames",
			Name:      "sent_total",
			Help:      "Frames written to the connection.",
		},
		[]string{"type"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rsock",
			Subsystem: "frames",
			Name:      "received_total",
			Help:      "Frames read from the connection.",
		},
		[]string{"type"},
	)
	interactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rsock",
			Subsystem: "interactions",
			Name:      "total",
			Help:      "Request/response interactions by terminal outcome.",
		},
		[]string{"role", "outcome"},
	)
	droppedSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rsock",
			Subsystem: "hooks",
			Name:      "dropped_signals_total",
			Help:      "Terminal signals that arrived after the interaction terminated.",
		},
		[]string{"kind"},
	)
	activeStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rsock",
			Subsystem: "streams",
			Name:      "active",
			Help:      "Streams currently registered on open connections.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rsock",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rsock",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesSent, framesReceived, interactions, droppedSignals, activeStreams, httpRequests, httpDuration)
	})
}

func RecordFrameSent(frameType string) {
	RegisterMetrics()
	framesSent.WithLabelValues(frameType).Inc()
}

func RecordFrameReceived(frameType string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(frameType).Inc()
}

// RecordInteraction counts one terminated interaction. role is "requester"
// or "responder".
func RecordInteraction(role, outcome string) {
	RegisterMetrics()
	interactions.WithLabelValues(role, outcome).Inc()
}

func RecordDropped(kind string) {
	RegisterMetrics()
	droppedSignals.WithLabelValues(kind).Inc()
}

func AddActiveStreams(delta int) {
	RegisterMetrics()
	activeStreams.Add(float64(delta))
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
