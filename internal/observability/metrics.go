package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "binlink"

// Directions used as metric labels.
const (
	DirSent     = "sent"
	DirReceived = "received"
)

var (
	registerOnce sync.Once

	linkMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "messages_total",
			Help:      "Envelopes written or read, by message type.",
		},
		[]string{"node", "direction", "type"},
	)
	linkBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "bytes_total",
			Help:      "Encoded envelope bytes written or read.",
		},
		[]string{"node", "direction"},
	)
	linkOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "connections_opened_total",
			Help:      "Connections whose loops were started.",
		},
		[]string{"node"},
	)
	linkClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "connections_closed_total",
			Help:      "Connections closed, by error kind of the close reason.",
		},
		[]string{"node", "kind"},
	)
	linkLive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "connections_live",
			Help:      "Connections currently running.",
		},
		[]string{"node"},
	)
	fileChunks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "file",
			Name:      "chunks_total",
			Help:      "File chunks written or processed.",
		},
		[]string{"node", "direction"},
	)
	handlerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "handler_failures_total",
			Help:      "Request, event and file callbacks that returned an error or panicked.",
		},
		[]string{"node", "policy"},
	)
	pingRTT = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "ping_rtt_seconds",
			Help:      "Ping to pong round trip.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"node"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "request_duration_seconds",
			Help:      "SendRequest latency by outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "outcome"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "admin",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			linkMessages, linkBytes, linkOpened, linkClosed, linkLive,
			fileChunks, handlerFailures, pingRTT, requestDuration,
			httpRequests, httpDuration,
		)
	})
}

func RecordMessage(node, direction, msgType string, size int) {
	RegisterMetrics()
	linkMessages.WithLabelValues(node, direction, msgType).Inc()
	linkBytes.WithLabelValues(node, direction).Add(float64(size))
}

func RecordConnOpened(node string) {
	RegisterMetrics()
	linkOpened.WithLabelValues(node).Inc()
	linkLive.WithLabelValues(node).Inc()
}

func RecordConnClosed(node, kind string) {
	RegisterMetrics()
	linkClosed.WithLabelValues(node, kind).Inc()
	linkLive.WithLabelValues(node).Dec()
}

func RecordFileChunk(node, direction string) {
	RegisterMetrics()
	fileChunks.WithLabelValues(node, direction).Inc()
}

func RecordHandlerFailure(node, policy string) {
	RegisterMetrics()
	handlerFailures.WithLabelValues(node, policy).Inc()
}

func ObservePingRTT(node string, rtt time.Duration) {
	RegisterMetrics()
	pingRTT.WithLabelValues(node).Observe(rtt.Seconds())
}

func ObserveRequest(node, outcome string, d time.Duration) {
	RegisterMetrics()
	requestDuration.WithLabelValues(node, outcome).Observe(d.Seconds())
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
