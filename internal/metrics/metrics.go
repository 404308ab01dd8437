package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection lifecycle
	connectionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netsync_connections_active",
		Help: "Number of registered connections",
	}, []string{"network", "role"})

	connectionsAcceptedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netsync_connections_accepted_total",
		Help: "Total connections registered by a server tick",
	}, []string{"network"})

	connectionsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netsync_connections_rejected_total",
		Help: "Total inbound connections refused before registration",
	}, []string{"network", "cause"})

	disconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netsync_disconnects_total",
		Help: "Total disconnect notifications by reason",
	}, []string{"network", "reason"})

	connectionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "netsync_connection_duration_seconds",
		Help:    "Lifetime of a connection from registration to disconnect",
		Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1s to ~9h
	}, []string{"network"})

	// Traffic
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netsync_frames_total",
		Help: "Total framed messages moved through the transport",
	}, []string{"network", "direction"})

	bytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netsync_payload_bytes_total",
		Help: "Total payload bytes moved through the transport, excluding framing",
	}, []string{"network", "direction"})

	sendErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netsync_send_errors_total",
		Help: "Total frames that failed to write",
	}, []string{"network", "reason"})

	datagramsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netsync_datagrams_dropped_total",
		Help: "Total inbound datagrams discarded before delivery",
	}, []string{"cause"})

	// Queues and tick loop
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netsync_queue_depth",
		Help: "Payloads waiting in the delivery queues",
	}, []string{"role", "mode"})

	queueRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netsync_queue_rejected_total",
		Help: "Total payloads refused by a full delivery queue",
	}, []string{"role", "mode"})

	tickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "netsync_tick_duration_seconds",
		Help:    "Time spent in one Process call",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14), // 50us to ~400ms
	}, []string{"role"})

	listenerUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netsync_listener_up",
		Help: "1 while the listening socket is active",
	}, []string{"network"})

	// Presence mirror
	presenceErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netsync_presence_errors_total",
		Help: "Total failed presence store operations",
	}, []string{"op"})
)

func SetActiveConnections(network, role string, count int) {
	connectionsActive.WithLabelValues(network, role).Set(float64(count))
}

func IncrementAccepted(network string) {
	connectionsAcceptedTotal.WithLabelValues(network).Inc()
}

// IncrementRejected records a refused connection. cause is one of
// backlog_full, max_connections, per_host, rate_limited, duplicate.
func IncrementRejected(network, cause string) {
	connectionsRejectedTotal.WithLabelValues(network, cause).Inc()
}

func RecordDisconnect(network, reason string, lifetime time.Duration) {
	disconnectsTotal.WithLabelValues(network, reason).Inc()
	connectionDuration.WithLabelValues(network).Observe(lifetime.Seconds())
}

func RecordFrameSent(network string, payloadBytes int) {
	framesTotal.WithLabelValues(network, "out").Inc()
	bytesTotal.WithLabelValues(network, "out").Add(float64(payloadBytes))
}

func RecordFrameReceived(network string, payloadBytes int) {
	framesTotal.WithLabelValues(network, "in").Inc()
	bytesTotal.WithLabelValues(network, "in").Add(float64(payloadBytes))
}

func IncrementSendError(network, reason string) {
	sendErrorsTotal.WithLabelValues(network, reason).Inc()
}

// IncrementDatagramDropped records a discarded datagram. cause is one of
// stale, oversize, malformed, backlog_full, queue_full.
func IncrementDatagramDropped(cause string) {
	datagramsDroppedTotal.WithLabelValues(cause).Inc()
}

func SetQueueDepth(role, mode string, depth int) {
	queueDepth.WithLabelValues(role, mode).Set(float64(depth))
}

func IncrementQueueRejected(role, mode string) {
	queueRejectedTotal.WithLabelValues(role, mode).Inc()
}

func ObserveTick(role string, d time.Duration) {
	tickDuration.WithLabelValues(role).Observe(d.Seconds())
}

func SetListenerUp(network string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	listenerUp.WithLabelValues(network).Set(v)
}

func IncrementPresenceError(op string) {
	presenceErrorsTotal.WithLabelValues(op).Inc()
}
