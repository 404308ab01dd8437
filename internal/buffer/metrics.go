package buffer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ringBufferedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netsync_receive_buffered_bytes",
		Help: "Bytes read from sockets and not yet consumed by the tick loop",
	})

	poolFreeSlots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netsync_buffer_pool_free",
		Help: "Idle payload slots in the buffer pool",
	})

	poolOutstandingSlots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netsync_buffer_pool_outstanding",
		Help: "Payload slots handed out and not yet returned",
	})
)

// UpdatePoolMetrics updates Prometheus metrics for the buffer pool
func UpdatePoolMetrics(stats PoolStats) {
	poolFreeSlots.Set(float64(stats.Free))
	poolOutstandingSlots.Set(float64(stats.Outstanding))
}
