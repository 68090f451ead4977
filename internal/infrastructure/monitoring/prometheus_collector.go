package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	commandsTotal     *prometheus.CounterVec
	commandErrors     *prometheus.CounterVec
	segmentBytesSent  prometheus.Counter
	uploadBytesTotal  prometheus.Counter
	commandDuration   prometheus.Histogram
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vidstream_connections_active",
			Help: "Number of currently open client connections",
		}),

		connectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vidstream_connections_total",
			Help: "Total number of accepted client connections",
		}),

		commandsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vidstream_commands_total",
			Help: "Total number of handled protocol commands",
		}, []string{"command"}),

		commandErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vidstream_command_errors_total",
			Help: "Total number of protocol commands that failed fatally",
		}, []string{"command"}),

		segmentBytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vidstream_segment_bytes_sent_total",
			Help: "Total segment payload bytes served to clients",
		}),

		uploadBytesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vidstream_upload_bytes_total",
			Help: "Total upload payload bytes received from clients",
		}),

		commandDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vidstream_command_duration_seconds",
			Help:    "Duration of protocol command handling",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
}

func (c *PrometheusCollector) ConnectionOpened() {
	c.connectionsTotal.Inc()
	c.connectionsActive.Inc()
}

func (c *PrometheusCollector) ConnectionClosed() {
	c.connectionsActive.Dec()
}

func (c *PrometheusCollector) CommandHandled(command string, seconds float64) {
	c.commandsTotal.WithLabelValues(command).Inc()
	c.commandDuration.Observe(seconds)
}

func (c *PrometheusCollector) CommandFailed(command string) {
	c.commandErrors.WithLabelValues(command).Inc()
}

func (c *PrometheusCollector) SegmentBytesSent(n int) {
	c.segmentBytesSent.Add(float64(n))
}

func (c *PrometheusCollector) UploadBytesReceived(n int) {
	c.uploadBytesTotal.Add(float64(n))
}
