package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ProbesTotal counts finished probes by side (buy/sell) and outcome
// (complete, ack_timeout, fill_timeout, rejected, error).
var ProbesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lighterprobe_probes_total",
		Help: "Total number of finished order probes",
	},
	[]string{"side", "outcome"},
)

// StageLatency records latency distribution per probe stage.
var StageLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "lighterprobe_stage_latency_seconds",
		Help:    "Latency in seconds per probe stage",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	},
	[]string{"side", "stage"},
)

// LastProbeLatency holds the most recent completed probe's total per
// side, for dashboards that want the current value without histogram
// quantile math.
var LastProbeLatency = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "lighterprobe_last_total_seconds",
		Help: "Total latency of the most recent completed probe",
	},
	[]string{"side"},
)

// Stream connection metrics
var (
	StreamMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighterprobe_stream_messages_total",
			Help: "Messages read from a stream connection",
		},
		[]string{"stream"},
	)

	StreamPings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighterprobe_stream_pings_total",
			Help: "Keepalive pings answered per stream",
		},
		[]string{"stream"},
	)

	StreamsOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lighterprobe_streams_open",
			Help: "Currently open stream connections",
		},
		[]string{"stream"},
	)
)

func init() {
	prometheus.MustRegister(ProbesTotal, StageLatency, LastProbeLatency)
	prometheus.MustRegister(StreamMessages, StreamPings, StreamsOpen)
}
