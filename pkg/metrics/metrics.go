package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Broker gauges, set by the Collector
	EndpointsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kbus_endpoints_open",
			Help: "Number of open endpoints",
		},
	)

	Bindings = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kbus_bindings",
			Help: "Number of bindings by role",
		},
		[]string{"role"},
	)

	OutstandingRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kbus_outstanding_requests",
			Help: "Requests delivered to a replier and not yet answered",
		},
	)

	// Send path
	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbus_messages_sent_total",
			Help: "Total number of messages accepted by the broker by kind",
		},
		[]string{"kind"},
	)

	CopiesDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kbus_copies_delivered_total",
			Help: "Total number of message copies enqueued on endpoint queues",
		},
	)

	CopiesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbus_copies_dropped_total",
			Help: "Total number of message copies not delivered by reason",
		},
		[]string{"reason"},
	)

	SyntheticMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbus_synthetic_messages_total",
			Help: "Total number of broker-generated status messages by event",
		},
		[]string{"event"},
	)

	SendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kbus_send_duration_seconds",
			Help:    "Time taken to route and enqueue a send in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Bridge metrics
	BridgeFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbus_bridge_frames_total",
			Help: "Total number of frames carried over bridge links by direction",
		},
		[]string{"direction"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(EndpointsOpen)
	prometheus.MustRegister(Bindings)
	prometheus.MustRegister(OutstandingRequests)
	prometheus.MustRegister(MessagesSent)
	prometheus.MustRegister(CopiesDelivered)
	prometheus.MustRegister(CopiesDropped)
	prometheus.MustRegister(SyntheticMessages)
	prometheus.MustRegister(SendDuration)
	prometheus.MustRegister(BridgeFrames)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
