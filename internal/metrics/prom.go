// internal/metrics/prom.go
// Package metrics centralises Prometheus metric registration for the uplink
// binaries (CLI and router).  It exposes typed collectors so that code can
// remain import-cycle-free.  The package registers with the global
// prometheus.DefaultRegisterer, which the router exposes via the /metrics
// HTTP handler from the Prometheus client library.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// Link-side counters -----------------------------------------------------
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "uplink",
		Subsystem: "link",
		Name:      "messages_sent_total",
		Help:      "Total number of messages published or replied through Send.",
	})

	MessagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "uplink",
		Subsystem: "link",
		Name:      "messages_received_total",
		Help:      "Total number of samples delivered to registered listeners.",
	})

	RpcRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "uplink",
		Subsystem: "link",
		Name:      "rpc_requests_total",
		Help:      "Total number of InvokeMethod calls issued.",
	})

	RpcFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "uplink",
		Subsystem: "link",
		Name:      "rpc_failures_total",
		Help:      "Total number of InvokeMethod calls whose query failed to send, got no reply, or got an unusable reply.",
	})

	DecodeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "uplink",
		Subsystem: "link",
		Name:      "decode_failures_total",
		Help:      "Inbound samples dropped because attachment or encoding decoding failed.",
	})

	// Router-side collectors -------------------------------------------------
	RouterConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "uplink",
		Subsystem: "router",
		Name:      "connections",
		Help:      "Current number of attached substrate sessions.",
	})

	RouterFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "uplink",
		Subsystem: "router",
		Name:      "frames_total",
		Help:      "Total number of frames routed.",
	})
)

// Register exports all metrics; safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			MessagesSent,
			MessagesReceived,
			RpcRequests,
			RpcFailures,
			DecodeFailures,
			RouterConnections,
			RouterFrames,
		)
	})
}
