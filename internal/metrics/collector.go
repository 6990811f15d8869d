// Package netmetrics exposes the client network stack's telemetry as
// Prometheus metrics. The collector implements session.MetricsReporter
// so the session loop stays free of prometheus types.
package netmetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/merklejerk/holtburger/internal/session"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "holtburger"
	subsystem = "net"
)

// Label names.
const (
	labelReason = "reason"
	labelQueue  = "queue"
	labelState  = "state"
)

// -------------------------------------------------------------------------
// Collector — Prometheus network metrics
// -------------------------------------------------------------------------

// Collector holds all network-stack Prometheus metrics.
//
// Dropped-datagram counters are the only trace recoverable ingress
// failures leave; they are labeled by reason so a chattering link
// (checksum mismatches) is distinguishable from a hostile one (unknown
// flag shapes).
type Collector struct {
	// PacketsReceived counts decodable datagrams from the peer.
	PacketsReceived prometheus.Counter

	// PacketsSent counts datagrams handed to the socket.
	PacketsSent prometheus.Counter

	// PacketsDropped counts discarded datagrams by reason.
	PacketsDropped *prometheus.CounterVec

	// RetransmitsSent counts replays of retained packets.
	RetransmitsSent prometheus.Counter

	// RetransmitsRequested counts retransmit requests sent to the peer.
	RetransmitsRequested prometheus.Counter

	// MessagesDelivered counts reassembled messages by destination
	// queue.
	MessagesDelivered *prometheus.CounterVec

	// SessionState is a one-hot gauge over lifecycle states.
	SessionState *prometheus.GaugeVec

	// EchoRoundTrip is the last measured echo round trip in seconds.
	EchoRoundTrip prometheus.Gauge
}

// interface check: the collector is the session's reporter.
var _ session.MetricsReporter = (*Collector)(nil)

// NewCollector creates a Collector with all metrics registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.PacketsReceived,
		c.PacketsSent,
		c.PacketsDropped,
		c.RetransmitsSent,
		c.RetransmitsRequested,
		c.MessagesDelivered,
		c.SessionState,
		c.EchoRoundTrip,
	)

	return c
}

// newMetrics creates all metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_received_total",
			Help:      "Total decodable datagrams received from the peer.",
		}),

		PacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_sent_total",
			Help:      "Total datagrams handed to the socket.",
		}),

		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_dropped_total",
			Help:      "Total datagrams discarded on ingress, by reason.",
		}, []string{labelReason}),

		RetransmitsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retransmits_sent_total",
			Help:      "Total retained packets replayed on peer request.",
		}),

		RetransmitsRequested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retransmits_requested_total",
			Help:      "Total retransmit requests sent for inbound gaps.",
		}),

		MessagesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_delivered_total",
			Help:      "Total reassembled messages delivered upward, by queue.",
		}, []string{labelQueue}),

		SessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "session_state",
			Help:      "One-hot session lifecycle state.",
		}, []string{labelState}),

		EchoRoundTrip: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "echo_round_trip_seconds",
			Help:      "Last measured echo round trip.",
		}),
	}
}

// -------------------------------------------------------------------------
// session.MetricsReporter implementation
// -------------------------------------------------------------------------

// IncPacketsReceived implements session.MetricsReporter.
func (c *Collector) IncPacketsReceived() { c.PacketsReceived.Inc() }

// IncPacketsSent implements session.MetricsReporter.
func (c *Collector) IncPacketsSent() { c.PacketsSent.Inc() }

// IncPacketsDropped implements session.MetricsReporter.
func (c *Collector) IncPacketsDropped(reason session.DropReason) {
	c.PacketsDropped.WithLabelValues(string(reason)).Inc()
}

// IncRetransmitsSent implements session.MetricsReporter.
func (c *Collector) IncRetransmitsSent() { c.RetransmitsSent.Inc() }

// IncRetransmitsRequested implements session.MetricsReporter.
func (c *Collector) IncRetransmitsRequested() { c.RetransmitsRequested.Inc() }

// IncMessagesDelivered implements session.MetricsReporter.
func (c *Collector) IncMessagesDelivered(queue uint16) {
	c.MessagesDelivered.WithLabelValues(strconv.Itoa(int(queue))).Inc()
}

// SetSessionState implements session.MetricsReporter: the named state
// goes to 1 and every other state's series is removed.
func (c *Collector) SetSessionState(state string) {
	c.SessionState.Reset()
	c.SessionState.WithLabelValues(state).Set(1)
}

// ObserveEchoRoundTrip implements session.MetricsReporter.
func (c *Collector) ObserveEchoRoundTrip(rtt time.Duration) {
	c.EchoRoundTrip.Set(rtt.Seconds())
}
