package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every GII metric
const Namespace = "gii"

// Metrics contains the process-wide GII metrics
type Metrics struct {
	ServiceStatus *prometheus.GaugeVec
	ErrorsTotal   *prometheus.CounterVec

	// Wire
	ConnectionsActive *prometheus.GaugeVec
	ConnectionsTotal  *prometheus.CounterVec
	PacketsReceived   *prometheus.CounterVec
	PacketsSent       *prometheus.CounterVec
	BytesReceived     prometheus.Counter
	BytesSent         prometheus.Counter
	OutboxDropped     prometheus.Counter

	// Coordinator
	RelayCalls    prometheus.Counter
	RelayDrained  prometheus.Counter
	RelayWait     prometheus.Histogram
	InfoState     *prometheus.GaugeVec
	StateChanges  *prometheus.CounterVec
	BlocksWritten *prometheus.CounterVec
}

// NewMetrics creates the core metrics, unregistered
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "service",
			Name:      "status",
			Help:      "Service status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
		}, []string{"service"}),

		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "errors",
			Name:      "total",
			Help:      "Total number of errors by class",
		}, []string{"service", "class"}),

		ConnectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "connection",
			Name:      "active",
			Help:      "Open protocol connections",
		}, []string{"role"}),

		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "connection",
			Name:      "total",
			Help:      "Connections ended, by final state",
		}, []string{"role", "result"}),

		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "packets",
			Name:      "received_total",
			Help:      "Packets decoded, by packet type",
		}, []string{"type"}),

		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "packets",
			Name:      "sent_total",
			Help:      "Packets fully written, by packet type",
		}, []string{"type"}),

		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "packets",
			Name:      "received_bytes_total",
			Help:      "Header and payload bytes read",
		}),

		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "packets",
			Name:      "sent_bytes_total",
			Help:      "Header and payload bytes written",
		}),

		OutboxDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "connection",
			Name:      "outbox_dropped_total",
			Help:      "Outgoing packets dropped because an outbox was full",
		}),

		RelayCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "relay",
			Name:      "calls_total",
			Help:      "Closures handed to the coordinator",
		}),

		RelayDrained: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "relay",
			Name:      "drained_total",
			Help:      "Closures executed by the coordinator",
		}),

		RelayWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "relay",
			Name:      "wait_seconds",
			Help:      "Time a worker waits for the coordinator to run its closure",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2},
		}),

		InfoState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "infoserver",
			Name:      "state",
			Help:      "Current information server state (0=OFF, 1=RUN, 2=RECORD, 3=PAUSE, 4=STOP)",
		}, []string{"server"}),

		StateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "infoserver",
			Name:      "transitions_total",
			Help:      "State transitions, by resulting state",
		}, []string{"server", "state"}),

		BlocksWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "resultdata",
			Name:      "blocks_written_total",
			Help:      "Blocks written to result data storage",
		}, []string{"result"}),
	}
}

func (m *Metrics) mustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.ServiceStatus,
		m.ErrorsTotal,
		m.ConnectionsActive,
		m.ConnectionsTotal,
		m.PacketsReceived,
		m.PacketsSent,
		m.BytesReceived,
		m.BytesSent,
		m.OutboxDropped,
		m.RelayCalls,
		m.RelayDrained,
		m.RelayWait,
		m.InfoState,
		m.StateChanges,
		m.BlocksWritten,
	)
}

// RecordServiceStatus updates service status metric
func (m *Metrics) RecordServiceStatus(service string, status int) {
	m.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

// RecordError increments error counter
func (m *Metrics) RecordError(service, class string) {
	m.ErrorsTotal.WithLabelValues(service, class).Inc()
}

// RecordConnectionOpened tracks a new connection for role
func (m *Metrics) RecordConnectionOpened(role string) {
	m.ConnectionsActive.WithLabelValues(role).Inc()
}

// RecordConnectionClosed tracks a finished connection and how it ended
func (m *Metrics) RecordConnectionClosed(role, result string) {
	m.ConnectionsActive.WithLabelValues(role).Dec()
	m.ConnectionsTotal.WithLabelValues(role, result).Inc()
}

// RecordPacketReceived counts an incoming packet of n bytes including the header
func (m *Metrics) RecordPacketReceived(packetType string, n int) {
	m.PacketsReceived.WithLabelValues(packetType).Inc()
	m.BytesReceived.Add(float64(n))
}

// RecordPacketSent counts an outgoing packet of n bytes including the header
func (m *Metrics) RecordPacketSent(packetType string, n int) {
	m.PacketsSent.WithLabelValues(packetType).Inc()
	m.BytesSent.Add(float64(n))
}

// RecordRelayWait observes how long a worker was parked in a relay call
func (m *Metrics) RecordRelayWait(d time.Duration) {
	m.RelayCalls.Inc()
	m.RelayWait.Observe(d.Seconds())
}

// RecordStateChange updates the information server state gauge
func (m *Metrics) RecordStateChange(server string, state int, name string) {
	m.InfoState.WithLabelValues(server).Set(float64(state))
	m.StateChanges.WithLabelValues(server, name).Inc()
}
