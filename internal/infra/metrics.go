package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight feed and simulation counters.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Feed counters
	messagesReceived atomic.Uint64
	snapshotsApplied atomic.Uint64
	parseErrors      atomic.Uint64
	transportErrors  atomic.Uint64
	reconnects       atomic.Uint64
	crossedBooks     atomic.Uint64

	// Simulation counters
	simulations      atomic.Uint64
	rejectedRequests atomic.Uint64

	// Processing latency of applied snapshots
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
}

// RecordMessage counts one inbound frame, parsed or not.
func (m *Metrics) RecordMessage() {
	m.messagesReceived.Add(1)
}

// RecordEvent records an applied snapshot with its processing latency.
func (m *Metrics) RecordEvent(latencyNs int64) {
	m.snapshotsApplied.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordParseError counts a dropped malformed message.
func (m *Metrics) RecordParseError() {
	m.parseErrors.Add(1)
}

// RecordError counts a transport fault.
func (m *Metrics) RecordError() {
	m.transportErrors.Add(1)
}

// RecordReconnect counts a reconnect attempt.
func (m *Metrics) RecordReconnect() {
	m.reconnects.Add(1)
}

// RecordCrossedBook counts a transition into the crossed state.
func (m *Metrics) RecordCrossedBook() {
	m.crossedBooks.Add(1)
}

// RecordSimulation counts an answered request.
func (m *Metrics) RecordSimulation() {
	m.simulations.Add(1)
}

// RecordRejected counts a request failing validation.
func (m *Metrics) RecordRejected() {
	m.rejectedRequests.Add(1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	MessagesReceived  uint64    `json:"messages_received"`
	SnapshotsApplied  uint64    `json:"snapshots_applied"`
	ParseErrors       uint64    `json:"parse_errors"`
	TransportErrors   uint64    `json:"transport_errors"`
	Reconnects        uint64    `json:"reconnects"`
	CrossedBooks      uint64    `json:"crossed_books"`
	Simulations       uint64    `json:"simulations"`
	RejectedRequests  uint64    `json:"rejected_requests"`
	AvgProcessingNs   int64     `json:"avg_processing_ns"`
	ActiveConnections int32     `json:"active_connections"`
	Timestamp         time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		MessagesReceived:  m.messagesReceived.Load(),
		SnapshotsApplied:  m.snapshotsApplied.Load(),
		ParseErrors:       m.parseErrors.Load(),
		TransportErrors:   m.transportErrors.Load(),
		Reconnects:        m.reconnects.Load(),
		CrossedBooks:      m.crossedBooks.Load(),
		Simulations:       m.simulations.Load(),
		RejectedRequests:  m.rejectedRequests.Load(),
		AvgProcessingNs:   avgLatency,
		ActiveConnections: m.activeConnections.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.messagesReceived.Store(0)
	m.snapshotsApplied.Store(0)
	m.parseErrors.Store(0)
	m.transportErrors.Store(0)
	m.reconnects.Store(0)
	m.crossedBooks.Store(0)
	m.simulations.Store(0)
	m.rejectedRequests.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
}
