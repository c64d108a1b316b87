package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability for the feed engine.
// Uses atomic operations for thread-safety; exported to Prometheus by Collector.
type Metrics struct {
	// Counters
	messagesIngested atomic.Uint64
	snapshotsApplied atomic.Uint64
	deltasApplied    atomic.Uint64
	malformedTotal   atomic.Uint64
	staleDropped     atomic.Uint64
	flushesTotal     atomic.Uint64
	transportErrors  atomic.Uint64
	resubscriptions  atomic.Uint64

	// Latency tracking (ingest path)
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
	bookLevels        atomic.Int64
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordIngest records a merged feed message with its merge latency.
func (m *Metrics) RecordIngest(snapshot bool, latencyNs int64, levels int) {
	m.messagesIngested.Add(1)
	if snapshot {
		m.snapshotsApplied.Add(1)
	} else {
		m.deltasApplied.Add(1)
	}
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
	m.bookLevels.Store(int64(levels))
}

// RecordMalformed records a dropped, undecodable frame.
func (m *Metrics) RecordMalformed() {
	m.malformedTotal.Add(1)
}

// RecordStale records a frame dropped because it named another product.
func (m *Metrics) RecordStale() {
	m.staleDropped.Add(1)
}

// RecordFlush records a publication to consumers.
func (m *Metrics) RecordFlush() {
	m.flushesTotal.Add(1)
}

// RecordTransportError records a connection failure.
func (m *Metrics) RecordTransportError() {
	m.transportErrors.Add(1)
}

// RecordResubscription records a completed symbol change.
func (m *Metrics) RecordResubscription() {
	m.resubscriptions.Add(1)
}

// SetBookLevels sets the number of price levels held in the buffer.
func (m *Metrics) SetBookLevels(n int) {
	m.bookLevels.Store(int64(n))
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
	MessagesIngested  uint64
	SnapshotsApplied  uint64
	DeltasApplied     uint64
	MalformedTotal    uint64
	StaleDropped      uint64
	FlushesTotal      uint64
	TransportErrors   uint64
	Resubscriptions   uint64
	AvgLatencyNs      int64
	ActiveConnections int32
	BookLevels        int64
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		MessagesIngested:  m.messagesIngested.Load(),
		SnapshotsApplied:  m.snapshotsApplied.Load(),
		DeltasApplied:     m.deltasApplied.Load(),
		MalformedTotal:    m.malformedTotal.Load(),
		StaleDropped:      m.staleDropped.Load(),
		FlushesTotal:      m.flushesTotal.Load(),
		TransportErrors:   m.transportErrors.Load(),
		Resubscriptions:   m.resubscriptions.Load(),
		AvgLatencyNs:      avgLatency,
		ActiveConnections: m.activeConnections.Load(),
		BookLevels:        m.bookLevels.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.messagesIngested.Store(0)
	m.snapshotsApplied.Store(0)
	m.deltasApplied.Store(0)
	m.malformedTotal.Store(0)
	m.staleDropped.Store(0)
	m.flushesTotal.Store(0)
	m.transportErrors.Store(0)
	m.resubscriptions.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
	m.bookLevels.Store(0)
}
