package stream

import (
	"sync"

	"github.com/dm-vev/voxelterrain/terrain/voxel"
)

// Metrics tracks scheduler counters for observability. A nil *Metrics
// discards everything.
type Metrics struct {
	mu sync.Mutex

	dispatched   [kindCount]uint64
	discarded    [kindCount]uint64
	deferrals    uint64
	backpressure uint64
	unloaded     uint64
	failures     map[voxel.ChunkPos]uint64
	pending      int
	inFlight     int
}

// MetricsSnapshot is a copy of the counters of Metrics.
type MetricsSnapshot struct {
	Dispatched, Discarded   [kindCount]uint64
	Deferrals, Backpressure uint64
	Unloaded, Failures      uint64
	Pending, InFlight       int
}

// NewMetrics creates an empty metrics registry.
func NewMetrics() *Metrics {
	return &Metrics{failures: make(map[voxel.ChunkPos]uint64)}
}

// IncDispatched increments the number of tasks of a kind handed to workers.
func (m *Metrics) IncDispatched(k Kind) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.dispatched[k]++
	m.mu.Unlock()
}

// IncDiscarded increments the number of stale results of a kind dropped.
func (m *Metrics) IncDiscarded(k Kind) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.discarded[k]++
	m.mu.Unlock()
}

// IncDeferrals increments the number of meshing requests that waited.
func (m *Metrics) IncDeferrals() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.deferrals++
	m.mu.Unlock()
}

// IncBackpressure increments the number of ticks that ran out of budget or
// workers before all pending requests were dispatched.
func (m *Metrics) IncBackpressure() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.backpressure++
	m.mu.Unlock()
}

// AddUnloaded adds to the number of chunks released.
func (m *Metrics) AddUnloaded(n int) {
	if m == nil || n == 0 {
		return
	}
	m.mu.Lock()
	m.unloaded += uint64(n)
	m.mu.Unlock()
}

// IncFailure increments the failure counter of a chunk.
func (m *Metrics) IncFailure(pos voxel.ChunkPos) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.failures[pos]++
	m.mu.Unlock()
}

// SetQueue stores the current pending and in flight gauges.
func (m *Metrics) SetQueue(pending, inFlight int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.pending, m.inFlight = pending, inFlight
	m.mu.Unlock()
}

// Failures returns how often the chunk at pos failed.
func (m *Metrics) Failures(pos voxel.ChunkPos) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[pos]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := MetricsSnapshot{
		Dispatched:   m.dispatched,
		Discarded:    m.discarded,
		Deferrals:    m.deferrals,
		Backpressure: m.backpressure,
		Unloaded:     m.unloaded,
		Pending:      m.pending,
		InFlight:     m.inFlight,
	}
	for _, n := range m.failures {
		s.Failures += n
	}
	return s
}
