package observability

import (
	"log/slog"
	"runtime"
	"sync/atomic"
)

// Stats is a point-in-time snapshot of the hub counters plus Go
// runtime memory figures, served by the debug inspector and logged by
// the heartbeat worker.
type Stats struct {
	Sessions   int64  `json:"sessions"`
	Delivered  uint64 `json:"delivered"`
	Queued     uint64 `json:"queued"`
	Drained    uint64 `json:"drained"`
	Skipped    uint64 `json:"skipped"`
	AllocMemMb uint64 `json:"alloc_mem_mb"`
	NumGC      uint32 `json:"num_gc"`
}

// Manager aggregates delivery counters updated from many goroutines.
// All counters are atomic; Snapshot never blocks the hot path.
type Manager struct {
	log *slog.Logger

	sessions  atomic.Int64
	delivered atomic.Uint64
	queued    atomic.Uint64
	drained   atomic.Uint64
	skipped   atomic.Uint64
}

func NewManager(log *slog.Logger) *Manager {
	return &Manager{log: log}
}

func (m *Manager) IncrSessions()  { m.sessions.Add(1) }
func (m *Manager) DecrSessions()  { m.sessions.Add(-1) }
func (m *Manager) IncrDelivered() { m.delivered.Add(1) }
func (m *Manager) IncrQueued()    { m.queued.Add(1) }
func (m *Manager) IncrDrained()   { m.drained.Add(1) }
func (m *Manager) IncrSkipped()   { m.skipped.Add(1) }

func (m *Manager) AddDelivered(n uint64) { m.delivered.Add(n) }
func (m *Manager) AddQueued(n uint64)    { m.queued.Add(n) }

func (m *Manager) Snapshot() Stats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return Stats{
		Sessions:   m.sessions.Load(),
		Delivered:  m.delivered.Load(),
		Queued:     m.queued.Load(),
		Drained:    m.drained.Load(),
		Skipped:    m.skipped.Load(),
		AllocMemMb: ms.Alloc / 1024 / 1024,
		NumGC:      ms.NumGC,
	}
}
