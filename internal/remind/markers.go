package remind

import (
	"sync"
	"time"
)

// MarkerStore records which (event, offset) reminders have already
// fired, guaranteeing at-most-once emission. The scheduler consults it
// synchronously inside each tick, so a persistent implementation makes
// the guarantee hold across restarts.
type MarkerStore interface {
	Fired(eventID string, offset time.Duration) (bool, error)
	MarkFired(eventID string, offset time.Duration, firedAt time.Time) error
}

type markerKey struct {
	eventID string
	offset  time.Duration
}

// MemoryMarkers is the in-process MarkerStore used when no persistence
// collaborator is configured. At-most-once then holds for the process
// lifetime only.
type MemoryMarkers struct {
	mu    sync.RWMutex
	fired map[markerKey]time.Time
}

func NewMemoryMarkers() *MemoryMarkers {
	return &MemoryMarkers{fired: make(map[markerKey]time.Time)}
}

func (m *MemoryMarkers) Fired(eventID string, offset time.Duration) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.fired[markerKey{eventID, offset}]
	return ok, nil
}

func (m *MemoryMarkers) MarkFired(eventID string, offset time.Duration, firedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fired[markerKey{eventID, offset}] = firedAt
	return nil
}
