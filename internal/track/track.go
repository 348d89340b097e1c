package track

import (
	"context"
	"errors"
	"sync"

	"github.com/example/trip-dispatch/internal/models"
)

var ErrNoLocation = errors.New("no location recorded for trip")

// Tracker keeps the most recent driver position per trip so a rider that
// reconnects mid-trip can fetch where the driver last was without waiting
// for the next live push.
type Tracker interface {
	Update(ctx context.Context, upd models.LocationUpdate) error
	Last(ctx context.Context, tripID string) (models.LocationUpdate, error)
}

type MemoryTracker struct {
	mu   sync.RWMutex
	last map[string]models.LocationUpdate
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{last: make(map[string]models.LocationUpdate)}
}

func (m *MemoryTracker) Update(ctx context.Context, upd models.LocationUpdate) error {
	m.mu.Lock()
	m.last[upd.TripID] = upd
	m.mu.Unlock()
	return nil
}

func (m *MemoryTracker) Last(ctx context.Context, tripID string) (models.LocationUpdate, error) {
	m.mu.RLock()
	upd, ok := m.last[tripID]
	m.mu.RUnlock()
	if !ok {
		return models.LocationUpdate{}, ErrNoLocation
	}
	return upd, nil
}
