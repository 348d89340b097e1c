package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/trip-dispatch/internal/models"
)

var (
	ErrTripExists   = errors.New("trip already exists")
	ErrTripNotFound = errors.New("trip not found")
)

// TripStore is the durable record of trips. The coordinator reads and
// writes it but does not own its schema; in-memory dispatch state is a
// coordination layer on top, never the source of truth.
type TripStore interface {
	CreateTrip(ctx context.Context, t *models.Trip) error
	UpdateStatus(ctx context.Context, tripID, status string) error
	GetTrip(ctx context.Context, tripID string) (*models.Trip, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	trips map[string]*models.Trip
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trips: make(map[string]*models.Trip)}
}

func (m *MemoryStore) CreateTrip(ctx context.Context, t *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[t.ID]; ok {
		return ErrTripExists
	}
	cp := *t
	m.trips[t.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, tripID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return ErrTripNotFound
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) GetTrip(ctx context.Context, tripID string) (*models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[tripID]
	if !ok {
		return nil, ErrTripNotFound
	}
	cp := *t
	return &cp, nil
}
