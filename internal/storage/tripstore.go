package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/consultora1700/mubitt-san-juan/internal/models"
)

// Store persists trip and driver snapshots. The coordinator owns the
// in-memory authoritative copy and writes through; durability and
// replication concerns live behind this interface.
type Store interface {
	SaveTrip(t *models.Trip) error
	UpdateTrip(t *models.Trip) error
	GetTrip(id string) (*models.Trip, error)
	ListTripsByPassenger(passengerID string, limit, offset int) ([]*models.Trip, error)
	ListCompletedTripsByDriver(driverID string, since time.Time) ([]*models.Trip, error)
	SaveDriver(d *models.Driver) error
	UpdateDriver(d *models.Driver) error
}

type MemoryStore struct {
	mu      sync.RWMutex
	trips   map[string]models.Trip
	drivers map[string]models.Driver
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trips:   make(map[string]models.Trip),
		drivers: make(map[string]models.Driver),
	}
}

func (m *MemoryStore) SaveTrip(t *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips[t.ID] = *t
	return nil
}

func (m *MemoryStore) UpdateTrip(t *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[t.ID]; !ok {
		return models.ErrTripNotFound
	}
	m.trips[t.ID] = *t
	return nil
}

func (m *MemoryStore) GetTrip(id string) (*models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, models.ErrTripNotFound
	}
	return &t, nil
}

func (m *MemoryStore) ListTripsByPassenger(passengerID string, limit, offset int) ([]*models.Trip, error) {
	m.mu.RLock()
	all := make([]models.Trip, 0)
	for _, t := range m.trips {
		if t.Request.PassengerID == passengerID {
			all = append(all, t)
		}
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]*models.Trip, len(all))
	for i := range all {
		out[i] = &all[i]
	}
	return out, nil
}

func (m *MemoryStore) ListCompletedTripsByDriver(driverID string, since time.Time) ([]*models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Trip
	for _, t := range m.trips {
		if t.DriverID != driverID || t.Status != models.TripCompleted {
			continue
		}
		if t.CompletedAt == nil || t.CompletedAt.Before(since) {
			continue
		}
		cp := t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) SaveDriver(d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = *d
	return nil
}

func (m *MemoryStore) UpdateDriver(d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drivers[d.ID]; !ok {
		return models.ErrDriverNotFound
	}
	m.drivers[d.ID] = *d
	return nil
}

func (m *MemoryStore) GetDriver(id string) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, models.ErrDriverNotFound
	}
	return &d, nil
}
