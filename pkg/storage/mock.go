package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStorage is an in-memory Storage for tests. Slots are copied on the
// way in and out so callers never share state with the store.
type MockStorage struct {
	mu        sync.RWMutex
	slots     map[uuid.UUID]*Slot
	pingError error
	saveError error
}

// Ensure MockStorage implements Storage interface
var _ Storage = (*MockStorage)(nil)

func NewMockStorage() *MockStorage {
	return &MockStorage{
		slots: make(map[uuid.UUID]*Slot),
	}
}

// SetPingError configures the mock to fail on ping with the given error
func (m *MockStorage) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = err
}

// SetSaveError configures the mock to fail every save
func (m *MockStorage) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveError = err
}

func (m *MockStorage) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingError
}

func (m *MockStorage) Close() error {
	return nil
}

func (m *MockStorage) SaveSlot(ctx context.Context, slot *Slot) error {
	if slot == nil {
		return errors.New("slot cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveError != nil {
		return m.saveError
	}
	slot.UpdatedAt = time.Now()
	stored, err := slot.Clone()
	if err != nil {
		return err
	}
	m.slots[slot.ID] = stored
	return nil
}

func (m *MockStorage) LoadSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slot, ok := m.slots[id]
	if !ok {
		return nil, nil
	}
	return slot.Clone()
}

func (m *MockStorage) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, id)
	return nil
}

func (m *MockStorage) ListSlots(ctx context.Context) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(m.slots))
	for id := range m.slots {
		ids = append(ids, id)
	}
	SortIDs(ids)
	return ids, nil
}
