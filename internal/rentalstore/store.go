// Package rentalstore is the rental-store collaborator: it persists
// agreement state after each core call returns. The core only sees the
// escrow.AgreementStore boundary.
package rentalstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"rentrails/internal/escrow"
)

var ErrDuplicateID = errors.New("agreement id already exists")

// MemoryStore keeps agreements in process memory. Used by tests and local
// development.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Create(_ context.Context, agreement *escrow.RentalAgreement) error {
	body, err := json.Marshal(agreement)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.data[agreement.ID]; exists {
		return fmt.Errorf("agreement %s: %w", agreement.ID, ErrDuplicateID)
	}
	m.data[agreement.ID] = body
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*escrow.RentalAgreement, error) {
	m.mu.RLock()
	body, ok := m.data[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("agreement %s: %w", id, escrow.ErrAgreementNotFound)
	}
	agreement := new(escrow.RentalAgreement)
	if err := json.Unmarshal(body, agreement); err != nil {
		return nil, err
	}
	return agreement, nil
}

func (m *MemoryStore) Update(_ context.Context, agreement *escrow.RentalAgreement) error {
	body, err := json.Marshal(agreement)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.data[agreement.ID]; !exists {
		return fmt.Errorf("agreement %s: %w", agreement.ID, escrow.ErrAgreementNotFound)
	}
	m.data[agreement.ID] = body
	return nil
}
