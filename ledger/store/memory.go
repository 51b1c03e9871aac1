// Package store provides Persister implementations.
package store

import (
	"context"
	"sync"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	doc   []byte
	saves int

	// SaveErr, when set, is returned by every Save and nothing is stored.
	SaveErr error
}

func NewMemory() *Memory {
	return &Memory{}
}

// NewMemoryWith returns a store pre-loaded with doc.
func NewMemoryWith(doc []byte) *Memory {
	m := NewMemory()
	m.doc = append([]byte(nil), doc...)
	return m
}

func (m *Memory) Load(_ context.Context) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.doc == nil {
		return nil, nil
	}
	return append([]byte(nil), m.doc...), nil
}

func (m *Memory) Save(_ context.Context, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.doc = append([]byte(nil), doc...)
	m.saves++
	return nil
}

// Saves reports how many documents were stored successfully.
func (m *Memory) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}
