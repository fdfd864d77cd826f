package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/example/lesson-progress/services/progress-sync/internal/model"
)

// MemoryPersister keeps the encoded snapshot in memory. State is lost on exit;
// use it for tests and for sessions that opt out of durability.
type MemoryPersister struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{}
}

func (m *MemoryPersister) Save(_ context.Context, s model.Snapshot) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = b
	m.saves++
	return nil
}

func (m *MemoryPersister) Load(_ context.Context) (model.Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return model.Snapshot{}, false, nil
	}
	var s model.Snapshot
	if err := json.Unmarshal(m.data, &s); err != nil {
		return model.Snapshot{}, false, err
	}
	return s, true, nil
}

// Saves reports how many times Save succeeded.
func (m *MemoryPersister) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
