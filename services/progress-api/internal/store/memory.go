package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is used when no DATABASE_URL is configured and in tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[string]map[string]Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: map[string]map[string]Record{}}
}

func (m *MemoryRepository) Upsert(_ context.Context, u Update, now time.Time) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byLesson := m.rows[u.UserID]
	if byLesson == nil {
		byLesson = map[string]Record{}
		m.rows[u.UserID] = byLesson
	}
	cur, ok := byLesson[u.LessonID]
	if !ok {
		cur = Record{UserID: u.UserID, LessonID: u.LessonID}
	}
	next, changed := apply(cur, u, now)
	if changed {
		byLesson[u.LessonID] = next
	}
	return next, changed, nil
}

func (m *MemoryRepository) List(_ context.Context, userID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, 0, len(m.rows[userID]))
	for _, r := range m.rows[userID] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].LessonID > out[j].LessonID
	})
	return out, nil
}

func (m *MemoryRepository) DeleteUser(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.rows[userID])
	delete(m.rows, userID)
	return n, nil
}

func (m *MemoryRepository) Ping(context.Context) error { return nil }
