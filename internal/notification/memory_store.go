package notification

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory notification store for demo/development mode.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[int64]*Notification
	nextID int64
}

// NewMemoryStore creates a new in-memory notification store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:  make(map[int64]*Notification),
		nextID: 1,
	}
}

func (m *MemoryStore) Create(ctx context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n.ID = m.nextID
	m.nextID++
	cp := *n
	m.items[n.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID int64) ([]*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Notification
	for _, n := range m.items {
		if n.UserID == userID {
			cp := *n
			result = append(result, &cp)
		}
	}
	// IDs are assigned in creation order, so this yields oldest-first.
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryStore) MarkRead(ctx context.Context, id, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.items[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	n.Read = true
	return nil
}

func (m *MemoryStore) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var flipped int64
	for _, n := range m.items {
		if n.UserID == userID && !n.Read {
			n.Read = true
			flipped++
		}
	}
	return flipped, nil
}

func (m *MemoryStore) CountUnread(ctx context.Context, userID int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, n := range m.items {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

var _ Store = (*MemoryStore)(nil)
