package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

type entry struct {
	key     string
	value   []byte
	expires time.Time
	element *list.Element
}

// Memory is a size-bounded LRU with per-entry expiry. It backs the service
// when Redis is disabled or unreachable at startup.
type Memory struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*entry
	order    *list.List
	now      func() time.Time
}

func NewMemory(capacity int, ttl time.Duration) *Memory {
	if capacity <= 0 {
		capacity = 1024
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Memory{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*entry, capacity),
		order:    list.New(),
		now:      time.Now,
	}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ent, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	if !ent.expires.IsZero() && !m.now().Before(ent.expires) {
		m.removeEntry(ent)
		return nil, false, nil
	}
	m.order.MoveToFront(ent.element)
	return append([]byte(nil), ent.value...), true, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := append([]byte(nil), value...)
	if ent, ok := m.items[key]; ok {
		ent.value = stored
		ent.expires = m.expiry(ttl)
		m.order.MoveToFront(ent.element)
		return nil
	}

	if len(m.items) >= m.capacity {
		m.evictOldest()
	}

	m.items[key] = &entry{
		key:     key,
		value:   stored,
		expires: m.expiry(ttl),
		element: m.order.PushFront(key),
	}
	return nil
}

func (m *Memory) Purge(ctx context.Context, prefix string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, ent := range m.items {
		if strings.HasPrefix(key, prefix) {
			m.removeEntry(ent)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		ttl = m.ttl
	}
	return m.now().Add(ttl)
}

func (m *Memory) evictOldest() {
	elem := m.order.Back()
	if elem == nil {
		return
	}
	if ent, ok := m.items[elem.Value.(string)]; ok {
		m.removeEntry(ent)
	}
}

func (m *Memory) removeEntry(ent *entry) {
	if ent.element != nil {
		m.order.Remove(ent.element)
	}
	delete(m.items, ent.key)
}
