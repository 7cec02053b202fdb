package ratelimit

import (
	"context"
	"sync"
	"time"
)

type slidingWindow struct {
	hits []time.Time
}

func (w *slidingWindow) prune(cutoff time.Time) {
	idx := 0
	for _, hit := range w.hits {
		if hit.After(cutoff) {
			break
		}
		idx++
	}
	w.hits = w.hits[idx:]
}

// MemoryStore keeps per-key sliding windows in process.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*slidingWindow
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*slidingWindow), now: time.Now}
}

func (m *MemoryStore) WithClock(now func() time.Time) {
	m.now = now
}

func (m *MemoryStore) IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if key == "" || window <= 0 {
		return 0, 0, ErrInvalidWindow
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok {
		w = &slidingWindow{}
		m.windows[key] = w
	}
	w.prune(now.Add(-window))
	w.hits = append(w.hits, now)
	ttl := w.hits[0].Add(window).Sub(now)
	return int64(len(w.hits)), ttl, nil
}

// Sweep drops windows with no hits newer than window.
func (m *MemoryStore) Sweep(window time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-window)
	for key, w := range m.windows {
		w.prune(cutoff)
		if len(w.hits) == 0 {
			delete(m.windows, key)
		}
	}
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
