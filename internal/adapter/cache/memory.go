package cache

import (
	"sync"
	"time"

	"github.com/tilvera/stockcore/internal/core/domain"
)

type entry struct {
	summary   domain.Summary
	createdAt time.Time
}

// Memory is an in-process summary cache: a mutex-guarded map with lazy TTL
// expiry. No timer goroutine; staleness is checked on read. It is injected
// rather than ambient so a distributed cache can replace it per deployment.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

type Option func(*Memory)

// WithClock overrides the time source, for deterministic expiry tests.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

func NewMemory(ttl time.Duration, opts ...Option) *Memory {
	m := &Memory{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the cached summary unless the entry is absent or older than
// the TTL. An expired entry is dropped and reported as a miss.
func (m *Memory) Get(storeID string) (domain.Summary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[storeID]
	if !ok {
		return domain.Summary{}, false
	}
	if m.now().Sub(e.createdAt) >= m.ttl {
		delete(m.entries, storeID)
		return domain.Summary{}, false
	}
	return e.summary, true
}

func (m *Memory) Set(storeID string, s domain.Summary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[storeID] = entry{summary: s, createdAt: m.now()}
}

func (m *Memory) Invalidate(storeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, storeID)
}
