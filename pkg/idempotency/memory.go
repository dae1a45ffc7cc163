package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	resp    Response
	expires time.Time
}

// MemoryStore is a process-local Store. Expired entries are dropped lazily.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Response, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Response{}, false, nil
	}
	if !s.now().Before(e.expires) {
		delete(s.entries, key)
		return Response{}, false, nil
	}
	return e.resp, true, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, resp Response, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expires) {
		return nil
	}
	body := append([]byte(nil), resp.Body...)
	resp.Body = body
	s.entries[key] = memoryEntry{resp: resp, expires: now.Add(ttl)}
	return nil
}
