package draft

import (
	"context"
	"sync"
	"time"

	"waypoint/api/internal/review"
)

// MemoryStore is the fallback when Redis is not configured. Drafts then
// only survive as long as the process does.
type MemoryStore struct {
	mu      sync.Mutex
	drafts  map[string]memoryEntry
	flags   map[string]time.Time
	ttl     time.Duration
	nowFunc func() time.Time
}

type memoryEntry struct {
	draft     review.Draft
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{
		drafts:  make(map[string]memoryEntry),
		flags:   make(map[string]time.Time),
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

func (s *MemoryStore) SaveDraft(_ context.Context, key string, d *review.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[key] = memoryEntry{draft: *d, expiresAt: s.nowFunc().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) LoadDraft(_ context.Context, key string) (*review.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.drafts[key]
	if !ok || s.nowFunc().After(entry.expiresAt) {
		delete(s.drafts, key)
		return nil, nil
	}
	d := entry.draft
	return &d, nil
}

func (s *MemoryStore) ClearDraft(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, key)
	return nil
}

func (s *MemoryStore) MarkPromptShown(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFunc()
	if expiry, ok := s.flags[key]; ok && now.Before(expiry) {
		return false, nil
	}
	s.flags[key] = now.Add(s.ttl)
	return true, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
