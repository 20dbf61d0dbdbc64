package service

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SessionListCacheStore caches a user's enumerated sessions. Invalidation bumps a per-user epoch
// that is part of the data key, so stale entries simply stop being addressed and age out.
type SessionListCacheStore interface {
	Get(ctx context.Context, userID string) ([]SessionView, bool, error)
	Set(ctx context.Context, userID string, sessions []SessionView, ttl time.Duration) error
	InvalidateUser(ctx context.Context, userID string) error
}

type NoopSessionListCacheStore struct{}

func NewNoopSessionListCacheStore() *NoopSessionListCacheStore {
	return &NoopSessionListCacheStore{}
}

func (s *NoopSessionListCacheStore) Get(context.Context, string) ([]SessionView, bool, error) {
	return nil, false, nil
}

func (s *NoopSessionListCacheStore) Set(context.Context, string, []SessionView, time.Duration) error {
	return nil
}

func (s *NoopSessionListCacheStore) InvalidateUser(context.Context, string) error {
	return nil
}

type sessionListCacheEntry struct {
	sessions  []SessionView
	expiresAt time.Time
}

type InMemorySessionListCacheStore struct {
	mu        sync.RWMutex
	data      map[string]sessionListCacheEntry
	userEpoch map[string]uint64
}

func NewInMemorySessionListCacheStore() *InMemorySessionListCacheStore {
	return &InMemorySessionListCacheStore{
		data:      make(map[string]sessionListCacheEntry),
		userEpoch: make(map[string]uint64),
	}
}

func (s *InMemorySessionListCacheStore) Get(_ context.Context, userID string) ([]SessionView, bool, error) {
	now := time.Now().UTC()
	s.mu.RLock()
	key := s.cacheKeyLocked(userID)
	entry, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if now.After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.data, key)
		s.mu.Unlock()
		return nil, false, nil
	}
	return append([]SessionView(nil), entry.sessions...), true, nil
}

func (s *InMemorySessionListCacheStore) Set(_ context.Context, userID string, sessions []SessionView, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[s.cacheKeyLocked(userID)] = sessionListCacheEntry{
		sessions:  append([]SessionView(nil), sessions...),
		expiresAt: time.Now().UTC().Add(ttl),
	}
	return nil
}

func (s *InMemorySessionListCacheStore) InvalidateUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, s.cacheKeyLocked(userID))
	s.userEpoch[normalizeToken(userID)]++
	return nil
}

func (s *InMemorySessionListCacheStore) cacheKeyLocked(userID string) string {
	user := normalizeToken(userID)
	return buildSessionListCacheKey(s.userEpoch[user], user)
}

func buildSessionListCacheKey(userEpoch uint64, userID string) string {
	return fmt.Sprintf("sessions:u%d:user:%s", userEpoch, hashToken(userID))
}
