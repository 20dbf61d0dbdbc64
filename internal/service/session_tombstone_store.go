package service

import (
	"context"
	"sync"
	"time"
)

// SessionTombstoneStore remembers sessions known to be revoked so repeated refresh attempts
// against a dead chain short-circuit before reaching the database. Revocation is permanent,
// so a stale hit can never resurrect a session.
type SessionTombstoneStore interface {
	IsTombstoned(ctx context.Context, userID, authorizationID string) (bool, error)
	MarkTombstoned(ctx context.Context, userID, authorizationID string, ttl time.Duration) error
}

type NoopSessionTombstoneStore struct{}

func NewNoopSessionTombstoneStore() *NoopSessionTombstoneStore {
	return &NoopSessionTombstoneStore{}
}

func (s *NoopSessionTombstoneStore) IsTombstoned(context.Context, string, string) (bool, error) {
	return false, nil
}

func (s *NoopSessionTombstoneStore) MarkTombstoned(context.Context, string, string, time.Duration) error {
	return nil
}

type InMemorySessionTombstoneStore struct {
	mu    sync.RWMutex
	store map[string]map[string]time.Time
}

func NewInMemorySessionTombstoneStore() *InMemorySessionTombstoneStore {
	return &InMemorySessionTombstoneStore{
		store: make(map[string]map[string]time.Time),
	}
}

func (s *InMemorySessionTombstoneStore) IsTombstoned(_ context.Context, userID, authorizationID string) (bool, error) {
	now := time.Now().UTC()
	user := normalizeToken(userID)
	s.mu.RLock()
	sessions, ok := s.store[user]
	if !ok {
		s.mu.RUnlock()
		return false, nil
	}
	expiresAt, ok := sessions[authorizationID]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if now.After(expiresAt) {
		s.mu.Lock()
		if sessions2, ok2 := s.store[user]; ok2 {
			delete(sessions2, authorizationID)
			if len(sessions2) == 0 {
				delete(s.store, user)
			}
		}
		s.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (s *InMemorySessionTombstoneStore) MarkTombstoned(_ context.Context, userID, authorizationID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	user := normalizeToken(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions, ok := s.store[user]
	if !ok {
		sessions = make(map[string]time.Time)
		s.store[user] = sessions
	}
	sessions[authorizationID] = time.Now().UTC().Add(ttl)
	return nil
}
