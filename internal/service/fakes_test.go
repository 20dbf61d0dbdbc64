package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sandeepkv93/idp-session-core/internal/domain"
	"github.com/sandeepkv93/idp-session-core/internal/repository"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type inMemoryUserSessionRepo struct {
	mu       sync.Mutex
	nextID   uint
	sessions map[string]*domain.UserSession
	finds    int
	// beforeCAS runs outside the lock ahead of each conditional write.
	beforeCAS func()
}

func newInMemoryUserSessionRepo() *inMemoryUserSessionRepo {
	return &inMemoryUserSessionRepo{nextID: 1, sessions: map[string]*domain.UserSession{}}
}

func sessionKey(userID, authorizationID string) string {
	return userID + "\x00" + authorizationID
}

func (r *inMemoryUserSessionRepo) Create(_ context.Context, s *domain.UserSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := sessionKey(s.UserID, s.AuthorizationID)
	if _, exists := r.sessions[key]; exists {
		return errors.New("duplicate session")
	}
	cp := *s
	cp.ID = r.nextID
	if cp.Version == 0 {
		cp.Version = 1
	}
	r.nextID++
	r.sessions[key] = &cp
	s.ID = cp.ID
	return nil
}

func (r *inMemoryUserSessionRepo) FindByUserAndAuthorization(_ context.Context, userID, authorizationID string) (*domain.UserSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finds++
	s, ok := r.sessions[sessionKey(userID, authorizationID)]
	if !ok {
		return nil, repository.ErrUserSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *inMemoryUserSessionRepo) ListByUserID(_ context.Context, userID string) ([]domain.UserSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.UserSession
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *inMemoryUserSessionRepo) CompareAndSwapRotation(_ context.Context, u repository.RotationUpdate) error {
	if r.beforeCAS != nil {
		r.beforeCAS()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionKey(u.UserID, u.AuthorizationID)]
	if !ok || s.RevokedUTC != nil || s.CurrentRefreshTokenHash != u.ExpectedCurrentHash {
		return repository.ErrRotationConflict
	}
	prev := s.CurrentRefreshTokenHash
	s.PreviousRefreshTokenHash = &prev
	s.CurrentRefreshTokenHash = u.NewCurrentHash
	s.SlidingExpiresUTC = u.SlidingExpiresUTC
	s.SlidingExtensionCount++
	s.Version++
	return nil
}

func (r *inMemoryUserSessionRepo) MarkRevoked(_ context.Context, userID, authorizationID, reason string, at time.Time, reuseDetected bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionKey(userID, authorizationID)]
	if !ok || s.RevokedUTC != nil {
		return false, nil
	}
	s.RevokedUTC = &at
	s.RevokedReason = &reason
	if reuseDetected {
		s.ReuseDetectedUTC = &at
	}
	s.Version++
	return true, nil
}

func (r *inMemoryUserSessionRepo) get(userID, authorizationID string) domain.UserSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.sessions[sessionKey(userID, authorizationID)]
}

type fakeAuthorizationStore struct {
	mu          sync.Mutex
	order       []string
	byID        map[string]*domain.Authorization
	rejectIDs   map[string]bool
	errIDs      map[string]error
	findErr     error
	revokeCalls int
	statusCalls []string
}

func newFakeAuthorizationStore(auths ...domain.Authorization) *fakeAuthorizationStore {
	s := &fakeAuthorizationStore{
		byID:      map[string]*domain.Authorization{},
		rejectIDs: map[string]bool{},
		errIDs:    map[string]error{},
	}
	for i := range auths {
		a := auths[i]
		if a.Status == "" {
			a.Status = domain.AuthorizationStatusValid
		}
		s.order = append(s.order, a.ID)
		s.byID[a.ID] = &a
	}
	return s
}

func (s *fakeAuthorizationStore) FindByID(_ context.Context, id string) (*domain.Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	a, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *fakeAuthorizationStore) FindBySubject(_ context.Context, subject, status string) ([]domain.Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusCalls = append(s.statusCalls, status)
	if s.findErr != nil {
		return nil, s.findErr
	}
	var out []domain.Authorization
	for _, id := range s.order {
		a := s.byID[id]
		if !strings.EqualFold(a.Subject, subject) {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (s *fakeAuthorizationStore) TryRevoke(_ context.Context, a *domain.Authorization) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeCalls++
	if err := s.errIDs[a.ID]; err != nil {
		return false, err
	}
	if s.rejectIDs[a.ID] {
		return false, nil
	}
	stored, ok := s.byID[a.ID]
	if !ok {
		return false, nil
	}
	stored.Status = domain.AuthorizationStatusRevoked
	return true, nil
}

type fakeTokenStore struct {
	mu          sync.Mutex
	tokens      map[string]int64
	expirations map[string]time.Time
	revoked     map[string]int64
	revokeCalls int
	err         error
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{
		tokens:      map[string]int64{},
		expirations: map[string]time.Time{},
		revoked:     map[string]int64{},
	}
}

func (s *fakeTokenStore) RevokeByAuthorizationID(_ context.Context, authorizationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeCalls++
	if s.err != nil {
		return 0, s.err
	}
	n := s.tokens[authorizationID]
	s.tokens[authorizationID] = 0
	s.revoked[authorizationID] += n
	return n, nil
}

func (s *fakeTokenStore) FindNearestExpiration(_ context.Context, authorizationID string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	t, ok := s.expirations[authorizationID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

type fakeApplicationDirectory struct {
	apps map[string]*domain.Application
}

func (d fakeApplicationDirectory) FindByID(_ context.Context, id string) (*domain.Application, error) {
	app, ok := d.apps[id]
	if !ok {
		return nil, nil
	}
	cp := *app
	return &cp, nil
}

type recordingAuditSink struct {
	mu     sync.Mutex
	events []AuditEvent
	err    error
}

func (s *recordingAuditSink) LogEvent(_ context.Context, event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingAuditSink) count(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

func (s *recordingAuditSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
