package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sandeepkv93/idp-session-core/internal/domain"
	"github.com/sandeepkv93/idp-session-core/internal/repository"
	"github.com/sandeepkv93/idp-session-core/internal/security"
)

const testPepper = "pepper-for-tests-0123456789"

var testNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

type refreshFixture struct {
	repo       *inMemoryUserSessionRepo
	audit      *recordingAuditSink
	tombstones *InMemorySessionTombstoneStore
	svc        *RefreshRotationService
}

func newRefreshFixture(t *testing.T) *refreshFixture {
	t.Helper()
	f := &refreshFixture{
		repo:       newInMemoryUserSessionRepo(),
		audit:      &recordingAuditSink{},
		tombstones: NewInMemorySessionTombstoneStore(),
	}
	f.svc = NewRefreshRotationService(f.repo, f.tombstones, NewInMemorySessionListCacheStore(), f.audit,
		fixedClock{now: testNow}, discardLogger(), RefreshPolicy{
			Pepper:         testPepper,
			SlidingWindow:  30 * time.Minute,
			AbsoluteTTL:    8 * time.Hour,
			AccessTokenTTL: 15 * time.Minute,
			MaxAttempts:    3,
			TombstoneTTL:   time.Hour,
		})
	return f
}

func (f *refreshFixture) seed(t *testing.T, raw string, sliding, absolute time.Duration) {
	t.Helper()
	err := f.repo.Create(context.Background(), &domain.UserSession{
		UserID:                  "alice",
		AuthorizationID:         "auth-1",
		CurrentRefreshTokenHash: security.HashRefreshToken(raw, testPepper),
		SlidingExpiresUTC:       testNow.Add(sliding),
		AbsoluteExpiresUTC:      testNow.Add(absolute),
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func refreshInput(raw string) RefreshInput {
	return RefreshInput{
		UserID:          "alice",
		AuthorizationID: "auth-1",
		RefreshToken:    raw,
		ClientIP:        "203.0.113.7",
		UserAgent:       "test-agent/1.0",
	}
}

func TestRefreshRotatesAndExtendsSlidingWindow(t *testing.T) {
	f := newRefreshFixture(t)
	f.seed(t, "old-secret", 2*time.Minute, 8*time.Hour)

	res, err := f.svc.Refresh(context.Background(), refreshInput("old-secret"))
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if res == nil {
		t.Fatal("expected refresh result")
	}
	if res.ReuseDetected || !res.SlidingExtended || res.Status != RefreshStatusRotated {
		t.Fatalf("unexpected flags: %+v", res)
	}
	if res.RefreshTokenExpiresAt == nil || !res.RefreshTokenExpiresAt.Equal(testNow.Add(30*time.Minute)) {
		t.Fatalf("expected refresh expiry now+30m, got %v", res.RefreshTokenExpiresAt)
	}
	if res.RefreshTokenExpiresAt.Location() != time.UTC {
		t.Fatalf("expected UTC refresh expiry, got %v", res.RefreshTokenExpiresAt.Location())
	}
	if res.AccessTokenExpiresAt == nil || !res.AccessTokenExpiresAt.Equal(testNow.Add(15*time.Minute)) {
		t.Fatalf("expected access expiry now+15m, got %v", res.AccessTokenExpiresAt)
	}
	if res.RefreshToken == "" || res.RefreshToken == "old-secret" {
		t.Fatalf("expected a fresh refresh secret, got %q", res.RefreshToken)
	}

	stored := f.repo.get("alice", "auth-1")
	if stored.CurrentRefreshTokenHash != security.HashRefreshToken(res.RefreshToken, testPepper) {
		t.Fatal("expected current hash to match the new secret")
	}
	if stored.PreviousRefreshTokenHash == nil || *stored.PreviousRefreshTokenHash != security.HashRefreshToken("old-secret", testPepper) {
		t.Fatal("expected previous hash to hold the superseded secret")
	}
	if stored.SlidingExtensionCount != 1 {
		t.Fatalf("expected extension count 1, got %d", stored.SlidingExtensionCount)
	}
	if f.audit.count(domain.AuditRefreshTokenRotated) != 1 || f.audit.count(domain.AuditSlidingExpirationExtended) != 1 {
		t.Fatalf("expected rotated and extended audits, got %+v", f.audit.events)
	}
}

func TestRefreshCapsAtAbsoluteExpiry(t *testing.T) {
	f := newRefreshFixture(t)
	f.seed(t, "old-secret", 2*time.Minute, 10*time.Minute)

	res, err := f.svc.Refresh(context.Background(), refreshInput("old-secret"))
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	absolute := testNow.Add(10 * time.Minute)
	if res == nil || res.RefreshTokenExpiresAt == nil || !res.RefreshTokenExpiresAt.Equal(absolute) {
		t.Fatalf("expected refresh expiry capped at %v, got %+v", absolute, res)
	}
	if !res.AccessTokenExpiresAt.Equal(absolute) {
		t.Fatalf("expected access expiry capped at %v, got %v", absolute, res.AccessTokenExpiresAt)
	}
	stored := f.repo.get("alice", "auth-1")
	if stored.SlidingExpiresUTC.After(stored.AbsoluteExpiresUTC) {
		t.Fatal("sliding expiry must never exceed absolute expiry")
	}
}

func TestRefreshAtAbsoluteCapDoesNotEmitExtension(t *testing.T) {
	f := newRefreshFixture(t)
	f.seed(t, "old-secret", 10*time.Minute, 10*time.Minute)

	res, err := f.svc.Refresh(context.Background(), refreshInput("old-secret"))
	if err != nil || res == nil {
		t.Fatalf("refresh: %+v, %v", res, err)
	}
	if !res.SlidingExtended {
		t.Fatal("expected SlidingExtended on a successful rotation")
	}
	if f.audit.count(domain.AuditRefreshTokenRotated) != 1 {
		t.Fatal("expected rotation audit")
	}
	if f.audit.count(domain.AuditSlidingExpirationExtended) != 0 {
		t.Fatal("expected no extension audit when the deadline did not move")
	}
}

func TestRefreshDetectsReuseOfSupersededToken(t *testing.T) {
	f := newRefreshFixture(t)
	f.seed(t, "old-secret", 2*time.Minute, 8*time.Hour)
	ctx := context.Background()

	if _, err := f.svc.Refresh(ctx, refreshInput("old-secret")); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	res, err := f.svc.Refresh(ctx, refreshInput("old-secret"))
	if err != nil {
		t.Fatalf("replayed refresh: %v", err)
	}
	if res == nil || !res.ReuseDetected || res.SlidingExtended || res.RefreshTokenExpiresAt != nil || res.RefreshToken != "" {
		t.Fatalf("expected reuse result without rotation fields, got %+v", res)
	}
	stored := f.repo.get("alice", "auth-1")
	if stored.RevokedUTC == nil || !stored.RevokedUTC.Equal(testNow) {
		t.Fatalf("expected session tombstoned at now, got %v", stored.RevokedUTC)
	}
	if stored.ReuseDetectedUTC == nil {
		t.Fatal("expected reuse timestamp")
	}
	if f.audit.count(domain.AuditRefreshTokenReuseDetected) != 1 {
		t.Fatalf("expected exactly one reuse audit, got %d", f.audit.count(domain.AuditRefreshTokenReuseDetected))
	}
	for _, e := range f.audit.events {
		if e.EventType == domain.AuditRefreshTokenReuseDetected {
			if e.Details["ip"] != "203.0.113.7" || e.Details["userAgent"] != "test-agent/1.0" {
				t.Fatalf("expected ip and userAgent in reuse audit, got %+v", e.Details)
			}
		}
	}
	hit, _ := f.tombstones.IsTombstoned(ctx, "alice", "auth-1")
	if !hit {
		t.Fatal("expected tombstone cache entry after reuse")
	}
}

func TestRefreshOnRevokedSessionIsTerminal(t *testing.T) {
	f := newRefreshFixture(t)
	f.seed(t, "old-secret", 2*time.Minute, 8*time.Hour)
	ctx := context.Background()

	first, err := f.svc.Refresh(ctx, refreshInput("old-secret"))
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := f.repo.MarkRevoked(ctx, "alice", "auth-1", "chain_revoked", testNow, false); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	before := f.repo.get("alice", "auth-1")
	auditsBefore := f.audit.total()

	for _, raw := range []string{first.RefreshToken, "old-secret", "never-issued"} {
		// A fresh service avoids the tombstone cache so the database path is exercised.
		svc := NewRefreshRotationService(f.repo, nil, nil, f.audit, fixedClock{now: testNow}, discardLogger(), RefreshPolicy{Pepper: testPepper})
		res, err := svc.Refresh(ctx, refreshInput(raw))
		if err != nil {
			t.Fatalf("refresh %q: %v", raw, err)
		}
		if res == nil || res.Status != RefreshStatusTerminal || res.ReuseDetected || res.SlidingExtended ||
			res.AccessTokenExpiresAt != nil || res.RefreshTokenExpiresAt != nil {
			t.Fatalf("expected empty terminal result for %q, got %+v", raw, res)
		}
	}

	after := f.repo.get("alice", "auth-1")
	if after.Version != before.Version || after.CurrentRefreshTokenHash != before.CurrentRefreshTokenHash {
		t.Fatal("terminal refresh must not mutate the session")
	}
	if f.audit.total() != auditsBefore {
		t.Fatalf("terminal refresh must not emit audits, got %d new", f.audit.total()-auditsBefore)
	}
}

func TestRefreshTombstoneCacheShortCircuits(t *testing.T) {
	f := newRefreshFixture(t)
	f.seed(t, "old-secret", 2*time.Minute, 8*time.Hour)
	ctx := context.Background()
	if err := f.tombstones.MarkTombstoned(ctx, "alice", "auth-1", time.Minute); err != nil {
		t.Fatalf("mark tombstone: %v", err)
	}

	res, err := f.svc.Refresh(ctx, refreshInput("old-secret"))
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if res == nil || res.Status != RefreshStatusTerminal {
		t.Fatalf("expected terminal result, got %+v", res)
	}
	if f.repo.finds != 0 {
		t.Fatalf("expected no session lookups, got %d", f.repo.finds)
	}
}

func TestRefreshUnknownTokenAndSession(t *testing.T) {
	f := newRefreshFixture(t)
	f.seed(t, "old-secret", 2*time.Minute, 8*time.Hour)
	ctx := context.Background()
	before := f.repo.get("alice", "auth-1")

	res, err := f.svc.Refresh(ctx, refreshInput("not-the-secret"))
	if err != nil || res != nil {
		t.Fatalf("expected nil, nil for unknown token, got %+v, %v", res, err)
	}
	in := refreshInput("old-secret")
	in.AuthorizationID = "auth-missing"
	res, err = f.svc.Refresh(ctx, in)
	if err != nil || res != nil {
		t.Fatalf("expected nil, nil for missing session, got %+v, %v", res, err)
	}

	if after := f.repo.get("alice", "auth-1"); after.Version != before.Version {
		t.Fatal("unknown token must not mutate the session")
	}
	if f.audit.total() != 0 {
		t.Fatalf("expected no audits, got %d", f.audit.total())
	}
}

func TestRefreshExpiredSessionIsRejected(t *testing.T) {
	f := newRefreshFixture(t)
	f.seed(t, "old-secret", -time.Second, 8*time.Hour)

	res, err := f.svc.Refresh(context.Background(), refreshInput("old-secret"))
	if err != nil || res == nil || res.Status != RefreshStatusExpired || res.AuthorizationID != "auth-1" {
		t.Fatalf("expected expired outcome, got %+v, %v", res, err)
	}
	if res.RefreshToken != "" || res.ReuseDetected {
		t.Fatalf("expired outcome must not carry a secret or reuse flag: %+v", res)
	}
	if got := f.repo.get("alice", "auth-1"); got.SlidingExtensionCount != 0 || got.RevokedUTC != nil {
		t.Fatal("expired session must not rotate or be revoked")
	}
}

func TestRefreshAtAbsoluteDeadlineIsExpired(t *testing.T) {
	f := newRefreshFixture(t)
	f.seed(t, "old-secret", 30*time.Minute, 0)

	res, err := f.svc.Refresh(context.Background(), refreshInput("old-secret"))
	if err != nil || res == nil || res.Status != RefreshStatusExpired {
		t.Fatalf("expected expired outcome at the absolute deadline, got %+v, %v", res, err)
	}
}

func TestRefreshLosingRacerFallsIntoReuse(t *testing.T) {
	f := newRefreshFixture(t)
	f.seed(t, "old-secret", 2*time.Minute, 8*time.Hour)
	ctx := context.Background()

	f.repo.beforeCAS = func() {
		f.repo.beforeCAS = nil
		// Another request rotates the same token between our read and our write.
		err := f.repo.CompareAndSwapRotation(ctx, repository.RotationUpdate{
			UserID:              "alice",
			AuthorizationID:     "auth-1",
			ExpectedCurrentHash: security.HashRefreshToken("old-secret", testPepper),
			NewCurrentHash:      security.HashRefreshToken("winner-secret", testPepper),
			SlidingExpiresUTC:   testNow.Add(30 * time.Minute),
		})
		if err != nil {
			t.Errorf("winner rotation: %v", err)
		}
	}

	res, err := f.svc.Refresh(ctx, refreshInput("old-secret"))
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if res == nil || !res.ReuseDetected {
		t.Fatalf("expected losing racer to observe reuse, got %+v", res)
	}
	if f.audit.count(domain.AuditRefreshTokenRotated) != 0 {
		t.Fatal("losing racer must not emit a rotation audit")
	}
}

func TestRefreshConcurrentCallersRotateOnce(t *testing.T) {
	f := newRefreshFixture(t)
	f.seed(t, "old-secret", 2*time.Minute, 8*time.Hour)

	const callers = 2
	results := make([]*RefreshResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Refresh(context.Background(), refreshInput("old-secret"))
		}(i)
	}
	wg.Wait()

	rotated, reused := 0, 0
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		switch {
		case results[i] == nil:
			t.Fatalf("caller %d: unexpected nil result", i)
		case results[i].Status == RefreshStatusRotated:
			rotated++
		case results[i].ReuseDetected:
			reused++
		}
	}
	if rotated != 1 || reused != 1 {
		t.Fatalf("expected one rotation and one reuse, got rotated=%d reused=%d", rotated, reused)
	}
}

func TestRefreshPersistentConflictReturnsContention(t *testing.T) {
	f := newRefreshFixture(t)
	f.seed(t, "old-secret", 2*time.Minute, 8*time.Hour)
	conflicting := &conflictingRepo{inMemoryUserSessionRepo: f.repo}
	svc := NewRefreshRotationService(conflicting, nil, nil, f.audit, fixedClock{now: testNow}, discardLogger(),
		RefreshPolicy{Pepper: testPepper, MaxAttempts: 2})

	_, err := svc.Refresh(context.Background(), refreshInput("old-secret"))
	if !errors.Is(err, ErrRotationContention) {
		t.Fatalf("expected ErrRotationContention, got %v", err)
	}
	if conflicting.attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", conflicting.attempts)
	}
}

type conflictingRepo struct {
	*inMemoryUserSessionRepo
	attempts int
}

func (r *conflictingRepo) CompareAndSwapRotation(context.Context, repository.RotationUpdate) error {
	r.attempts++
	return repository.ErrRotationConflict
}

func TestRefreshAuditFailureDoesNotFailRotation(t *testing.T) {
	f := newRefreshFixture(t)
	f.audit.err = errors.New("audit store down")
	f.seed(t, "old-secret", 2*time.Minute, 8*time.Hour)

	res, err := f.svc.Refresh(context.Background(), refreshInput("old-secret"))
	if err != nil {
		t.Fatalf("refresh must succeed despite audit failure: %v", err)
	}
	if res == nil || res.Status != RefreshStatusRotated {
		t.Fatalf("expected rotation, got %+v", res)
	}
}

func TestIssueCreatesRotatableSession(t *testing.T) {
	f := newRefreshFixture(t)
	ctx := context.Background()

	issued, err := f.svc.Issue(ctx, IssueInput{UserID: "alice", AuthorizationID: "auth-1", ClientIP: "198.51.100.1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !issued.RefreshTokenExpiresAt.Equal(testNow.Add(30*time.Minute)) || !issued.AbsoluteExpiresAt.Equal(testNow.Add(8*time.Hour)) {
		t.Fatalf("unexpected issue expiries: %+v", issued)
	}
	if f.audit.count(domain.AuditSessionIssued) != 1 {
		t.Fatal("expected session issued audit")
	}

	res, err := f.svc.Refresh(ctx, refreshInput(issued.RefreshToken))
	if err != nil || res == nil || res.Status != RefreshStatusRotated {
		t.Fatalf("expected issued secret to rotate, got %+v, %v", res, err)
	}
	if _, err := f.svc.Issue(ctx, IssueInput{UserID: "alice", AuthorizationID: "auth-1"}); err == nil {
		t.Fatal("expected duplicate issue to fail")
	}
}
