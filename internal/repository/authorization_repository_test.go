package repository

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/sandeepkv93/idp-session-core/internal/domain"
)

func TestAuthorizationRepositoryFindAndRevoke(t *testing.T) {
	db := newRepoDBForTest(t)
	repo := NewAuthorizationRepository(db)
	ctx := context.Background()

	a := &domain.Authorization{Subject: "alice", ApplicationID: "app-1", Scopes: "openid profile"}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("create authorization: %v", err)
	}
	if a.ID == "" || a.Status != domain.AuthorizationStatusValid {
		t.Fatalf("expected generated id and valid status, got %+v", a)
	}

	missing, err := repo.FindByID(ctx, "does-not-exist")
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for missing authorization, got %+v, %v", missing, err)
	}

	ok, err := repo.TryRevoke(ctx, a)
	if err != nil || !ok {
		t.Fatalf("expected revoke success, got %v, %v", ok, err)
	}
	got, err := repo.FindByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("find authorization: %v", err)
	}
	if got.Status != domain.AuthorizationStatusRevoked {
		t.Fatalf("expected revoked status, got %q", got.Status)
	}

	ok, err = repo.TryRevoke(ctx, &domain.Authorization{ID: "gone"})
	if err != nil || ok {
		t.Fatalf("expected false for missing authorization, got %v, %v", ok, err)
	}
}

func TestAuthorizationRepositoryTryRevokeStampsUpdatedAtFromNowFunc(t *testing.T) {
	db := newRepoDBForTest(t)
	ctx := context.Background()
	a := &domain.Authorization{Subject: "alice", ApplicationID: "app-1"}
	if err := NewAuthorizationRepository(db).Create(ctx, a); err != nil {
		t.Fatalf("create authorization: %v", err)
	}

	fixed := time.Date(2031, 1, 2, 3, 4, 5, 0, time.UTC)
	clocked := db.Session(&gorm.Session{NowFunc: func() time.Time { return fixed }})
	ok, err := NewAuthorizationRepository(clocked).TryRevoke(ctx, a)
	if err != nil || !ok {
		t.Fatalf("expected revoke success, got %v, %v", ok, err)
	}
	got, err := NewAuthorizationRepository(db).FindByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("find authorization: %v", err)
	}
	if !got.UpdatedAt.UTC().Equal(fixed) {
		t.Fatalf("expected updated_at from the gorm clock %s, got %s", fixed, got.UpdatedAt)
	}
}

func TestAuthorizationRepositoryFindBySubjectFiltersStatus(t *testing.T) {
	repo := NewAuthorizationRepository(newRepoDBForTest(t))
	ctx := context.Background()

	for _, a := range []*domain.Authorization{
		{Subject: "alice"},
		{Subject: "alice", Status: domain.AuthorizationStatusRevoked},
		{Subject: "bob"},
	} {
		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("create authorization: %v", err)
		}
	}

	valid, err := repo.FindBySubject(ctx, "alice", domain.AuthorizationStatusValid)
	if err != nil {
		t.Fatalf("find by subject: %v", err)
	}
	if len(valid) != 1 {
		t.Fatalf("expected 1 valid authorization, got %d", len(valid))
	}

	all, err := repo.FindBySubject(ctx, "alice", "")
	if err != nil {
		t.Fatalf("find all by subject: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 authorizations, got %d", len(all))
	}
}

func TestTokenRepositoryRevokeAndNearestExpiration(t *testing.T) {
	db := newRepoDBForTest(t)
	repo := NewTokenRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	soon := now.Add(10 * time.Minute)
	later := now.Add(time.Hour)
	for _, tok := range []*domain.OAuthToken{
		{AuthorizationID: "auth-1", Type: "refresh_token", ExpiresAt: &later},
		{AuthorizationID: "auth-1", Type: "access_token", ExpiresAt: &soon},
		{AuthorizationID: "auth-2", Type: "access_token", ExpiresAt: &soon},
	} {
		if err := repo.Create(ctx, tok); err != nil {
			t.Fatalf("create token: %v", err)
		}
	}

	nearest, err := repo.FindNearestExpiration(ctx, "auth-1")
	if err != nil {
		t.Fatalf("nearest expiration: %v", err)
	}
	if nearest == nil || !nearest.Equal(soon) {
		t.Fatalf("expected nearest %v, got %v", soon, nearest)
	}

	n, err := repo.RevokeByAuthorizationID(ctx, "auth-1")
	if err != nil {
		t.Fatalf("revoke tokens: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked tokens, got %d", n)
	}
	n, err = repo.RevokeByAuthorizationID(ctx, "auth-1")
	if err != nil || n != 0 {
		t.Fatalf("expected idempotent revoke to change 0 rows, got %d, %v", n, err)
	}

	nearest, err = repo.FindNearestExpiration(ctx, "auth-1")
	if err != nil || nearest != nil {
		t.Fatalf("expected no valid tokens left, got %v, %v", nearest, err)
	}
}

func TestApplicationRepositoryFindByID(t *testing.T) {
	repo := NewApplicationRepository(newRepoDBForTest(t))
	ctx := context.Background()

	app := &domain.Application{ClientID: "web", DisplayName: "Web Portal"}
	if err := repo.Create(ctx, app); err != nil {
		t.Fatalf("create application: %v", err)
	}
	got, err := repo.FindByID(ctx, app.ID)
	if err != nil || got == nil || got.DisplayName != "Web Portal" {
		t.Fatalf("unexpected application lookup: %+v, %v", got, err)
	}
	missing, err := repo.FindByID(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for missing application, got %+v, %v", missing, err)
	}
}

func TestAuditLogRepositoryListPaged(t *testing.T) {
	repo := NewAuditLogRepository(newRepoDBForTest(t))
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		entry := &domain.AuditLog{
			ID:        "evt-" + string(rune('a'+i)),
			EventType: domain.AuditRefreshTokenRotated,
			UserID:    strPtr("alice"),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.Create(ctx, entry); err != nil {
			t.Fatalf("create audit log: %v", err)
		}
	}
	if err := repo.Create(ctx, &domain.AuditLog{ID: "evt-z", EventType: domain.AuditSessionChainRevoked, UserID: strPtr("bob"), CreatedAt: base}); err != nil {
		t.Fatalf("create audit log: %v", err)
	}

	page, err := repo.ListPaged(ctx, AuditLogQuery{PageRequest: PageRequest{Page: 1, PageSize: 2}, UserID: "alice"})
	if err != nil {
		t.Fatalf("list paged: %v", err)
	}
	if page.Total != 5 || page.TotalPages != 3 || len(page.Items) != 2 {
		t.Fatalf("unexpected page: total=%d pages=%d items=%d", page.Total, page.TotalPages, len(page.Items))
	}
	if page.Items[0].ID != "evt-e" {
		t.Fatalf("expected newest first, got %s", page.Items[0].ID)
	}

	filtered, err := repo.ListPaged(ctx, AuditLogQuery{EventType: domain.AuditSessionChainRevoked})
	if err != nil {
		t.Fatalf("list by event type: %v", err)
	}
	if filtered.Total != 1 || filtered.Items[0].ID != "evt-z" {
		t.Fatalf("unexpected filtered page: %+v", filtered)
	}
}
