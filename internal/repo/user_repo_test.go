package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-budget-backend/internal/domain"
)

func seedUser(t *testing.T, id, email string, at time.Time) *domain.User {
	t.Helper()
	return &domain.User{ID: id, Email: email, PasswordHash: "h", Name: id, Role: domain.RoleUser, CreatedAt: at, UpdatedAt: at}
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	db := newTestDB(t, &domain.User{})
	ctx := context.Background()
	now := time.Now().UTC()

	if err := CreateUser(ctx, db, seedUser(t, "u1", "a@x.io", now)); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := CreateUser(ctx, db, seedUser(t, "u2", "a@x.io", now)); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestGetUser_ByIDAndEmail(t *testing.T) {
	db := newTestDB(t, &domain.User{})
	ctx := context.Background()
	_ = CreateUser(ctx, db, seedUser(t, "u1", "a@x.io", time.Now().UTC()))

	if u, err := GetUser(ctx, db, "u1"); err != nil || u.Email != "a@x.io" {
		t.Fatalf("GetUser: %+v %v", u, err)
	}
	if u, err := GetUserByEmail(ctx, db, "a@x.io"); err != nil || u.ID != "u1" {
		t.Fatalf("GetUserByEmail: %+v %v", u, err)
	}
	if _, err := GetUserByEmail(ctx, db, "b@x.io"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListUsers_OldestFirst(t *testing.T) {
	db := newTestDB(t, &domain.User{})
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = CreateUser(ctx, db, seedUser(t, "u2", "b@x.io", base.Add(time.Hour)))
	_ = CreateUser(ctx, db, seedUser(t, "u1", "a@x.io", base))

	got, err := ListUsers(ctx, db)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(got) != 2 || got[0].ID != "u1" || got[1].ID != "u2" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestUpdateUserRoleAndDelete(t *testing.T) {
	db := newTestDB(t, &domain.User{})
	ctx := context.Background()
	_ = CreateUser(ctx, db, seedUser(t, "u1", "a@x.io", time.Now().UTC()))

	if err := UpdateUserRole(ctx, db, "u1", domain.RoleAdmin); err != nil {
		t.Fatalf("UpdateUserRole: %v", err)
	}
	u, _ := GetUser(ctx, db, "u1")
	if u.Role != domain.RoleAdmin {
		t.Fatalf("expected admin, got %q", u.Role)
	}
	if err := UpdateUserRole(ctx, db, "ghost", domain.RoleAdmin); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := DeleteUser(ctx, db, "u1"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if err := DeleteUser(ctx, db, "u1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
