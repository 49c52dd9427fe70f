package handlers

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/tbourn/go-budget-backend/internal/domain"
	"github.com/tbourn/go-budget-backend/internal/services"
)

func newUserFake() *fakeUsers {
	return &fakeUsers{
		users: map[string]*domain.User{
			"u1": {ID: "u1", Email: "ana@example.com", Name: "Ana", Role: domain.RoleUser},
		},
		register: func(in services.RegisterInput) (*services.Session, error) {
			if in.Email == "taken@example.com" {
				return nil, services.ErrEmailTaken
			}
			return &services.Session{
				Token:     "tok",
				ExpiresAt: time.Now().Add(time.Hour),
				User:      &domain.User{ID: "u2", Email: in.Email, Name: in.Name, Role: domain.RoleUser},
			}, nil
		},
		login: func(email, pw string) (*services.Session, error) {
			if email == "ana@example.com" && pw == "secret1" {
				return &services.Session{Token: "tok", User: &domain.User{ID: "u1", Email: email}}, nil
			}
			return nil, services.ErrInvalidCredentials
		},
	}
}

func TestRegister_CreatedWithTokenAndLegacyName(t *testing.T) {
	r := newTestRouter(New(&fakeBudgets{}, &fakeDocs{}, newUserFake(), &fakeFiles{}), "", "")

	w := doJSON(t, r, http.MethodPost, "/auth/register", map[string]any{
		"email": "new@example.com", "password": "secret1", "nombre": "Nuevo",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp AuthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Token != "tok" || resp.User == nil || resp.User.Name != "Nuevo" {
		t.Fatalf("unexpected body: %+v", resp)
	}
}

func TestRegister_DuplicateEmailIsConflict(t *testing.T) {
	r := newTestRouter(New(&fakeBudgets{}, &fakeDocs{}, newUserFake(), &fakeFiles{}), "", "")

	w := doJSON(t, r, http.MethodPost, "/auth/register", map[string]any{
		"email": "taken@example.com", "password": "secret1",
	}, nil)
	if w.Code != http.StatusConflict || decodeError(t, w).Code != ErrCodeConflict {
		t.Fatalf("expected 409 conflict, got %d %s", w.Code, w.Body.String())
	}
}

func TestLogin(t *testing.T) {
	r := newTestRouter(New(&fakeBudgets{}, &fakeDocs{}, newUserFake(), &fakeFiles{}), "", "")

	w := doJSON(t, r, http.MethodPost, "/auth/login", map[string]any{"email": "ana@example.com", "password": "secret1"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/auth/login", map[string]any{"email": "ana@example.com", "password": "nope"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", w.Code)
	}
	if er := decodeError(t, w); er.Code != ErrCodeUnauthorized || er.Message != services.ErrInvalidCredentials.Error() {
		t.Fatalf("unexpected envelope: %+v", er)
	}

	w = doJSON(t, r, http.MethodPost, "/auth/login", map[string]any{"email": "ana@example.com"}, nil)
	if er := decodeError(t, w); w.Code != http.StatusBadRequest || er.Code != ErrCodeValidation || er.Errors[0].Field != "password" {
		t.Fatalf("missing password: %d %+v", w.Code, er)
	}
}

func TestMe(t *testing.T) {
	users := newUserFake()
	r := newTestRouter(New(&fakeBudgets{}, &fakeDocs{}, users, &fakeFiles{}), "u1", "user")

	w := doJSON(t, r, http.MethodGet, "/auth/me", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var u domain.User
	if err := json.Unmarshal(w.Body.Bytes(), &u); err != nil || u.Email != "ana@example.com" {
		t.Fatalf("bad body: %v %s", err, w.Body.String())
	}

	r = newTestRouter(New(&fakeBudgets{}, &fakeDocs{}, users, &fakeFiles{}), "ghost", "user")
	if w := doJSON(t, r, http.MethodGet, "/auth/me", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for vanished user, got %d", w.Code)
	}
}

func TestUserAdministration(t *testing.T) {
	users := newUserFake()
	r := newTestRouter(New(&fakeBudgets{}, &fakeDocs{}, users, &fakeFiles{}), "admin-1", "admin")

	w := doJSON(t, r, http.MethodGet, "/users", nil, nil)
	var list UsersResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil || w.Code != http.StatusOK || len(list.Users) != 1 {
		t.Fatalf("list: %d %v %s", w.Code, err, w.Body.String())
	}

	w = doJSON(t, r, http.MethodPut, "/users/u1/role", map[string]any{"role": "superuser"}, nil)
	if er := decodeError(t, w); w.Code != http.StatusBadRequest || er.Errors[0].Field != "role" {
		t.Fatalf("invalid role: %d %+v", w.Code, er)
	}

	w = doJSON(t, r, http.MethodPut, "/users/u1/role", map[string]any{"role": "admin"}, nil)
	if w.Code != http.StatusOK || users.users["u1"].Role != domain.RoleAdmin {
		t.Fatalf("role update: %d %s", w.Code, w.Body.String())
	}

	if w := doJSON(t, r, http.MethodPut, "/users/nobody/role", map[string]any{"role": "user"}, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	if w := doJSON(t, r, http.MethodDelete, "/users/u1", nil, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodDelete, "/users/u1", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("second delete: %d", w.Code)
	}
}
