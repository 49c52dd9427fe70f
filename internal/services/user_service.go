// Package services – UserService
//
// This file implements registration, login and the admin user operations.
// Passwords are hashed with bcrypt; tokens come from TokenService. Resolve
// turns a bearer token into an Actor and caches user roles in an expirable
// LRU so authenticated requests do not hit the users table every time.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tbourn/go-budget-backend/internal/domain"
	"github.com/tbourn/go-budget-backend/internal/repo"
)

// UserRepo defines the persistence contract required by UserService.
type UserRepo interface {
	CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error
	GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error)
	ListUsers(ctx context.Context, db *gorm.DB) ([]domain.User, error)
	UpdateUserRole(ctx context.Context, db *gorm.DB, id string, role domain.Role) error
	DeleteUser(ctx context.Context, db *gorm.DB, id string) error
}

// RegisterInput is the payload of a registration.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// Session is an authenticated user with a freshly issued token.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      *domain.User
}

// MinPasswordLen is the shortest accepted password.
const MinPasswordLen = 6

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

// UserService provides authentication and user administration.
type UserService struct {
	DB     *gorm.DB
	Repo   UserRepo
	Tokens *TokenService
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int

	roles *expirable.LRU[string, domain.Role]
}

// NewUserService constructs a UserService. cacheSize and cacheTTL bound the
// role cache used by Resolve.
func NewUserService(db *gorm.DB, r UserRepo, tokens *TokenService, cacheSize int, cacheTTL time.Duration) *UserService {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	return &UserService{
		DB:         db,
		Repo:       r,
		Tokens:     tokens,
		BcryptCost: bcrypt.DefaultCost,
		roles:      expirable.NewLRU[string, domain.Role](cacheSize, nil, cacheTTL),
	}
}

// Register creates a user with role "user" and returns a session for it.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	email := normalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)

	var ve ValidationError
	if !validEmail(email) {
		ve.add("email", "must be a valid email address")
	}
	if utf8.RuneCountInString(in.Password) < MinPasswordLen {
		ve.add("password", "must be at least 6 characters")
	} else if len(in.Password) > MaxPasswordBytes {
		ve.add("password", "must be at most 72 bytes")
	}
	if utf8.RuneCountInString(name) > 50 {
		ve.add("name", "must be at most 50 characters")
	}
	if err := ve.orNil(); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost())
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	u := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		Name:         name,
		Role:         domain.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Repo.CreateUser(ctx, s.DB, u); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return s.session(u)
}

// Login checks credentials and returns a session. Unknown e-mail and wrong
// password both yield ErrInvalidCredentials.
func (s *UserService) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.Repo.GetUserByEmail(ctx, s.DB, normalizeEmail(email))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return s.session(u)
}

// Me returns the user with the given ID.
func (s *UserService) Me(ctx context.Context, id string) (*domain.User, error) {
	u, err := s.Repo.GetUser(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// Resolve verifies a bearer token and returns the caller with its current
// role. Deleted users are rejected even while their token is unexpired.
func (s *UserService) Resolve(ctx context.Context, token string) (Actor, error) {
	id, err := s.Tokens.Parse(token)
	if err != nil {
		return Actor{}, err
	}
	if role, ok := s.roles.Get(id); ok {
		return Actor{UserID: id, Role: role}, nil
	}
	u, err := s.Repo.GetUser(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Actor{}, ErrUnauthenticated
	}
	if err != nil {
		return Actor{}, err
	}
	s.roles.Add(id, u.Role)
	return Actor{UserID: id, Role: u.Role}, nil
}

// List returns every user.
func (s *UserService) List(ctx context.Context) ([]domain.User, error) {
	return s.Repo.ListUsers(ctx, s.DB)
}

// UpdateRole changes the role of user id and returns the updated user.
func (s *UserService) UpdateRole(ctx context.Context, id string, role domain.Role) (*domain.User, error) {
	role = domain.Role(strings.ToLower(strings.TrimSpace(string(role))))
	if !role.Valid() {
		return nil, &ValidationError{Fields: []FieldError{{Field: "role", Message: "must be one of user, admin"}}}
	}
	if err := s.Repo.UpdateUserRole(ctx, s.DB, id, role); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	s.roles.Remove(id)
	return s.Me(ctx, id)
}

// Delete removes user id. Budgets the user owns are kept.
func (s *UserService) Delete(ctx context.Context, id string) error {
	if err := s.Repo.DeleteUser(ctx, s.DB, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	s.roles.Remove(id)
	return nil
}

func (s *UserService) session(u *domain.User) (*Session, error) {
	tok, exp, err := s.Tokens.Issue(u.ID)
	if err != nil {
		return nil, err
	}
	return &Session{Token: tok, ExpiresAt: exp, User: u}, nil
}

func (s *UserService) cost() int {
	if s.BcryptCost == 0 {
		return bcrypt.DefaultCost
	}
	return s.BcryptCost
}

// validate holds the e-mail rule shared with gin's request binding.
var validate = validator.New()

func validEmail(s string) bool { return validate.Var(s, "email") == nil }

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
