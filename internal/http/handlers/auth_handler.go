// Authentication and user administration handlers.
//
//   - POST   /auth/register     (public)
//   - POST   /auth/login        (public)
//   - GET    /auth/me           (authenticated)
//   - GET    /users             (admin)
//   - PUT    /users/{id}/role   (admin)
//   - DELETE /users/{id}        (admin)
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-budget-backend/internal/domain"
	"github.com/tbourn/go-budget-backend/internal/http/middleware"
	"github.com/tbourn/go-budget-backend/internal/services"
	"github.com/tbourn/go-budget-backend/internal/sysutil"
)

// UserService defines registration, login and user administration.
type UserService interface {
	Register(ctx context.Context, in services.RegisterInput) (*services.Session, error)
	Login(ctx context.Context, email, password string) (*services.Session, error)
	Me(ctx context.Context, id string) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	UpdateRole(ctx context.Context, id string, role domain.Role) (*domain.User, error)
	Delete(ctx context.Context, id string) error
}

// RegisterRequest is the JSON payload for creating an account.
type RegisterRequest struct {
	Email    string `json:"email" example:"ana@example.com"`
	Password string `json:"password" example:"s3cret!"`
	Name     string `json:"name" example:"Ana"`
	Nombre   string `json:"nombre,omitempty" swaggerignore:"true"`
}

// LoginRequest is the JSON payload for logging in.
type LoginRequest struct {
	Email    string `json:"email" binding:"required" example:"ana@example.com"`
	Password string `json:"password" binding:"required" example:"s3cret!"`
}

// RoleRequest is the JSON payload for changing a user's role.
type RoleRequest struct {
	Role string `json:"role" binding:"required,oneof=user admin" example:"admin"`
}

// AuthResponse carries a bearer token and the authenticated user.
type AuthResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *domain.User `json:"user"`
}

// UsersResponse lists accounts.
type UsersResponse struct {
	Users []domain.User `json:"users"`
}

func sessionResponse(s *services.Session) AuthResponse {
	return AuthResponse{Token: s.Token, ExpiresAt: s.ExpiresAt, User: s.User}
}

// Register godoc
// @ID          register
// @Summary     Register an account
// @Description Creates a user with role "user" and returns a bearer token.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.RegisterRequest  true  "Account"
// @Success     201  {object} handlers.AuthResponse
// @Failure     400  {object} handlers.ErrorResponse "Validation failed"
// @Failure     409  {object} handlers.ErrorResponse "Email already registered"
// @Router      /auth/register [post]
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	s, err := h.users.Register(c.Request.Context(), services.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     sysutil.FirstNonEmpty(req.Name, req.Nombre),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusCreated, sessionResponse(s))
}

// Login godoc
// @ID          login
// @Summary     Log in
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.LoginRequest  true  "Credentials"
// @Success     200  {object} handlers.AuthResponse
// @Failure     400  {object} handlers.ErrorResponse "Validation failed"
// @Failure     401  {object} handlers.ErrorResponse "Invalid email or password"
// @Router      /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	s, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, sessionResponse(s))
}

// Me godoc
// @ID          me
// @Summary     Current user
// @Tags        Auth
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object} domain.User
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Router      /auth/me [get]
func (h *Handlers) Me(c *gin.Context) {
	u, err := h.users.Me(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}

// ListUsers godoc
// @ID          listUsers
// @Summary     List users
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object} handlers.UsersResponse
// @Failure     403  {object} handlers.ErrorResponse "Admin only"
// @Router      /users [get]
func (h *Handlers) ListUsers(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if users == nil {
		users = []domain.User{}
	}
	ok(c, http.StatusOK, UsersResponse{Users: users})
}

// UpdateUserRole godoc
// @ID          updateUserRole
// @Summary     Change a user's role
// @Tags        Users
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string                true  "User ID (UUID)"  format(uuid)
// @Param       body  body  handlers.RoleRequest  true  "Role"
// @Success     200  {object} domain.User
// @Failure     400  {object} handlers.ErrorResponse "Invalid role"
// @Failure     403  {object} handlers.ErrorResponse "Admin only"
// @Failure     404  {object} handlers.ErrorResponse "User not found"
// @Router      /users/{id}/role [put]
func (h *Handlers) UpdateUserRole(c *gin.Context) {
	var req RoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	u, err := h.users.UpdateRole(c.Request.Context(), c.Param("id"), domain.Role(req.Role))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}

// DeleteUser godoc
// @ID          deleteUser
// @Summary     Delete a user
// @Tags        Users
// @Security    BearerAuth
// @Param       id   path  string  true  "User ID (UUID)"  format(uuid)
// @Success     204  {string} string "No Content"
// @Failure     403  {object} handlers.ErrorResponse "Admin only"
// @Failure     404  {object} handlers.ErrorResponse "User not found"
// @Router      /users/{id} [delete]
func (h *Handlers) DeleteUser(c *gin.Context) {
	if err := h.users.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	noContent(c)
}
