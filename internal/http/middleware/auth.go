// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements bearer-token authentication and role gating. Token
// verification is delegated to a ResolveFunc so the middleware stays
// independent of the signing scheme and user storage.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Context keys for the authenticated identity.
const (
	ctxKeyUserID = "userID"
	ctxKeyRole   = "userRole"
)

// RoleAdmin is the role allowed through RequireAdmin.
const RoleAdmin = "admin"

// ResolveFunc verifies a raw bearer token and returns the identity it
// belongs to. Any error is reported to the client as 401.
type ResolveFunc func(ctx context.Context, token string) (userID, role string, err error)

// Authenticate requires an "Authorization: Bearer <token>" header, resolves it
// and stores the user id and role in the Gin context. The request-scoped
// logger is re-bound with user_id so later log lines carry it.
func Authenticate(resolve ResolveFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearer(c.GetHeader("Authorization"))
		if !ok {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		uid, role, err := resolve(c.Request.Context(), token)
		if err != nil || uid == "" {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}
		withUser(c, uid)
		c.Set(ctxKeyRole, role)
		c.Next()
	}
}

// RequireAdmin rejects authenticated non-admin callers with 403. It must run
// after Authenticate.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if Role(c) != RoleAdmin {
			abortJSON(c, http.StatusForbidden, "forbidden", "admin role required")
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated user id or "".
func UserID(c *gin.Context) string { return ctxString(c, ctxKeyUserID) }

// Role returns the authenticated user's role or "".
func Role(c *gin.Context) string { return ctxString(c, ctxKeyRole) }

func withUser(c *gin.Context, uid string) {
	c.Set(ctxKeyUserID, uid)
	l := LoggerFrom(c).With().Str("user_id", uid).Logger()
	c.Set(loggerKey, &l)
}

func bearer(h string) (string, bool) {
	const prefix = "bearer "
	h = strings.TrimSpace(h)
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(h[len(prefix):])
	return tok, tok != ""
}

func ctxString(c *gin.Context, key string) string {
	v, ok := c.Get(key)
	if !ok {
		return ""
	}
	return asString(v)
}

// abortJSON writes the standard error envelope and stops the chain.
func abortJSON(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"message":    msg,
	})
}
