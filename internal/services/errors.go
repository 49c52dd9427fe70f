// Package services defines the business logic for budgets and users.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"strings"
)

// Budget-related errors.
var (
	// ErrBudgetNotFound indicates that the requested budget does not exist.
	ErrBudgetNotFound = errors.New("budget not found")

	// ErrForbidden is returned when the caller is neither the owner of the
	// budget nor an administrator. It is distinct from ErrBudgetNotFound:
	// existence is not hidden from unauthorized callers.
	ErrForbidden = errors.New("not allowed to modify this budget")

	// ErrUpstream wraps failures of the file, PDF or mail collaborators.
	ErrUpstream = errors.New("upstream collaborator failed")
)

// User and authentication errors.
var (
	// ErrUserNotFound indicates that the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrEmailTaken is returned on registration with an e-mail already in use.
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidCredentials covers both unknown e-mail and wrong password so
	// the two cases are indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrUnauthenticated is returned when a token is missing, malformed,
	// expired, or refers to a user that no longer exists.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// FieldError is one violated constraint on one input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every constraint an input violated, not only the
// first one.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// add records a violation on field.
func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// orNil returns e when it holds at least one violation.
func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
