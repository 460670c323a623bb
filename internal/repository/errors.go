// Package repository defines the error taxonomy shared by the record store
// backends, the ledger and the HTTP handlers, together with the MySQL and
// in-memory implementations of the record store.  Errors are sentinel
// values wrapped with context via fmt.Errorf("...: %w") so that callers can
// classify them with errors.Is.
package repository

import (
	"errors"
	"strings"
)

// ErrNotFound is returned when a user, product or purchase does not exist.
// Handlers translate it into HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrUnauthorized signals a missing or invalid session, or a session whose
// user no longer exists.  Handlers translate it into HTTP 401.
var ErrUnauthorized = errors.New("unauthorized")

// ErrForbidden is returned when the caller is authenticated but banned or
// lacks the admin role.  Handlers translate it into HTTP 403.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when a unit of work lost a race against a
// concurrent mutation (deadlock, lock wait timeout) after all retries, or
// when an idempotency reference was already used.  Handlers translate it
// into HTTP 409.
var ErrConflict = errors.New("conflict")

// ErrOutOfStock is returned by a purchase of a product with no stock left.
var ErrOutOfStock = errors.New("out of stock")

// ErrInsufficientBalance is returned when a debit would make the balance
// negative.
var ErrInsufficientBalance = errors.New("insufficient balance")

// ErrEmailExists is returned by user creation for a duplicate email.
var ErrEmailExists = errors.New("email already exists")

// ErrValidation classifies malformed or missing input.  Use
// *ValidationError to carry per-field details.
var ErrValidation = errors.New("validation failed")

// ErrBalanceOverflow is returned when a credit would push a balance past
// the largest amount a balance column can hold.  It is a validation error
// on the amount.
var ErrBalanceOverflow = &ValidationError{Fields: map[string]string{"amount": "would exceed the maximum balance"}}

// ValidationError describes which request fields failed validation.  It
// matches ErrValidation with errors.Is.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for f, m := range e.Fields {
		parts = append(parts, f+" "+m)
	}
	return strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrValidation) match a *ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
