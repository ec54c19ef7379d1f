package auth

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrForbidden       = errors.New("auth: forbidden")
	ErrNotFound        = errors.New("auth: not found")
	ErrInvalidInput    = errors.New("auth: invalid input")
	ErrConflict        = errors.New("auth: conflict")
	// ErrDelivery marks a notification that could not be handed off.
	ErrDelivery = errors.New("auth: delivery failed")
)

// Error is a caller-facing failure. errors.Is matches Kind.
type Error struct {
	Kind    error
	Message string
	// Missing lists the permissions a forbidden principal lacks.
	Missing []string

	cause error
}

func (e *Error) Error() string { return e.Message }

// Unwrap exposes Kind and, when set, the underlying failure.
func (e *Error) Unwrap() []error {
	if e.cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.cause}
}

func newError(kind error, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

var (
	errInvalidCredentials = newError(ErrUnauthenticated, "Invalid credentials")
	errAccountSuspended   = newError(ErrUnauthenticated, "Account suspended")
	errInvalidToken       = newError(ErrUnauthenticated, "Invalid token")
	errInvalidResetToken  = newError(ErrUnauthenticated, "Invalid or expired token")
	errInvalidOldPassword = newError(ErrInvalidInput, "Invalid old password")
	errEmailNotFound      = newError(ErrNotFound, "Email not found")
	errResetDelivery      = newError(ErrDelivery, "Failed to send password reset email")
)

func forbiddenMissing(missing []string) *Error {
	return &Error{
		Kind:    ErrForbidden,
		Message: fmt.Sprintf("Missing required permissions: %s", strings.Join(missing, ", ")),
		Missing: missing,
	}
}

// Message returns the caller-facing text of err, or fallback when err
// carries none.
func Message(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return fallback
}
