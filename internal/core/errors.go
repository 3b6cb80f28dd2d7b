package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies errors surfaced to the user.
type ErrorKind string

const (
	// ErrAuthFailed is raised when the OAuth round trip or the device reports bad credentials
	ErrAuthFailed ErrorKind = "auth_failed"
	// ErrAccountIneligible is raised when the account tier cannot use remote playback
	ErrAccountIneligible ErrorKind = "account_ineligible"
	// ErrConnectionFailed is raised when the playback device cannot be initialized or connected
	ErrConnectionFailed ErrorKind = "connection_failed"
	// ErrPlaybackFailed is raised when a playback command is rejected
	ErrPlaybackFailed ErrorKind = "playback_failed"
	// ErrNotAuthorized is raised when a command runs without credential or eligibility
	ErrNotAuthorized ErrorKind = "not_authorized"
	// ErrQueueBoundary is raised when skipping past either end of the queue
	ErrQueueBoundary ErrorKind = "queue_boundary"
)

// Error is a transient, user-facing error.
type Error struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail"`
	Err    error     `json:"-"`
}

// NewError creates an error of the given kind.
func NewError(kind ErrorKind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// WrapError creates an error of the given kind carrying its cause.
func WrapError(kind ErrorKind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
