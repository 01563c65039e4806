// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

// Package routererr defines the typed error kinds the router surfaces
// across authentication, display/window-manager/engine supervision, and
// the session proxy wire protocol. Callers that need to map an error to a
// response code (see internal/sessionproxy) switch on Kind rather than
// matching strings.
package routererr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a router error.
type Kind int

const (
	// KindInternal covers anything not otherwise classified.
	KindInternal Kind = iota
	KindAuthentication
	KindUserNotFound
	KindPam
	KindDisplay
	KindWindowManager
	KindEngine
	KindTimeout
	KindBadRequest
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "AuthenticationError"
	case KindUserNotFound:
		return "UserNotFoundError"
	case KindPam:
		return "PamError"
	case KindDisplay:
		return "DisplayError"
	case KindWindowManager:
		return "WindowManagerError"
	case KindEngine:
		return "EngineError"
	case KindTimeout:
		return "TimeoutError"
	case KindBadRequest:
		return "BadRequestError"
	default:
		return "InternalError"
	}
}

// Error is a router error carrying a Kind so callers can classify it
// without string matching.
type Error struct {
	kind    Kind
	message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

func (e *Error) Unwrap() error { return e.cause }

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// New creates an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// Wrap creates an Error of the given kind wrapping a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{kind: kind, message: message, cause: cause}
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and
// KindInternal otherwise.
func KindOf(err error) Kind {
	var routerErr *Error
	if errors.As(err, &routerErr) {
		return routerErr.kind
	}
	return KindInternal
}
