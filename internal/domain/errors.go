// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package domain holds small value types shared across the core: error
// kinds, configuration, and other dependency-free building blocks that
// both the repository layer and the service layer import.
package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way the HTTP layer needs to: which status
// code to answer with and whether a scheduler should retry.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindInvalidInput        Kind = "invalid_input"
	KindAlreadyResolved     Kind = "already_resolved"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindInternal            Kind = "internal"
	KindPoolExhausted       Kind = "pool_exhausted"
	KindIntegrity           Kind = "integrity"
	KindBackend             Kind = "backend"
)

// Error is a classified application error. Handlers translate it into the
// taxonomy's JSON shape; schedulers inspect Kind to decide whether the
// failure is worth a retry on the next tick.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error with an optional wrapped cause.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func NotFound(message string) *Error     { return NewError(KindNotFound, message, nil) }
func Conflict(message string) *Error     { return NewError(KindConflict, message, nil) }
func InvalidInput(message string) *Error { return NewError(KindInvalidInput, message, nil) }
func AlreadyResolved(message string) *Error {
	return NewError(KindAlreadyResolved, message, nil)
}
func UpstreamUnavailable(message string, cause error) *Error {
	return NewError(KindUpstreamUnavailable, message, cause)
}
func Internal(message string, cause error) *Error {
	return NewError(KindInternal, message, cause)
}

// AsError unwraps err into a *Error if possible, reporting ok=false for
// anything that wasn't already classified (callers should treat those as
// Internal).
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the classified Kind of err, defaulting to KindInternal for
// errors that were never wrapped with NewError.
func KindOf(err error) Kind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindInternal
}
