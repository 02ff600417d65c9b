// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fault defines the error kinds shared across the engine and the
// propagation policy attached to each kind. Every component surfaces failures
// as a *fault.Error so callers can branch on the kind instead of matching
// message strings.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation policy decisions.
type Kind string

const (
	// Validation rejects malformed caller input. Surface to caller.
	Validation Kind = "validation"
	// NotFound reports a missing entity. Surface to caller.
	NotFound Kind = "not_found"
	// Authorization reports a denied action. Surface to caller.
	Authorization Kind = "authorization"
	// Conflict reports a lost write race. Retried locally up to a bound,
	// then surfaced.
	Conflict Kind = "conflict"
	// Configuration reports an invalid workflow or template configuration.
	Configuration Kind = "configuration"
	// ProviderUnavailable reports a provider that cannot be constructed or
	// reached. The orchestrator attempts a profile fallback before surfacing.
	ProviderUnavailable Kind = "provider_unavailable"
	// RateLimit reports an exhausted rate window.
	RateLimit Kind = "rate_limit"
	// Transient reports a failure worth retrying with backoff.
	Transient Kind = "transient"
	// Cancelled reports caller-initiated cancellation. Terminal.
	Cancelled Kind = "cancelled"
	// Timeout reports an exceeded deadline. Terminal.
	Timeout Kind = "timeout"
	// Internal is the catch-all. Logged with a correlation id and surfaced
	// sanitized.
	Internal Kind = "internal"
)

// Error carries a kind, a human-readable message, optional structured
// details, and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail attaches a structured detail and returns the error for chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the kind of err. Context cancellation and deadline errors
// map to Cancelled and Timeout; any other non-nil error is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Internal
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the caller may retry the failed operation.
// Conflict retries happen inside the store; Transient retries are the
// caller's with capped exponential backoff.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Transient, Conflict:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error kind to the equivalent HTTP status for transport
// adapters.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Validation:
		return http.StatusUnprocessableEntity
	case NotFound:
		return http.StatusNotFound
	case Authorization:
		return http.StatusForbidden
	case Conflict:
		return http.StatusConflict
	case Configuration:
		return http.StatusBadRequest
	case ProviderUnavailable:
		return http.StatusServiceUnavailable
	case RateLimit:
		return http.StatusTooManyRequests
	case Transient:
		return http.StatusServiceUnavailable
	case Cancelled:
		return 499 // client closed request
	case Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
