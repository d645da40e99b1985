package models

import (
	"errors"
	"fmt"
)

// ErrConfigNotFound is returned when a migration config cannot be located
// by name.
var ErrConfigNotFound = errors.New("migration config not found")

// ValidationError reports an invalid configuration or operation descriptor.
type ValidationError struct {
	Subject string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Subject, e.Reason)
}

// ScriptError is a fatal script failure. Scripts have no partial-failure
// mode: any runtime error aborts the mapping.
type ScriptError struct {
	Script string
	Line   int
	Err    error
}

func (e *ScriptError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("script %s:%d: %v", e.Script, e.Line, e.Err)
	}
	return fmt.Sprintf("script %s: %v", e.Script, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// ResolverError reports a failed reference resolution under the error
// fallback policy.
type ResolverError struct {
	Resolver string
	Key      string
}

func (e *ResolverError) Error() string {
	return fmt.Sprintf("resolver %s: no match for key %q", e.Resolver, e.Key)
}

// ApiErrorKind classifies remote API failures for retry decisions.
type ApiErrorKind string

const (
	ApiTransient      ApiErrorKind = "transient"
	ApiRateLimit      ApiErrorKind = "rate_limit"
	ApiAuthentication ApiErrorKind = "authentication"
	ApiPermission     ApiErrorKind = "permission"
	ApiNotFound       ApiErrorKind = "not_found"
	ApiFatal          ApiErrorKind = "fatal"
)

// ApiError wraps a remote environment failure with a retry classification.
type ApiError struct {
	Kind ApiErrorKind
	Op   string
	Err  error
}

func (e *ApiError) Error() string {
	return fmt.Sprintf("api %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *ApiError) Unwrap() error { return e.Err }

// Retryable reports whether retrying the same call can succeed without
// operator intervention.
func (e *ApiError) Retryable() bool {
	return e.Kind == ApiTransient || e.Kind == ApiRateLimit
}

// Halting reports whether the failure should stop the worker entirely
// rather than fail a single item.
func (e *ApiError) Halting() bool {
	return e.Kind == ApiAuthentication || e.Kind == ApiPermission || e.Kind == ApiFatal
}

// PersistenceError wraps a store failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
