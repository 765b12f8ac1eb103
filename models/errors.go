package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrCancelled marks work abandoned because a newer request superseded it or
// its owner went away. It is never shown to the user.
var ErrCancelled = errors.New("cancelled")

// ErrNetwork indicates the backend could not be reached or answered with a
// server-side failure. Timeouts are reported the same way.
type ErrNetwork struct {
	Err error
}

func (e ErrNetwork) Error() string {
	return fmt.Errorf("network: %w", e.Err).Error()
}

func (e ErrNetwork) Unwrap() error {
	return e.Err
}

// ErrNotFound indicates an unknown book id.
type ErrNotFound struct {
	Err error
}

func (e ErrNotFound) Error() string {
	return fmt.Errorf("not_found: %w", e.Err).Error()
}

func (e ErrNotFound) Unwrap() error {
	return e.Err
}

// ValidationError reports malformed input field by field so the caller can
// show each message next to its field.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError returns an empty ValidationError ready for Add.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

// Add records a message for field, keeping the first one.
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; ok {
		return
	}
	e.Fields[field] = message
}

// Empty reports whether no field failed.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

// Field returns the message for field, if any.
func (e *ValidationError) Field(field string) string {
	if e == nil {
		return ""
	}
	return e.Fields[field]
}

func (e *ValidationError) Error() string {
	if e.Empty() {
		return "validation failed"
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		if name == "" {
			parts = append(parts, e.Fields[name])
			continue
		}
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// IsCancelled reports whether err signals cancellation rather than failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	var notFound ErrNotFound
	return errors.As(err, &notFound)
}

// ErrorKind returns a stable label for err, suitable for metrics and logs.
func ErrorKind(err error) string {
	if err == nil {
		return "unknown"
	}
	if IsCancelled(err) {
		return "cancelled"
	}
	var validation *ValidationError
	if errors.As(err, &validation) {
		return "validation"
	}
	if IsNotFound(err) {
		return "not_found"
	}
	var network ErrNetwork
	if errors.As(err, &network) {
		return "network"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "network"
	}
	return "other"
}
