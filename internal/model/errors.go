package model

import (
	"errors"
	"fmt"
)

// ErrorKind distinguishes the failures a caller must be able to tell apart.
type ErrorKind string

const (
	KindCourseNotFound       ErrorKind = "course_not_found"
	KindMappingNotFound      ErrorKind = "mapping_not_found"
	KindHandlerNotFound      ErrorKind = "handler_not_found"
	KindAttemptLimitExceeded ErrorKind = "attempt_limit_exceeded"
	KindValidation           ErrorKind = "validation"
	KindGenerationService    ErrorKind = "generation_service"
	KindPersistence          ErrorKind = "persistence"
)

// Sentinels for errors.Is. Every *Error matches the sentinel of its kind.
var (
	ErrCourseNotFound       = &Error{Kind: KindCourseNotFound, Message: "course not found"}
	ErrMappingNotFound      = &Error{Kind: KindMappingNotFound, Message: "assessment mapping not found"}
	ErrHandlerNotFound      = &Error{Kind: KindHandlerNotFound, Message: "assessment handler not found"}
	ErrAttemptLimitExceeded = &Error{Kind: KindAttemptLimitExceeded, Message: "attempt limit exceeded"}
	ErrValidation           = &Error{Kind: KindValidation, Message: "invalid submission"}
	ErrGenerationService    = &Error{Kind: KindGenerationService, Message: "question generation failed"}
	ErrPersistence          = &Error{Kind: KindPersistence, Message: "persistence failure"}
)

// Error is a classified failure with a human-readable message.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error returns the message, which already carries the text of any cause.
func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrValidation)
// works regardless of the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Errorf builds a classified error. A %w verb in format wraps the cause.
func Errorf(kind ErrorKind, format string, args ...any) error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Message: wrapped.Error(), Err: errors.Unwrap(wrapped)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if err
// is unclassified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether err is worth retrying: only persistence and
// generation failures are transient.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindPersistence, KindGenerationService:
		return true
	}
	return false
}
