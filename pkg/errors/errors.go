package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so clones compare equal to their template.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict     = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss    = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	ErrPersistence         = New("PERSISTENCE_ERROR", http.StatusServiceUnavailable, "archive store unavailable")
	ErrArchiveInProgress   = New("ARCHIVE_IN_PROGRESS", http.StatusConflict, "an archive for this survey is already in progress")
	ErrRestoreFileMissing  = New("RESTORE_FILE_MISSING", http.StatusUnprocessableEntity, "archive file does not exist")
	ErrRestoreImportFailed = New("RESTORE_IMPORT_FAILED", http.StatusUnprocessableEntity, "archive could not be imported")
	ErrAliasConflict       = New("ALIAS_CONFLICT", http.StatusConflict, "alias already exists")
	ErrRestoreInProgress   = New("RESTORE_IN_PROGRESS", http.StatusConflict, "archive is already being restored")
)

var restoreCodes = map[string]struct{}{
	ErrRestoreFileMissing.Code:  {},
	ErrRestoreImportFailed.Code: {},
	ErrAliasConflict.Code:       {},
	ErrRestoreInProgress.Code:   {},
}

// IsRestoreError reports whether err is one of the expected, user-facing restore failures.
func IsRestoreError(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	_, ok := restoreCodes[e.Code]
	return ok
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
