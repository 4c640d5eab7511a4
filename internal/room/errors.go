package room

import (
	"errors"
	"net/http"
	"path/filepath"
	"runtime"

	"talkroom/internal/models"
)

type Kind int

const (
	KindNotFound Kind = iota + 1
	KindForbidden
	KindSubmissionsDisabled
	KindInvalidRequest
	KindStorageFailure
	KindRateLimited
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindForbidden:
		return "Forbidden"
	case KindSubmissionsDisabled:
		return "SubmissionsDisabled"
	case KindInvalidRequest:
		return "InvalidRequest"
	case KindStorageFailure:
		return "StorageFailure"
	case KindRateLimited:
		return "RateLimited"
	case KindUnauthorized:
		return "Unauthorized"
	}
	return "Unknown"
}

func (k Kind) Status() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden, KindSubmissionsDisabled:
		return http.StatusForbidden
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnauthorized:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// Error is a failed request. Message, File and Line are diagnostics that only
// leave the server when the room is in debug mode.
type Error struct {
	Kind    Kind
	Message string
	Err     error
	File    string
	Line    int
}

var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrForbidden           = &Error{Kind: KindForbidden}
	ErrSubmissionsDisabled = &Error{Kind: KindSubmissionsDisabled}
	ErrInvalidRequest      = &Error{Kind: KindInvalidRequest}
	ErrStorageFailure      = &Error{Kind: KindStorageFailure}
)

// errorAt records the call site skip frames above itself.
func errorAt(skip int, kind Kind, message string, cause error) *Error {
	e := &Error{Kind: kind, Message: message, Err: cause}
	if _, file, line, ok := runtime.Caller(skip + 1); ok {
		e.File = filepath.Base(file)
		e.Line = line
	}
	return e
}

func newError(kind Kind, message string, cause error) *Error {
	return errorAt(1, kind, message, cause)
}

// NewError builds an error for callers outside this package, such as the
// http layer rejecting a malformed body.
func NewError(kind Kind, message string, cause error) *Error {
	return errorAt(1, kind, message, cause)
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on kind so that errors.Is(err, ErrForbidden) works for any
// forbidden error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Failure turns any error into a status code and envelope. Errors that are
// not *Error are reported as storage failures.
func Failure(err error, debug bool) (int, models.Envelope) {
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{Kind: KindStorageFailure, Err: err}
	}

	status := e.Kind.Status()
	envelope := models.Envelope{Status: status}
	if debug {
		envelope.Message = e.Error()
		envelope.File = e.File
		envelope.Line = e.Line
	}
	return status, envelope
}
