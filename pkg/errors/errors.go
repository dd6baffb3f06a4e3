package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an engine error for HTTP mapping and logging.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindExists
	KindInvalid
	KindNoChanges
	KindNoArchive
	KindCipher
)

// AppError carries a kind, a client-safe message and an optional cause.
type AppError struct {
	Kind    Kind   `json:"-"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error kind to a wire status code.
func (e *AppError) HTTPStatus() int {
	switch e.Kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindExists, KindInvalid, KindNoArchive:
		return http.StatusBadRequest
	case KindNoChanges:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new error of the given kind.
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// Newf creates a new error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new error of the given kind.
func Wrap(kind Kind, message string, err error) *AppError {
	return &AppError{Kind: kind, Message: message, Err: err}
}

// Internal wraps an unexpected server-side failure.
func Internal(message string, err error) *AppError {
	return Wrap(KindInternal, message, err)
}

// Unauthorized means no valid credential was presented.
func Unauthorized(message string) *AppError { return New(KindUnauthorized, message) }

// Forbidden means the credential is valid but policy denies the action.
func Forbidden(message string) *AppError { return New(KindForbidden, message) }

// ObjectNotFound means the named or numbered object does not exist.
func ObjectNotFound(message string) *AppError { return New(KindNotFound, message) }

// ObjectExists means a uniqueness constraint was violated on create.
func ObjectExists(message string) *AppError { return New(KindExists, message) }

// InvalidParameter means the request shape or values are unacceptable.
func InvalidParameter(message string) *AppError { return New(KindInvalid, message) }

// NoChanges means an update affected zero rows.
func NoChanges(message string) *AppError { return New(KindNoChanges, message) }

// NoArchive means an archive read was requested on an archive-less kind.
func NoArchive(message string) *AppError { return New(KindNoArchive, message) }

// CipherError means key lookup or decryption failed; always a server fault.
func CipherError(message string, err error) *AppError {
	return Wrap(KindCipher, message, err)
}

// IsKind reports whether err is an AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}
