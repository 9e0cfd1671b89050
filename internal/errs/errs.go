// Package errs gives the core's error taxonomy a concrete Go shape:
// tagged results instead of ad-hoc error strings, so callers can branch
// on Kind (map to an HTTP status, decide whether to retry, decide
// whether a failure is a first-class Build outcome or an infrastructure
// error) without string-matching.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error the way spec §7 enumerates them. BuildFailed
// is deliberately absent: a failed `make` is a persisted Build outcome,
// never wrapped as an error.
type Kind int

const (
	KindUnknown Kind = iota
	KindInputRejected
	KindNotFound
	KindTransientRemote
	KindStorageFailure
	KindCatalogConflict
	KindFatalInternal
)

func (k Kind) String() string {
	switch k {
	case KindInputRejected:
		return "input_rejected"
	case KindNotFound:
		return "not_found"
	case KindTransientRemote:
		return "transient_remote"
	case KindStorageFailure:
		return "storage_failure"
	case KindCatalogConflict:
		return "catalog_conflict"
	case KindFatalInternal:
		return "fatal_internal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so handlers can recover
// the classification with errors.As without parsing messages.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the Kind of err if it (or something it wraps) is an
// *Error, else KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// HTTPStatus maps an error's Kind to the status code spec §6/§7 call for.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInputRejected:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindCatalogConflict:
		return http.StatusCreated // idempotent success, not a conflict to the caller
	case KindTransientRemote, KindStorageFailure, KindFatalInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func NotFound(msg string) *Error          { return New(KindNotFound, msg) }
func InputRejected(msg string) *Error     { return New(KindInputRejected, msg) }
func TransientRemote(msg string, err error) *Error {
	return Wrap(KindTransientRemote, msg, err)
}
func StorageFailure(msg string, err error) *Error {
	return Wrap(KindStorageFailure, msg, err)
}
func FatalInternal(msg string, err error) *Error {
	return Wrap(KindFatalInternal, msg, err)
}
func CatalogConflict(msg string) *Error { return New(KindCatalogConflict, msg) }
