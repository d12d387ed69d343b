// Package failure carries Kind-tagged errors across the store, service,
// transaction pipeline and HTTP layers. Each layer wraps the cause it received
// and tags it with the kind the next layer switches on.
package failure

import (
	"errors"
	"net/http"
)

// Kind classifies a failure for commit/rollback and HTTP status decisions.
type Kind int

const (
	// KindFatal is the zero value so untagged errors are never mistaken for
	// client errors.
	KindFatal Kind = iota
	KindValidation
	KindNotFound
	KindStore
	KindDomain
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindStore:
		return "store"
	case KindDomain:
		return "domain"
	default:
		return "fatal"
	}
}

// Error is a tagged failure with an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New returns a failure without an underlying cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap tags err with kind. A nil err yields nil.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Cause: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindFatal when err carries no tag.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindFatal
}

// HasKind reports whether any failure in err's chain is tagged with kind.
func HasKind(err error, kind Kind) bool {
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Kind == kind {
			return true
		}
		err = fe.Cause
	}
	return false
}

// Message returns the client-safe message of the outermost failure. Untagged
// errors yield a generic text.
func Message(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return "internal server error"
}

// HTTPStatus maps a kind to the response status: client-caused failures are
// 4xx, everything else is 500.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// IsClientError reports whether err should be answered with a 4xx status.
func IsClientError(err error) bool {
	return HTTPStatus(KindOf(err)) < http.StatusInternalServerError
}
