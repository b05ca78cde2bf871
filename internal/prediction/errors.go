package prediction

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is returned when no stored prediction matches a lookup.
var ErrNotFound = errors.New("prediction not found")

// Kind classifies a generation failure.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindInvalidCredential Kind = "invalid_credential"
	KindQuotaExceeded     Kind = "quota_exceeded"
	KindContentFiltered   Kind = "content_filtered"
	KindTransient         Kind = "transient"
	KindModel             Kind = "model"
	KindParse             Kind = "parse"
	KindPersistence       Kind = "persistence"
	KindNotFound          Kind = "not_found"
)

// Retryable reports whether another attempt may succeed for this kind.
// Quota errors are not retried: the window rarely resets within the backoff.
func Retryable(k Kind) bool {
	switch k {
	case KindParse, KindTransient, KindModel:
		return true
	}
	return false
}

// Error is the typed failure returned by the generator and model clients.
type Error struct {
	Kind     Kind
	Op       string
	Attempts int
	Err      error
	// Details carries validation messages for KindValidation.
	Details []string
	// Result is set for KindPersistence: the prediction was produced but
	// could not be stored.
	Result any
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s after %d attempt(s)", msg, e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotFound) match a KindNotFound error.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Kind == KindNotFound
}

// KindForStatus maps an HTTP status from a model provider to a kind.
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindInvalidCredential
	case status == http.StatusPaymentRequired || status == http.StatusTooManyRequests:
		return KindQuotaExceeded
	case status == http.StatusRequestTimeout || status >= http.StatusInternalServerError:
		return KindTransient
	}
	return KindModel
}

// NewError builds an *Error of the given kind.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain. Errors that
// carry no kind are treated as KindModel; a *ShapeError is KindParse.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var se *ShapeError
	if errors.As(err, &se) {
		return KindParse
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	return KindModel
}

// ShapeError reports parsed JSON that does not fit the expected variant.
type ShapeError struct {
	Type   Type
	Reason string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s payload: %s", e.Type, e.Reason)
}
