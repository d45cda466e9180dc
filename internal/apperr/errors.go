// README: Application error taxonomy shared by services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind uint8

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindSignatureInvalid
	KindInsufficientFunds
	KindInvalidTransition
	KindInvalidOtp
	KindUpstream
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindSignatureInvalid:
		return "signature_invalid"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindInvalidOtp:
		return "invalid_otp"
	case KindUpstream:
		return "upstream_failure"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

// Error carries a stable code and message. Err is diagnostic context only.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by code so wrapped copies still compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code != "" && e.Code == t.Code && e.Kind == t.Kind
}

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// Wrap attaches cause to a copy of sentinel.
func Wrap(sentinel *Error, cause error) *Error {
	cp := *sentinel
	cp.Err = cause
	return &cp
}

func Validation(msg string) *Error { return New(KindValidation, "validation_error", msg) }

func NotFound(resource string) *Error {
	return New(KindNotFound, "not_found", resource+" not found")
}

func Conflict(msg string) *Error { return New(KindConflict, "conflict", msg) }

func Upstream(service string, cause error) *Error {
	return &Error{Kind: KindUpstream, Code: "upstream_failure", Msg: service + " unavailable", Err: cause}
}

func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Code: "internal_error", Msg: "internal error", Err: cause}
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the stable user-facing message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Msg
	}
	return "internal error"
}

func Code(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return "internal_error"
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindSignatureInvalid, KindInvalidTransition, KindInvalidOtp:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindInsufficientFunds:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }
func IsUpstream(err error) bool   { return KindOf(err) == KindUpstream }
