package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeNotFound           Code = "NOT_FOUND"
	CodeForbidden          Code = "FORBIDDEN"
	CodeQuotaExceeded      Code = "QUOTA_EXCEEDED"
	CodeInvalidState       Code = "INVALID_STATE"
	CodeIntegrityViolation Code = "INTEGRITY_VIOLATION"
	CodeSignatureInvalid   Code = "SIGNATURE_INVALID"
	CodeUnknownPlan        Code = "UNKNOWN_PLAN"
	CodeInvalidRequest     Code = "INVALID_REQUEST"
	CodeConflict           Code = "CONFLICT"
	CodeInternal           Code = "INTERNAL_ERROR"
)

// Error is a coded application error with the HTTP status it maps to.
// Handlers render Code+Message verbatim; Err is for logs only.
type Error struct {
	Code     Code   `json:"code"`
	Message  string `json:"message"`
	HTTPCode int    `json:"-"`
	Err      error  `json:"-"`

	// QuotaExceeded details, surfaced to callers for user display.
	Limit int    `json:"limit,omitempty"`
	Plan  string `json:"plan,omitempty"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by code so sentinel-style checks work across wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func New(code Code, message string, httpCode int) *Error {
	return &Error{Code: code, Message: message, HTTPCode: httpCode}
}

func Wrap(err error, code Code, message string, httpCode int) *Error {
	return &Error{Code: code, Message: message, HTTPCode: httpCode, Err: err}
}

func NotFound(what string) *Error {
	return New(CodeNotFound, what+" not found", http.StatusNotFound)
}

func Forbidden(message string) *Error {
	return New(CodeForbidden, message, http.StatusForbidden)
}

// QuotaExceeded carries the numeric limit and plan name; the message is used
// verbatim for user display.
func QuotaExceeded(limit int, plan, what string) *Error {
	e := New(CodeQuotaExceeded,
		fmt.Sprintf("%s limit of %d reached on the %s plan", what, limit, plan),
		http.StatusForbidden)
	e.Limit = limit
	e.Plan = plan
	return e
}

func InvalidState(message string) *Error {
	return New(CodeInvalidState, message, http.StatusBadRequest)
}

func IntegrityViolation(message string) *Error {
	return New(CodeIntegrityViolation, message, http.StatusConflict)
}

func SignatureInvalid(err error) *Error {
	return Wrap(err, CodeSignatureInvalid, "webhook signature verification failed", http.StatusBadRequest)
}

func UnknownPlan(plan string) *Error {
	return New(CodeUnknownPlan, fmt.Sprintf("unknown plan %q", plan), http.StatusBadRequest)
}

func InvalidRequest(message string) *Error {
	return New(CodeInvalidRequest, message, http.StatusBadRequest)
}

func Conflict(message string) *Error {
	return New(CodeConflict, message, http.StatusConflict)
}

func Internal(err error) *Error {
	return Wrap(err, CodeInternal, "internal server error", http.StatusInternalServerError)
}
