package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error is a typed authentication failure. Code is stable and safe to log
// and return; Message is what callers are shown; Err keeps the underlying
// cause for logs only.
type Error struct {
	Code    string
	Message string
	Status  int
	Fields  []string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Code + ": " + e.Message
	if len(e.Fields) > 0 {
		msg += " (" + strings.Join(e.Fields, ", ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by code so wrapped copies still compare equal to the
// sentinel values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// WithFields returns a copy of e naming the offending request fields.
func (e *Error) WithFields(fields ...string) *Error {
	cp := *e
	cp.Fields = append([]string(nil), fields...)
	return &cp
}

// WithMessage returns a copy of e with a different user-facing message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

const (
	CodeInvalidCredentials   = "invalid_credentials"
	CodeAccountNotActive     = "account_not_active"
	CodeMissingToken         = "missing_token"
	CodeMalformedToken       = "malformed_token"
	CodeExpiredToken         = "expired_token"
	CodeUnknownSubject       = "unknown_subject"
	CodeMissingFields        = "missing_fields"
	CodeDuplicateProfile     = "duplicate_profile"
	CodeUnsafeRedirectTarget = "unsafe_redirect_target"
	CodeInvalidRole          = "invalid_role"
	CodeInvalidField         = "invalid_field"
	CodePendingNotFound      = "pending_identity_not_found"
	CodeUnknownProvider      = "unknown_provider"
	CodeProviderExchange     = "provider_exchange_failed"
	CodeEmailNotVerified     = "email_not_verified"
	CodeForbidden            = "forbidden"
	CodeInternal             = "internal_error"
)

var (
	ErrInvalidCredentials = &Error{Code: CodeInvalidCredentials, Message: "invalid email or password", Status: http.StatusUnauthorized}
	ErrAccountNotActive   = &Error{Code: CodeAccountNotActive, Message: "account is not active, please contact support", Status: http.StatusForbidden}

	ErrMissingToken   = &Error{Code: CodeMissingToken, Message: "unauthorized", Status: http.StatusUnauthorized}
	ErrMalformedToken = &Error{Code: CodeMalformedToken, Message: "unauthorized", Status: http.StatusUnauthorized}
	ErrExpiredToken   = &Error{Code: CodeExpiredToken, Message: "unauthorized", Status: http.StatusUnauthorized}
	ErrUnknownSubject = &Error{Code: CodeUnknownSubject, Message: "unauthorized", Status: http.StatusUnauthorized}

	// ErrInactiveSubject matches ErrAccountNotActive but renders like the
	// other token failures.
	ErrInactiveSubject = &Error{Code: CodeAccountNotActive, Message: "unauthorized", Status: http.StatusUnauthorized}

	ErrMissingFields        = &Error{Code: CodeMissingFields, Message: "missing required fields", Status: http.StatusBadRequest}
	ErrDuplicateProfile     = &Error{Code: CodeDuplicateProfile, Message: "an account for this email already exists", Status: http.StatusBadRequest}
	ErrUnsafeRedirectTarget = &Error{Code: CodeUnsafeRedirectTarget, Message: "redirect target is not allowed", Status: http.StatusBadRequest}
	ErrInvalidRole          = &Error{Code: CodeInvalidRole, Message: "role cannot be selected", Status: http.StatusBadRequest}
	ErrInvalidField         = &Error{Code: CodeInvalidField, Message: "invalid field value", Status: http.StatusBadRequest}

	ErrPendingNotFound  = &Error{Code: CodePendingNotFound, Message: "sign-in session expired, please sign in again", Status: http.StatusNotFound}
	ErrUnknownProvider  = &Error{Code: CodeUnknownProvider, Message: "unknown identity provider", Status: http.StatusBadRequest}
	ErrProviderExchange = &Error{Code: CodeProviderExchange, Message: "authentication with the identity provider failed", Status: http.StatusUnauthorized}
	ErrEmailNotVerified = &Error{Code: CodeEmailNotVerified, Message: "identity provider did not verify the email address", Status: http.StatusForbidden}

	ErrForbidden = &Error{Code: CodeForbidden, Message: "forbidden", Status: http.StatusForbidden}
	ErrInternal  = &Error{Code: CodeInternal, Message: "internal error", Status: http.StatusInternalServerError}
)

// AsError converts any error into an *Error. Errors that are not already
// typed become ErrInternal so no internal detail reaches the caller.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return ErrInternal.Wrap(err)
}
