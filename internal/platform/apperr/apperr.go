// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package apperr defines the centralized error handling framework for Agora.

It provides a rich error type that bridges the gap between low-level Domain/Storage
errors and high-level HTTP responses.

Architecture:

  - AppError: A struct containing machine-readable ErrorCode and user-friendly messages.
  - Taxonomy: Authentication and account-security outcomes carry dedicated codes
    (INVALID_CREDENTIALS, ACCOUNT_LOCKED, TOKEN_REPLAY...) so callers can branch on them.
  - Mapping: Explicit mapping from AppError to standard HTTP Status Codes.

Every error that leaves the service layer should be wrapped as an [AppError] to ensure
consistent API responses.
*/
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is the canonical error type for the Agora API.
//
// It carries an HTTP status code, a machine-readable code, a client-safe
// message, and an optional slice of field-level validation errors.
//
// # Security
//
// The Cause field is for server-side logging only and is never sent to clients
// to avoid leaking internal implementation details (e.g., SQL queries).
type AppError struct {
	// Code is a machine-readable error identifier (e.g. "NOT_FOUND", "TOKEN_REPLAY").
	Code string `json:"code"`
	// Message is a human-readable description safe to return to the client.
	Message string `json:"error"`
	// HTTPStatus is the HTTP response status code.
	HTTPStatus int `json:"-"`
	// Cause is the underlying error, used for server-side logging only.
	Cause error `json:"-"`
	// Details holds per-field validation errors for VALIDATION_ERROR responses.
	Details []FieldError `json:"details,omitempty"`
	// RetryAfter is set for throttling errors; zero otherwise.
	RetryAfter int `json:"-"`
}

// FieldError represents a single field-level validation failure.
type FieldError struct {
	// Field is the JSON field name that failed validation.
	Field string `json:"field"`
	// Message is the human-readable description of the failure.
	Message string `json:"message"`
}

// Error implements the error interface. It returns the client-safe message.
func (e *AppError) Error() string { return e.Message }

// Unwrap allows [errors.Is] and [errors.As] to traverse the cause chain.
//
// The chain stops at the outermost [AppError]: a cause that itself carries an
// AppError is kept for logs but hidden from matching, so Internal(NotFound(...))
// is INTERNAL_ERROR and nothing else.
func (e *AppError) Unwrap() error {
	var inner *AppError
	if errors.As(e.Cause, &inner) {
		return nil
	}
	return e.Cause
}

// Is reports whether target is an [*AppError] with the same Code. Only the
// receiver's own Code is compared.
//
// This lets callers compare against the package sentinels:
//
//	if errors.Is(err, apperr.ErrAccountLocked) { ... }
func (e *AppError) Is(target error) bool {
	other, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// WithCause returns a copy of the error carrying cause for server-side logs.
func (e *AppError) WithCause(cause error) *AppError {
	clone := *e
	clone.Cause = cause
	return &clone
}

// # Error Codes

const (
	CodeNotFound           = "NOT_FOUND"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeConflict           = "CONFLICT"
	CodeValidation         = "VALIDATION_ERROR"
	CodeRateLimited        = "RATE_LIMITED"
	CodeUnprocessable      = "UNPROCESSABLE"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"

	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeAccountLocked      = "ACCOUNT_LOCKED"
	CodeAccountUnavailable = "ACCOUNT_UNAVAILABLE"
	CodeChallengeRequired  = "CHALLENGE_REQUIRED"
	CodeOTPMismatch        = "OTP_MISMATCH"
	CodeOTPExhausted       = "OTP_EXHAUSTED"
	CodeTokenInvalid       = "TOKEN_INVALID"
	CodeTokenReplay        = "TOKEN_REPLAY"
	CodeIPBlocked          = "IP_BLOCKED"
)

// # Client Errors (4xx)

// NotFound creates a 404 [AppError] for a named resource.
//
// Example:
//
//	apperr.NotFound("Device") // Returns "Device not found"
func NotFound(resource string) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    resource + " not found",
		HTTPStatus: http.StatusNotFound,
	}
}

// Unauthorized creates a 401 [AppError].
func Unauthorized(msg string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    msg,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Forbidden creates a 403 [AppError].
func Forbidden(msg string) *AppError {
	return &AppError{
		Code:       CodeForbidden,
		Message:    msg,
		HTTPStatus: http.StatusForbidden,
	}
}

// Conflict creates a 409 [AppError] for duplicate or unique-constraint violations.
func Conflict(msg string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    msg,
		HTTPStatus: http.StatusConflict,
	}
}

// ValidationError creates a 400 [AppError] with optional per-field details.
func ValidationError(msg string, details ...FieldError) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    msg,
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
	}
}

// RateLimited creates a 429 [AppError].
func RateLimited(retryAfterSeconds int) *AppError {
	return &AppError{
		Code:       CodeRateLimited,
		Message:    fmt.Sprintf("Too many requests. Try again in %ds.", retryAfterSeconds),
		HTTPStatus: http.StatusTooManyRequests,
		RetryAfter: retryAfterSeconds,
	}
}

// Unprocessable creates a 422 [AppError] for semantically invalid input.
func Unprocessable(msg string) *AppError {
	return &AppError{
		Code:       CodeUnprocessable,
		Message:    msg,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// # Authentication Taxonomy
//
// Messages are deliberately generic. An unknown account and a wrong password
// produce the same INVALID_CREDENTIALS text, and a replayed refresh token reads
// exactly like an expired one.

const (
	msgInvalidCredentials = "Invalid login credentials"
	msgInvalidToken       = "Invalid or expired token"
)

// InvalidCredentials is returned for unknown accounts and wrong passwords alike.
func InvalidCredentials() *AppError {
	return &AppError{Code: CodeInvalidCredentials, Message: msgInvalidCredentials, HTTPStatus: http.StatusUnauthorized}
}

// AccountLocked is returned while an identity's lockout window is open.
func AccountLocked() *AppError {
	return &AppError{Code: CodeAccountLocked, Message: "Account is temporarily locked", HTTPStatus: http.StatusLocked}
}

// AccountUnavailable is returned for suspended, banned or deleted identities.
func AccountUnavailable() *AppError {
	return &AppError{Code: CodeAccountUnavailable, Message: "Account is not available", HTTPStatus: http.StatusForbidden}
}

// ChallengeRequired signals that a second factor or step-up must be completed first.
func ChallengeRequired() *AppError {
	return &AppError{Code: CodeChallengeRequired, Message: "Additional verification required", HTTPStatus: http.StatusForbidden}
}

// OTPMismatch is returned for a wrong one-time code that still has attempts left.
func OTPMismatch() *AppError {
	return &AppError{Code: CodeOTPMismatch, Message: "Verification code is incorrect", HTTPStatus: http.StatusUnauthorized}
}

// OTPExhausted is returned once a code has used all of its attempts.
func OTPExhausted() *AppError {
	return &AppError{Code: CodeOTPExhausted, Message: "Too many incorrect attempts, request a new code", HTTPStatus: http.StatusUnauthorized}
}

// TokenInvalid covers unknown, expired and revoked refresh tokens.
func TokenInvalid() *AppError {
	return &AppError{Code: CodeTokenInvalid, Message: msgInvalidToken, HTTPStatus: http.StatusUnauthorized}
}

// TokenReplay is raised when an already-rotated refresh token is presented again.
func TokenReplay() *AppError {
	return &AppError{Code: CodeTokenReplay, Message: msgInvalidToken, HTTPStatus: http.StatusUnauthorized}
}

// IPBlocked is returned for requests originating from a blocked address.
func IPBlocked() *AppError {
	return &AppError{Code: CodeIPBlocked, Message: "Access from this address is blocked", HTTPStatus: http.StatusForbidden}
}

// # Server Errors (5xx)

// Internal creates a 500 [AppError] wrapping an unexpected server-side error.
// The cause is stored for logging but is never sent to the client.
func Internal(cause error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "An unexpected error occurred",
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// ServiceUnavailable creates a 503 [AppError] for maintenance mode.
func ServiceUnavailable(msg string) *AppError {
	return &AppError{
		Code:       CodeServiceUnavailable,
		Message:    msg,
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// # Sentinels
//
// Comparison targets for [errors.Is]. Never return these directly; use the
// constructors so each error carries its own cause.

var (
	ErrNotFound           = &AppError{Code: CodeNotFound}
	ErrConflict           = &AppError{Code: CodeConflict}
	ErrValidation         = &AppError{Code: CodeValidation}
	ErrUnauthorized       = &AppError{Code: CodeUnauthorized}
	ErrForbidden          = &AppError{Code: CodeForbidden}
	ErrInvalidCredentials = &AppError{Code: CodeInvalidCredentials}
	ErrAccountLocked      = &AppError{Code: CodeAccountLocked}
	ErrAccountUnavailable = &AppError{Code: CodeAccountUnavailable}
	ErrChallengeRequired  = &AppError{Code: CodeChallengeRequired}
	ErrOTPMismatch        = &AppError{Code: CodeOTPMismatch}
	ErrOTPExhausted       = &AppError{Code: CodeOTPExhausted}
	ErrTokenInvalid       = &AppError{Code: CodeTokenInvalid}
	ErrTokenReplay        = &AppError{Code: CodeTokenReplay}
	ErrIPBlocked          = &AppError{Code: CodeIPBlocked}
	ErrRateLimited        = &AppError{Code: CodeRateLimited}
	ErrInternal           = &AppError{Code: CodeInternal}
)

// # Helpers

// IsAppError reports whether err (or any error in its chain) is an [*AppError].
func IsAppError(err error) bool {
	var ae *AppError
	return errors.As(err, &ae)
}

// As extracts the [*AppError] from err's chain. It returns nil if not found.
func As(err error) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

// CodeOf returns the Code of the first [*AppError] in err's chain, or
// INTERNAL_ERROR for anything else. Used to label metrics and audit rows.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if ae := As(err); ae != nil {
		return ae.Code
	}
	return CodeInternal
}
