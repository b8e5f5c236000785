// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package validate provides a chainable Validator that collects field-level
// errors before returning a single [apperr.AppError].
//
// Besides the generic length and range rules it knows the identity formats:
// handles, bare e-mail addresses, E.164 phone numbers and passwords that
// bcrypt can hash without truncation.
package validate

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/taibuivan/agora/internal/platform/apperr"
)

// Identity format bounds.
const (
	UsernameMinLen = 3
	UsernameMaxLen = 32
	EmailMaxLen    = 320
	PasswordMinLen = 8
	// PasswordMaxBytes is bcrypt's input limit; longer secrets would be
	// silently truncated, so they are rejected instead.
	PasswordMaxBytes = 72
)

var (
	// usernameRegex: letters, digits, underscore and inner dots.
	usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)*$`)
	// phoneRegex matches an E.164 phone number.
	phoneRegex = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

	// ErrInvalidJSON is returned when the request body cannot be decoded.
	ErrInvalidJSON = apperr.ValidationError("Invalid JSON payload")
)

// Validator collects field-level validation errors. The zero value is ready
// to use; it is not safe for concurrent use.
type Validator struct {
	errs []apperr.FieldError
}

// Required fails if the trimmed value is empty.
func (v *Validator) Required(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.add(field, "This field is required")
	}
	return v
}

// MaxLen fails if the Unicode character count exceeds max.
func (v *Validator) MaxLen(field, value string, max int) *Validator {
	if utf8.RuneCountInString(value) > max {
		v.add(field, fmt.Sprintf("Maximum %d characters", max))
	}
	return v
}

// MinLen fails if the Unicode character count is below min.
func (v *Validator) MinLen(field, value string, min int) *Validator {
	if utf8.RuneCountInString(value) < min {
		v.add(field, fmt.Sprintf("Minimum %d characters", min))
	}
	return v
}

// Range fails if the value is outside [min, max].
func (v *Validator) Range(field string, value, min, max int) *Validator {
	if value < min || value > max {
		v.add(field, fmt.Sprintf("Must be between %d and %d", min, max))
	}
	return v
}

// Email accepts a bare address only. Display-name forms such as
// "Alice <alice@example.com>" parse as RFC 5322 but are not logins.
func (v *Validator) Email(field, value string) *Validator {
	parsed, err := mail.ParseAddress(value)
	switch {
	case err != nil || parsed.Address != value:
		v.add(field, "Must be a valid email address")
	case len(value) > EmailMaxLen:
		v.add(field, fmt.Sprintf("Maximum %d characters", EmailMaxLen))
	}
	return v
}

// Username checks the handle alphabet and length. Dots may separate
// segments but never lead, trail or repeat.
func (v *Validator) Username(field, value string) *Validator {
	length := utf8.RuneCountInString(value)
	switch {
	case length < UsernameMinLen || length > UsernameMaxLen:
		v.add(field, fmt.Sprintf("Must be %d to %d characters", UsernameMinLen, UsernameMaxLen))
	case !usernameRegex.MatchString(value):
		v.add(field, "May only contain letters, digits, underscores and single inner dots")
	}
	return v
}

// Phone fails if the value is not an E.164 phone number (e.g. +14155550100).
func (v *Validator) Phone(field, value string) *Validator {
	if !phoneRegex.MatchString(value) {
		v.add(field, "Must be a phone number in international format")
	}
	return v
}

// Password enforces the minimum length in characters and bcrypt's limit in bytes.
func (v *Validator) Password(field, value string) *Validator {
	switch {
	case strings.TrimSpace(value) == "":
		v.add(field, "This field is required")
	case utf8.RuneCountInString(value) < PasswordMinLen:
		v.add(field, fmt.Sprintf("Minimum %d characters", PasswordMinLen))
	case len(value) > PasswordMaxBytes:
		v.add(field, fmt.Sprintf("Maximum %d bytes", PasswordMaxBytes))
	}
	return v
}

// OneOf fails if the value is not in the allowed set.
func (v *Validator) OneOf(field, value string, allowed ...string) *Validator {
	for _, candidate := range allowed {
		if value == candidate {
			return v
		}
	}
	v.add(field, fmt.Sprintf("Must be one of: %s", strings.Join(allowed, ", ")))
	return v
}

// Err returns a VALIDATION_ERROR carrying every failed rule, or nil.
func (v *Validator) Err() error {
	if len(v.errs) == 0 {
		return nil
	}
	return apperr.ValidationError("Validation failed", v.errs...)
}

// HasErrors reports whether any rule has failed so far.
func (v *Validator) HasErrors() bool {
	return len(v.errs) > 0
}

func (v *Validator) add(field, message string) {
	v.errs = append(v.errs, apperr.FieldError{Field: field, Message: message})
}

// FieldError builds a single-field validation error.
func FieldError(field, message string) *apperr.AppError {
	return apperr.ValidationError("Validation failed", apperr.FieldError{Field: field, Message: message})
}
