// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package normalize canonicalizes user-supplied login identifiers.
//
// # Usage
//
// Emails and usernames are compared on their normalized form so that
// "Alice@Example.com" and "alice@example.com" cannot both be registered.
package normalize

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// folder is safe for concurrent use once constructed.
var folder = cases.Fold()

// Identifier returns the canonical form of an email or username.
//
// # Transformation Pipeline
//
// 1. Trims surrounding whitespace.
// 2. Normalizes to NFKC (compatibility forms such as fullwidth letters collapse).
// 3. Applies Unicode case folding.
// 4. Re-normalizes, since folding can produce non-NFKC sequences.
func Identifier(s string) string {
	result := strings.TrimSpace(s)
	result = norm.NFKC.String(result)
	result = folder.String(result)
	return norm.NFKC.String(result)
}

// IsEmail reports whether a raw login looks like an email address rather than a username.
func IsEmail(login string) bool {
	return strings.Contains(login, "@")
}
