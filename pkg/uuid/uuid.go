// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package uuid issues and checks the identifiers used for every identity row.

New values are version 7, so primary keys sort by creation time and keep the
PostgreSQL B-tree indexes append-mostly. Identifiers arriving from clients
(session ids, device ids in paths, alert ids) are checked with [Valid] before
they reach a query, which turns a malformed id into a 404 instead of a
driver error.
*/
package uuid

import "github.com/google/uuid"

// New returns a fresh UUIDv7 string. It panics only if the system entropy
// source fails, which no caller can recover from.
func New() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Valid reports whether s is a canonical hyphenated UUID of any version.
func Valid(s string) bool {
	if len(s) != 36 {
		return false
	}
	return uuid.Validate(s) == nil
}

// Normalize returns s in lower-case canonical form, or "" when s is not a UUID.
func Normalize(s string) string {
	if !Valid(s) {
		return ""
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return ""
	}
	return parsed.String()
}
