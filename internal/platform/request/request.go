// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package requestutil reads bodies, path parameters and the authenticated caller
from incoming requests.

Every decoding failure maps to a VALIDATION_ERROR so handlers never have to
inspect encoding/json errors themselves.
*/
package requestutil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/platform/ctxutil"
	"github.com/taibuivan/agora/internal/platform/sec"
	"github.com/taibuivan/agora/internal/platform/validate"
	"github.com/taibuivan/agora/pkg/uuid"
)

// MaxBodyBytes caps JSON payloads. The largest legitimate body is a
// registration form, far below this.
const MaxBodyBytes = 64 << 10

/*
DecodeJSON reads exactly one JSON value from the body into target.

Returns:
  - error: validate.ErrInvalidJSON when the body is empty, malformed,
    larger than [MaxBodyBytes], or followed by trailing data
*/
func DecodeJSON(request *http.Request, target any) error {
	decoder := json.NewDecoder(io.LimitReader(request.Body, MaxBodyBytes+1))

	if err := decoder.Decode(target); err != nil {
		return validate.ErrInvalidJSON
	}
	if decoder.InputOffset() > MaxBodyBytes {
		return validate.ErrInvalidJSON
	}

	// A second value (or garbage) after the object is a client bug.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return validate.ErrInvalidJSON
	}
	return nil
}

// ID returns a path identifier. UUIDs come back in canonical lower case so
// they match stored keys regardless of how the client typed them.
func ID(request *http.Request, name string) string {
	raw := chi.URLParam(request, name)
	if normalized := uuid.Normalize(raw); normalized != "" {
		return normalized
	}
	return raw
}

// Param returns a path parameter verbatim.
func Param(request *http.Request, name string) string {
	return chi.URLParam(request, name)
}

/*
RequiredClaims ensures the request is authenticated and returns the user claims.

Returns:
  - *sec.AuthClaims: The authenticated user claims
  - error: apperr.Unauthorized if the request is not authenticated
*/
func RequiredClaims(request *http.Request) (*sec.AuthClaims, error) {
	claims := ctxutil.GetAuthUser(request.Context())
	if claims == nil {
		return nil, apperr.Unauthorized("Authentication required")
	}
	return claims, nil
}

// RequiredUserID returns the authenticated user's ID or apperr.Unauthorized.
func RequiredUserID(request *http.Request) (string, error) {
	claims, err := RequiredClaims(request)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}
